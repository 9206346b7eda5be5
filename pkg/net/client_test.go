package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mchmarny/loanscore/pkg/loan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPClient(t *testing.T) {
	client := GetHTTPClient()
	assert.NotNil(t, client)
	assert.Equal(t, reqTransport, client.Transport)
}

func TestGetOAuthClient_SendsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	resp, err := GetOAuthClient(context.Background(), "test-token").Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer test-token", got)
}

func TestPrintHTTPResponse_Nil(t *testing.T) {
	// should not panic
	PrintHTTPResponse(nil)
}

func TestPrintHTTPResponse_WithResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       http.NoBody,
	}
	// should not panic
	PrintHTTPResponse(resp)
}

func TestNewClient_Invalid(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, "ftp://example.com", "t")
	assert.Error(t, err)

	_, err = NewClient(ctx, "http://localhost:8080", "")
	assert.Error(t, err)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), srv.URL+"/", "tok")
	require.NoError(t, err)
	return c
}

func TestClient_Preview(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/loans/predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var f loan.Fields
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f))
		assert.Equal(t, 35.0, f.Age.Value)

		w.Write([]byte(`{"success":true,"creditScore":700,"defaultStatus":1,"defaultProbability":0.6}`))
	})

	p, err := c.Preview(context.Background(), loan.Fields{Age: loan.Num(35)})
	require.NoError(t, err)
	assert.True(t, p.Success)
	assert.Equal(t, 700.0, p.CreditScore)
	assert.Equal(t, 1, p.DefaultStatus)
}

func TestClient_PreviewFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"prediction failed","kind":"launch_failed","details":"exec: python3 not found"}`))
	})

	_, err := c.Preview(context.Background(), loan.Fields{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "launch_failed", apiErr.Kind)
	assert.Contains(t, err.Error(), "python3 not found")
}

func TestClient_ListAndGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/loans":
			w.Write([]byte(`[{"id":"a1","name":"Jane","creditScore":650,"predictionStatus":"scored"},{"id":"a2","predictionStatus":"omitted"}]`))
		case "/api/loans/a1":
			w.Write([]byte(`{"id":"a1","name":"Jane","status":"pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"loan application not found"}`))
		}
	})
	ctx := context.Background()

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].CreditScore)
	assert.Nil(t, list[1].CreditScore)

	a, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", a.Name)

	_, err = c.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_SetStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/loans/a1/status", r.URL.Path)
		w.Write([]byte(`{"id":"a1","status":"approved"}`))
	})

	a, err := c.SetStatus(context.Background(), "a1", "approved")
	require.NoError(t, err)
	assert.Equal(t, "approved", a.Status)
}

func TestClient_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})

	_, err := c.List(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "too many requests", apiErr.Message)
}
