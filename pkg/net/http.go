package net

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/loan"
)

const maxErrorBody = 64 << 10

// ErrNotFound is returned when the server reports a missing application.
var ErrNotFound = errors.New("loan application not found")

// APIError is a non-2xx response from the loanscore server.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Prediction is the preview response.
type Prediction struct {
	Success            bool    `json:"success" yaml:"success"`
	CreditScore        float64 `json:"creditScore" yaml:"creditScore"`
	DefaultStatus      int     `json:"defaultStatus" yaml:"defaultStatus"`
	DefaultProbability float64 `json:"defaultProbability" yaml:"defaultProbability"`
}

// Client calls a running loanscore API server.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(ctx context.Context, baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	if token == "" {
		return nil, errors.New("token required")
	}
	return &Client{
		base: u,
		http: GetOAuthClient(ctx, token),
	}, nil
}

func (c *Client) Preview(ctx context.Context, f loan.Fields) (*Prediction, error) {
	var p Prediction
	if err := c.do(ctx, http.MethodPost, "/api/loans/predict", f, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Submit(ctx context.Context, f loan.Fields) (*data.Application, error) {
	var a data.Application
	if err := c.do(ctx, http.MethodPost, "/api/loans", f, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) List(ctx context.Context) ([]*data.Application, error) {
	var list []*data.Application
	if err := c.do(ctx, http.MethodGet, "/api/loans", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Get(ctx context.Context, id string) (*data.Application, error) {
	var a data.Application
	if err := c.do(ctx, http.MethodGet, "/api/loans/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (*data.Application, error) {
	var a data.Application
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/loans/"+url.PathEscape(id)+"/status", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("error creating %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", clientAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req) //nolint:gosec // G704: URL from configured server, not user input
	if err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	PrintHTTPResponse(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding content: %w", err)
	}
	return nil
}
