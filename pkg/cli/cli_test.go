package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mchmarny/loanscore/pkg/auth"
	"github.com/mchmarny/loanscore/pkg/config"
	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/loan"
	"github.com/mchmarny/loanscore/pkg/predict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const (
	helperEnvVar  = "LOANSCORE_WANT_HELPER_PROCESS"
	helperModeVar = "LOANSCORE_HELPER_MODE"

	testApplication = `{
		"name": "Jane Doe",
		"age": 35,
		"income": 85000,
		"existingDebtPayment": 450,
		"loanAmount": 25000,
		"loanRate": 7.5,
		"loanTerm": 36,
		"loanPurpose": "Home",
		"hasDependents": true
	}`
)

// TestHelperProcess stands in for the scoring model when re-executed.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnvVar) != "1" {
		return
	}
	io.ReadAll(os.Stdin)
	if os.Getenv(helperModeVar) == "fail" {
		fmt.Fprint(os.Stderr, "model file not found")
		os.Exit(1)
	}
	fmt.Println(`{"success":true,"creditScore":712.5,"defaultStatus":0,"defaultProbability":0.12}`)
	os.Exit(0)
}

func writeTestConfig(t *testing.T, mode string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)

	cfg := config.Default(dir)
	cfg.Model.Command = os.Args[0]
	cfg.Model.Args = []string{"-test.run=^TestHelperProcess$"}
	cfg.Model.Env = append(os.Environ(), helperEnvVar+"=1", helperModeVar+"="+mode)
	cfg.Model.Timeout = 10 * time.Second
	require.NoError(t, config.Save(path, cfg))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(context.Background(), append([]string{appName}, args...))
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestPredict_File(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")
	f := writeFile(t, "loan.json", testApplication)

	out, err := runApp(t, "--config", cfg, "predict", "--file", f)
	require.NoError(t, err)

	var res predict.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 712.5, res.CreditScore)
	assert.Equal(t, 0.12, res.DefaultProbability)
}

func TestPredict_FlagsYAML(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")

	out, err := runApp(t, "--config", cfg, "--format", "yaml", "predict",
		"--age", "35", "--income", "85000", "--amount", "25000",
		"--rate", "7.5", "--term", "36", "--purpose", "Car", "--mortgage")
	require.NoError(t, err)
	assert.Contains(t, out, "creditScore: 712.5")
}

func TestPredict_ModelFailure(t *testing.T) {
	cfg := writeTestConfig(t, "fail")
	f := writeFile(t, "loan.json", testApplication)

	_, err := runApp(t, "--config", cfg, "predict", "--file", f)
	require.Error(t, err)
	assert.True(t, predict.IsKind(err, predict.KindExitedNonZero))
	assert.Contains(t, err.Error(), "model file not found")
}

func TestPredict_Invalid(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")

	_, err := runApp(t, "--config", cfg, "predict", "--age", "35")
	assert.ErrorIs(t, err, loan.ErrValidation)
}

func TestUnsupportedFormat(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")
	_, err := runApp(t, "--config", cfg, "--format", "xml", "predict")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	keyring.MockInit()
	cfg := writeTestConfig(t, "fixed")

	out, err := runApp(t, "--config", cfg, "token", "--user", "u1", "--ttl", "1h")
	require.NoError(t, err)

	secret, err := (&auth.SecretStore{Dir: filepath.Dir(cfg)}).Load()
	require.NoError(t, err)
	tm, err := auth.NewTokenManager(secret, "")
	require.NoError(t, err)

	user, err := tm.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
}

func TestRescore(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")
	dsn := filepath.Join(t.TempDir(), "rescore.db")
	ctx := context.Background()

	st, err := data.Open(ctx, data.DriverSQLite, dsn)
	require.NoError(t, err)
	a := &data.Application{
		UserID:      "u1",
		Name:        "Jane Doe",
		Age:         35,
		Income:      85000,
		LoanAmount:  25000,
		LoanRate:    7.5,
		LoanTerm:    36,
		LoanPurpose: "Home",
	}
	a.OmitPrediction("no output from scoring process")
	require.NoError(t, st.CreateApplication(ctx, a))
	require.NoError(t, st.Close())

	out, err := runApp(t, "--config", cfg, "rescore", "--db", dsn, "--concurrency", "1")
	require.NoError(t, err)

	var res loan.RescoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, loan.RescoreResult{Candidates: 1, Scored: 1}, res)

	st, err = data.Open(ctx, data.DriverSQLite, dsn)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.GetApplication(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.True(t, got.HasPrediction())
}

func TestRemote(t *testing.T) {
	cfg := writeTestConfig(t, "fixed")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/loans":
			w.Write([]byte(`[{"id":"a1","name":"Jane Doe","status":"pending","predictionStatus":"omitted"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/loans/predict":
			w.Write([]byte(`{"success":true,"creditScore":650,"defaultStatus":1,"defaultProbability":0.7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"loan application not found"}`))
		}
	}))
	defer srv.Close()

	out, err := runApp(t, "--config", cfg, "remote", "--url", srv.URL, "--token", "tok", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "a1"`)

	f := writeFile(t, "loan.yaml", "age: 35\nincome: 85000\nloanAmount: 25000\nloanRate: 7.5\nloanTerm: 36\nloanPurpose: Home\n")
	out, err = runApp(t, "--config", cfg, "remote", "--url", srv.URL, "--token", "tok", "preview", "--file", f)
	require.NoError(t, err)
	assert.Contains(t, out, `"creditScore": 650`)

	_, err = runApp(t, "--config", cfg, "remote", "--url", srv.URL, "--token", "tok", "get", "missing")
	assert.Error(t, err)

	_, err = runApp(t, "--config", cfg, "remote", "--url", srv.URL, "--token", "tok", "get")
	assert.Error(t, err)
}

func TestReadFields(t *testing.T) {
	f, err := readFields("")
	require.NoError(t, err)
	assert.False(t, f.Age.Set)

	_, err = readFields(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.json", `{"age":`)
	_, err = readFields(bad)
	assert.Error(t, err)

	alias := writeFile(t, "alias.json", `{"existingDebtPayments": "300"}`)
	f, err = readFields(alias)
	require.NoError(t, err)
	assert.Equal(t, 300.0, f.Query().ExistingDebtPayment)
}
