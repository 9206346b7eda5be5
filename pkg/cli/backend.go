package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/loanscore/pkg/auth"
	"github.com/mchmarny/loanscore/pkg/config"
	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/loan"
	"github.com/mchmarny/loanscore/pkg/metrics"
	"github.com/mchmarny/loanscore/pkg/predict"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// backend is the wired loan workflow shared by the local commands.
type backend struct {
	store     *data.Store
	collector *metrics.Collector
	service   *loan.Service
}

func (b *backend) Close() error {
	return b.store.Close()
}

func newPredictor(m config.Model, obs predict.Observer) *predict.Predictor {
	runner := predict.NewProcessRunner(predict.ProcessConfig{
		Command:        m.Command,
		Args:           m.Args,
		Dir:            m.WorkDir,
		Env:            m.Env,
		Timeout:        m.Timeout,
		MaxOutputBytes: m.MaxOutputBytes,
	})
	return predict.NewPredictor(runner,
		predict.WithMaxConcurrency(m.MaxConcurrency),
		predict.WithObserver(obs))
}

// openBackend validates cfg, opens the store, and wires the predictor with
// metrics registered on reg.
func openBackend(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	collector := metrics.NewCollector(reg)
	if err := collector.Register(); err != nil {
		return nil, err
	}

	store, err := data.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	svc := loan.NewService(newPredictor(cfg.Model, collector), store, loan.WithRecorder(collector))
	return &backend{
		store:     store,
		collector: collector,
		service:   svc,
	}, nil
}

func newTokenManager(s *appState) (*auth.TokenManager, error) {
	secret, err := (&auth.SecretStore{Dir: s.dir()}).Load()
	if err != nil {
		return nil, fmt.Errorf("loading signing secret: %w", err)
	}
	return auth.NewTokenManager(secret, s.cfg.Auth.Issuer)
}

// readFields loads loan fields from a JSON or YAML file, or JSON on stdin for "-".
func readFields(path string) (loan.Fields, error) {
	var f loan.Fields
	if path == "" {
		return f, nil
	}

	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return f, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &f)
	default:
		err = json.Unmarshal(b, &f)
	}
	if err != nil {
		return f, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}
