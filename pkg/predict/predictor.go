package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// OutcomeSuccess is the outcome label reported to observers for scored calls.
const OutcomeSuccess = "success"

// Observer is notified about every prediction call.
type Observer interface {
	PredictionStarted()
	PredictionFinished(outcome string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) PredictionStarted()                       {}
func (noopObserver) PredictionFinished(string, time.Duration) {}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMaxConcurrency limits how many scoring processes may run at once.
func WithMaxConcurrency(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.limit = int64(n)
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Predictor) {
		if o != nil {
			p.observer = o
		}
	}
}

// Predictor is the single entry point for scoring a loan. It is safe for
// concurrent use; calls share nothing but the process slot semaphore.
type Predictor struct {
	runner   Runner
	limit    int64
	slots    *semaphore.Weighted
	observer Observer
}

func NewPredictor(r Runner, opts ...Option) *Predictor {
	p := &Predictor{
		runner:   r,
		limit:    int64(runtime.NumCPU()),
		observer: noopObserver{},
	}
	for _, o := range opts {
		o(p)
	}
	p.slots = semaphore.NewWeighted(p.limit)
	return p
}

// Predict scores q by running the external model once. Every failure is
// returned as a *Failure; it is up to the caller to surface or tolerate it.
func (p *Predictor) Predict(ctx context.Context, q LoanQuery) (*Result, error) {
	start := time.Now()
	p.observer.PredictionStarted()

	res, err := p.predict(ctx, q)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = "error"
		if k := KindOf(err); k != 0 {
			outcome = k.String()
		}
		slog.Warn("prediction failed", "outcome", outcome, "error", err)
	} else {
		slog.Debug("prediction completed",
			"credit_score", res.CreditScore,
			"default_status", res.DefaultStatus,
			"default_probability", res.DefaultProbability,
		)
	}
	p.observer.PredictionFinished(outcome, time.Since(start))

	return res, err
}

func (p *Predictor) predict(ctx context.Context, q LoanQuery) (*Result, error) {
	req, err := Encode(q)
	if err != nil {
		return nil, err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, contextFailure(ctx, err)
	}
	defer p.slots.Release(1)

	out, err := p.runner.Run(ctx, req)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return nil, err
		}
		return nil, fmt.Errorf("error running scoring process: %w", err)
	}

	return interpret(out)
}

func interpret(out *Output) (*Result, error) {
	if out.ExitCode != 0 {
		return nil, exitedNonZero(out.ExitCode, string(bytes.TrimSpace(out.Stderr)))
	}
	if len(bytes.TrimSpace(out.Stdout)) == 0 {
		return nil, &Failure{Kind: KindEmptyOutput}
	}
	return Decode(out.Stdout)
}
