package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/predict"
	"golang.org/x/sync/errgroup"
)

const rescoreConcurrencyDefault = 2

// Predictor scores a loan query.
type Predictor interface {
	Predict(ctx context.Context, q predict.LoanQuery) (*predict.Result, error)
}

// Store persists loan applications.
type Store interface {
	CreateApplication(ctx context.Context, a *data.Application) error
	ListApplications(ctx context.Context, userID string) ([]*data.Application, error)
	GetApplication(ctx context.Context, userID, id string) (*data.Application, error)
	ListOmittedApplications(ctx context.Context, userID string) ([]*data.Application, error)
	UpdatePrediction(ctx context.Context, a *data.Application) error
	UpdateStatus(ctx context.Context, userID, id, status string) error
}

// Recorder counts stored applications by prediction status.
type Recorder interface {
	ApplicationSubmitted(status string)
}

type noopRecorder struct{}

func (noopRecorder) ApplicationSubmitted(string) {}

// Scoring is the outcome of scoring at a call site that tolerates failure:
// either Result is set or Err explains why the prediction was omitted.
type Scoring struct {
	Result *predict.Result
	Err    error
}

func (s Scoring) Scored() bool {
	return s.Err == nil && s.Result != nil
}

func (s Scoring) Omitted() bool {
	return !s.Scored()
}

// Service applies the per-call-site failure policy around the predictor.
type Service struct {
	predictor Predictor
	store     Store
	recorder  Recorder
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func NewService(p Predictor, st Store, opts ...Option) *Service {
	s := &Service{
		predictor: p,
		store:     st,
		recorder:  noopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Preview scores the fields without storing anything. Any prediction
// failure is returned to the caller.
func (s *Service) Preview(ctx context.Context, f Fields) (*predict.Result, error) {
	if err := f.Validate(false); err != nil {
		return nil, err
	}
	return s.predictor.Predict(ctx, f.Query())
}

// Score runs the predictor and folds any failure into the returned Scoring.
func (s *Service) Score(ctx context.Context, q predict.LoanQuery) Scoring {
	res, err := s.predictor.Predict(ctx, q)
	if err != nil {
		return Scoring{Err: err}
	}
	return Scoring{Result: res}
}

// Submit stores a new application for userID. A failed prediction does not
// fail the submission: the record is stored with its prediction omitted.
func (s *Service) Submit(ctx context.Context, userID string, f Fields) (*data.Application, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if err := f.Validate(true); err != nil {
		return nil, err
	}

	q := f.Query()
	a := &data.Application{
		UserID:              userID,
		Name:                strings.TrimSpace(f.Name),
		Age:                 q.Age,
		Income:              q.Income,
		ExistingDebtPayment: q.ExistingDebtPayment,
		LoanAmount:          q.LoanAmount,
		LoanRate:            q.LoanRate,
		LoanTerm:            q.LoanTerm,
		HasDependents:       q.HasDependents,
		HasMortgage:         q.HasMortgage,
		LoanPurpose:         q.LoanPurpose,
		Status:              data.StatusPending,
	}

	sc := s.Score(ctx, q)
	applyScoring(a, sc)
	if sc.Omitted() {
		slog.Warn("storing application without prediction", "user", userID, "error", sc.Err)
	}

	if err := s.store.CreateApplication(ctx, a); err != nil {
		return nil, fmt.Errorf("saving application: %w", err)
	}
	s.recorder.ApplicationSubmitted(a.PredictionStatus)

	slog.Info("application submitted", "id", a.ID, "user", userID, "prediction", a.PredictionStatus)
	return a, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*data.Application, error) {
	return s.store.ListApplications(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id string) (*data.Application, error) {
	return s.store.GetApplication(ctx, userID, id)
}

// SetStatus moves the application to a new review status and returns it.
func (s *Service) SetStatus(ctx context.Context, userID, id, status string) (*data.Application, error) {
	if !data.Contains(data.ValidStatuses, status) {
		return nil, fmt.Errorf("%w: status must be one of %s", ErrValidation, strings.Join(data.ValidStatuses, ", "))
	}
	if err := s.store.UpdateStatus(ctx, userID, id, status); err != nil {
		return nil, err
	}
	return s.store.GetApplication(ctx, userID, id)
}

// RescoreResult summarizes a Rescore run.
type RescoreResult struct {
	Candidates int `json:"candidates" yaml:"candidates"`
	Scored     int `json:"scored" yaml:"scored"`
	Omitted    int `json:"omitted" yaml:"omitted"`
}

// Rescore retries the prediction for stored applications that have none.
// An empty userID covers all users. Prediction failures leave the record
// omitted with the latest reason; storage failures abort the run.
func (s *Service) Rescore(ctx context.Context, userID string, concurrency int) (*RescoreResult, error) {
	if concurrency <= 0 {
		concurrency = rescoreConcurrencyDefault
	}

	apps, err := s.store.ListOmittedApplications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing applications without prediction: %w", err)
	}

	var scored, omitted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, a := range apps {
		g.Go(func() error {
			sc := s.Score(gctx, queryOf(a))
			applyScoring(a, sc)
			if err := s.store.UpdatePrediction(gctx, a); err != nil {
				return fmt.Errorf("updating application %s: %w", a.ID, err)
			}
			if sc.Scored() {
				atomic.AddInt64(&scored, 1)
			} else {
				atomic.AddInt64(&omitted, 1)
				slog.Debug("application still without prediction", "id", a.ID, "error", sc.Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &RescoreResult{
		Candidates: len(apps),
		Scored:     int(scored),
		Omitted:    int(omitted),
	}
	slog.Info("rescore complete", "candidates", res.Candidates, "scored", res.Scored, "omitted", res.Omitted)
	return res, nil
}

func applyScoring(a *data.Application, sc Scoring) {
	if sc.Scored() {
		a.SetPrediction(sc.Result.CreditScore, sc.Result.DefaultStatus, sc.Result.DefaultProbability)
		return
	}
	a.OmitPrediction(sc.Err.Error())
}

func queryOf(a *data.Application) predict.LoanQuery {
	return predict.LoanQuery{
		Age:                 a.Age,
		Income:              a.Income,
		LoanAmount:          a.LoanAmount,
		LoanRate:            a.LoanRate,
		LoanTerm:            a.LoanTerm,
		ExistingDebtPayment: a.ExistingDebtPayment,
		LoanPurpose:         a.LoanPurpose,
		HasMortgage:         a.HasMortgage,
		HasDependents:       a.HasDependents,
	}
}
