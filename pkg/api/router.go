package api

import (
	"context"
	"net/http"

	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/loan"
	"github.com/mchmarny/loanscore/pkg/predict"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoanService is the loan workflow the API exposes.
type LoanService interface {
	Preview(ctx context.Context, f loan.Fields) (*predict.Result, error)
	Submit(ctx context.Context, userID string, f loan.Fields) (*data.Application, error)
	List(ctx context.Context, userID string) ([]*data.Application, error)
	Get(ctx context.Context, userID, id string) (*data.Application, error)
	SetStatus(ctx context.Context, userID, id, status string) (*data.Application, error)
}

// Options configures the router. A nil Gatherer disables /metrics and a
// nil Limiter disables rate limiting.
type Options struct {
	Gatherer prometheus.Gatherer
	Limiter  *RateLimiter
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(svc LoanService, v Verifier, opts Options) http.Handler {
	h := &handlers{svc: svc}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/loans", h.submit)
	api.HandleFunc("GET /api/loans", h.list)
	api.HandleFunc("POST /api/loans/predict", h.preview)
	api.HandleFunc("GET /api/loans/{id}", h.get)
	api.HandleFunc("PATCH /api/loans/{id}/status", h.setStatus)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/api/", RequireAuth(v, api))

	var handler http.Handler = mux
	if opts.Limiter != nil {
		handler = opts.Limiter.Middleware(handler)
	}
	return LogRequests(handler)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
