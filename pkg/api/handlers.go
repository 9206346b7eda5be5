package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mchmarny/loanscore/pkg/data"
	"github.com/mchmarny/loanscore/pkg/loan"
	"github.com/mchmarny/loanscore/pkg/predict"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc LoanService
}

type predictionResponse struct {
	Success            bool    `json:"success"`
	CreditScore        float64 `json:"creditScore"`
	DefaultStatus      int     `json:"defaultStatus"`
	DefaultProbability float64 `json:"defaultProbability"`
}

type failureResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	var f loan.Fields
	if !decodeBody(w, r, &f) {
		return
	}

	res, err := h.svc.Preview(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, predictionResponse{
		Success:            true,
		CreditScore:        res.CreditScore,
		DefaultStatus:      res.DefaultStatus,
		DefaultProbability: res.DefaultProbability,
	})
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var f loan.Fields
	if !decodeBody(w, r, &f) {
		return
	}

	a, err := h.svc.Submit(r.Context(), UserFromContext(r.Context()), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*data.Application{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), UserFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := h.svc.SetStatus(r.Context(), UserFromContext(r.Context()), r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var f *predict.Failure
	switch {
	case errors.Is(err, loan.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, data.ErrNotFound):
		writeError(w, http.StatusNotFound, "loan application not found")
	case errors.As(err, &f):
		status := http.StatusBadGateway
		if f.Kind == predict.KindTimedOut {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, failureResponse{
			Error:   "prediction failed",
			Kind:    f.Kind.String(),
			Details: f.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
