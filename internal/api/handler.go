package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Decider produces decisions. *engine.Engine implements it.
type Decider interface {
	Decide(ctx context.Context, tx *domain.Transaction) (*domain.Decision, error)
	DecideWithScores(ctx context.Context, tx *domain.Transaction, scores []domain.ModelScore) (*domain.Decision, error)
}

// AlertService is the alert lifecycle. *alerting.Lifecycle implements it.
type AlertService interface {
	Get(ctx context.Context, alertID string) (*domain.Alert, error)
	ListOpen(ctx context.Context, severity domain.Severity, limit int) ([]*domain.Alert, error)
	Escalate(ctx context.Context, alertID, reason string) (*domain.Alert, error)
	MarkReviewed(ctx context.Context, alertID, reviewerID, resolution string, confirmedFraud bool) (*domain.Alert, error)
}

// pinger is any dependency with a health check.
type pinger interface {
	Ping(ctx context.Context) error
}

const defaultAlertLimit = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  Decider
	txs     domain.TransactionStore
	alerts  AlertService
	probes  map[string]pinger
	version string
}

// NewHandler creates a new API handler. Extra dependencies to report in
// /health are added with WithProbe.
func NewHandler(engine Decider, txs domain.TransactionStore, alerts AlertService, version string) *Handler {
	h := &Handler{
		engine:  engine,
		txs:     txs,
		alerts:  alerts,
		probes:  make(map[string]pinger),
		version: version,
	}
	if txs != nil {
		h.probes["repository"] = txs
	}
	return h
}

// WithProbe adds a named health check.
func (h *Handler) WithProbe(name string, p pinger) *Handler {
	if p != nil {
		h.probes[name] = p
	}
	return h
}

// DecideRequest is the request body for POST /decide. Scores, when present,
// replace the configured scoring sources.
type DecideRequest struct {
	domain.Transaction
	Scores []domain.ModelScore `json:"scores,omitempty"`
}

// DecideResponse is the response for POST /decide.
type DecideResponse struct {
	Decision *domain.Decision        `json:"decision"`
	Status   domain.TransactionStatus `json:"status"`
	Error    string                   `json:"error,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// EscalateRequest is the request body for POST /alerts/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// ReviewRequest is the request body for POST /alerts/{id}/review.
type ReviewRequest struct {
	ReviewerID     string `json:"reviewerId"`
	Resolution     string `json:"resolution"`
	ConfirmedFraud bool   `json:"confirmedFraud"`
}

// Root identifies the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "sentra",
		"version": h.version,
	})
}

// Decide handles POST /decide requests.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	tx := &req.Transaction
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var (
		decision *domain.Decision
		err      error
	)
	if len(req.Scores) > 0 {
		decision, err = h.engine.DecideWithScores(ctx, tx, req.Scores)
	} else {
		decision, err = h.engine.Decide(ctx, tx)
	}

	if decision == nil {
		writeError(w, err)
		return
	}

	resp := DecideResponse{
		Decision: decision,
		Status:   domain.StatusFor(decision),
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	status := http.StatusOK
	if err != nil {
		// The decision stands; the client retries to complete persistence.
		slog.Error("decision not fully persisted",
			"tx_id", tx.ID,
			"error", err,
		)
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, resp)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	rec, err := h.txs.Get(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListAlerts returns open alerts, optionally filtered by ?severity=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	severity := domain.Severity(r.URL.Query().Get("severity"))
	alerts, err := h.alerts.ListOpen(r.Context(), severity, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// EscalateAlert raises an open alert by one severity band.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	alert, err := h.alerts.Escalate(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ReviewAlert records an analyst review.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	alert, err := h.alerts.MarkReviewed(r.Context(), chi.URLParam(r, "id"), req.ReviewerID, req.Resolution, req.ConfirmedFraud)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// Health returns the health status of the server.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string, len(h.probes))

	for name, p := range h.probes {
		if err := p.Ping(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case domain.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
