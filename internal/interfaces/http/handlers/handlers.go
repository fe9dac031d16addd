// Package handlers implements the JSON API endpoints. Every error leaves
// through the shared envelope so clients always see the same shape.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/config"
	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/pipeline"
)

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID stores the request id for envelope rendering.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id, or empty when none was set.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Handlers holds the endpoint implementations.
type Handlers struct {
	cfg  config.Config
	ctrl *pipeline.Controller
}

// NewHandlers creates the handler set over the pipeline controller.
func NewHandlers(cfg config.Config, ctrl *pipeline.Controller) *Handlers {
	return &Handlers{cfg: cfg, ctrl: ctrl}
}

// envelope is the uniform error response body.
type envelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
}

// WriteError renders any error as the envelope with its mapped status code.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.AsError(err)
	WriteErrorStatus(w, r, e, errs.HTTPStatus(e.Kind))
}

// WriteErrorStatus renders the envelope with an explicit status code, for the
// cases where the kind's default mapping does not apply (e.g. 422).
func WriteErrorStatus(w http.ResponseWriter, r *http.Request, e *errs.Error, status int) {
	body := envelope{
		Error:     string(e.Kind),
		Message:   e.Message,
		Details:   e.Details,
		RequestID: RequestIDFrom(r.Context()),
	}
	if status >= 500 {
		log.Error().Err(e).Str("request_id", body.RequestID).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// Health reports liveness; exempt from authentication and rate limiting.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// NotFound is the catch-all for unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, errs.NotFound("Route %s not found", r.URL.Path))
}
