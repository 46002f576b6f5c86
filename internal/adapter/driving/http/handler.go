// Package httphandler is the HTTP driving adapter: the operator-facing
// REST API for linking, unlinking and inspecting identities.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/application"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Linker is the subset of the link service the API drives.
type Linker interface {
	StartLink(ctx context.Context, localID uuid.UUID) (model.DeviceCode, error)
	Unlink(ctx context.Context, localID uuid.UUID) error
	Disconnect(localID uuid.UUID)
	Check(ctx context.Context, localID uuid.UUID) (model.LinkStatus, error)
	Summary(localID uuid.UUID) (model.LoyaltySummary, error)
}

// MetricsSource exposes the current counter values.
type MetricsSource interface {
	Snapshot() application.MetricsSnapshot
}

// Pinger reports whether durable storage is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler serves the REST API.
type Handler struct {
	links   Linker
	metrics MetricsSource
	db      Pinger
	logger  *slog.Logger
}

// NewHandler creates a Handler. db may be nil, in which case health is
// always reported ok.
func NewHandler(links Linker, metrics MetricsSource, db Pinger, logger *slog.Logger) *Handler {
	return &Handler{links: links, metrics: metrics, db: db, logger: logger}
}

// NewServeMux registers every route and wraps the mux with request logging
// and panic recovery.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/identities/{id}/link", h.StartLink)
	mux.HandleFunc("DELETE /api/v1/identities/{id}/link", h.Unlink)
	mux.HandleFunc("GET /api/v1/identities/{id}", h.CheckLink)
	mux.HandleFunc("GET /api/v1/identities/{id}/loyalty", h.Loyalty)
	mux.HandleFunc("POST /api/v1/identities/{id}/disconnect", h.Disconnect)
	mux.HandleFunc("GET /api/v1/metrics", h.Metrics)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so the logged status reflects the 500.
	return requestLogging(logger, panicRecovery(logger, mux))
}

// localID parses the {id} path segment, writing a 400 on failure.
func localID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity id")
		return uuid.Nil, false
	}
	return id, true
}

// StartLink begins a device authorization for the identity and returns the
// code the user must enter.
func (h *Handler) StartLink(w http.ResponseWriter, r *http.Request) {
	id, ok := localID(w, r)
	if !ok {
		return
	}

	code, err := h.links.StartLink(r.Context(), id)
	if err != nil {
		h.fail(w, "start link", id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toDeviceCodeResponse(code))
}

// Unlink removes the identity's link.
func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	id, ok := localID(w, r)
	if !ok {
		return
	}

	if err := h.links.Unlink(r.Context(), id); err != nil {
		h.fail(w, "unlink", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckLink reports the identity's link status.
func (h *Handler) CheckLink(w http.ResponseWriter, r *http.Request) {
	id, ok := localID(w, r)
	if !ok {
		return
	}

	status, err := h.links.Check(r.Context(), id)
	if err != nil {
		h.fail(w, "check link", id, err)
		return
	}

	writeJSON(w, http.StatusOK, toLinkStatusResponse(status))
}

// Loyalty returns the stored loyalty summary.
func (h *Handler) Loyalty(w http.ResponseWriter, r *http.Request) {
	id, ok := localID(w, r)
	if !ok {
		return
	}

	summary, err := h.links.Summary(id)
	if err != nil {
		h.fail(w, "loyalty summary", id, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoyaltyResponse(summary))
}

// Disconnect drops session-scoped state for the identity.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := localID(w, r)
	if !ok {
		return
	}

	h.links.Disconnect(id)
	w.WriteHeader(http.StatusNoContent)
}

// Metrics returns the counters accumulated since the last maintenance run.
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// Health reports service liveness and storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("health check ping failed", "error", err)
			resp.Status = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// fail maps a service error onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, op string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, driven.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "identity not found")
	case errors.Is(err, driven.ErrNotLinked):
		writeError(w, http.StatusConflict, "identity not linked")
	case errors.Is(err, driven.ErrPlatformNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "platform credentials not configured")
	case driven.KindOf(err) == driven.KindRateLimited:
		if wait, ok := driven.RetryAfterOf(err); ok && wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())))
		}
		writeError(w, http.StatusTooManyRequests, "platform rate limit reached")
	case errors.Is(err, driven.ErrRefreshFailed), driven.KindOf(err) != 0:
		h.logger.Warn(op+" failed", "local_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "platform request failed")
	default:
		h.logger.Error(op+" failed", "local_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
