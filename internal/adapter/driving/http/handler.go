// Package httphandler is the HTTP driving adapter: ingestion, metrics and
// listing endpoints plus the live build stream.
package httphandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

const (
	maxIngestBody    = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
	storePingTimeout = 2 * time.Second
)

// Options tunes the handler.
type Options struct {
	Providers      []model.Provider // Providers accepted on /ingest/{provider}.
	DefaultWindow  time.Duration    // Summary window when the query omits one.
	WriteTimeout   time.Duration    // Deadline for each write to a live stream.
	AllowedOrigins []string         // CORS and WebSocket origin allow-list.
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	ingest      *application.IngestService
	metrics     *application.MetricsService
	store       driven.BuildStore
	alerts      *application.AlertDispatcher
	broadcaster *application.Broadcaster
	opts        Options
	providers   map[model.Provider]bool
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	ingest *application.IngestService,
	metrics *application.MetricsService,
	store driven.BuildStore,
	alerts *application.AlertDispatcher,
	broadcaster *application.Broadcaster,
	opts Options,
	logger *slog.Logger,
) *Handler {
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = 7 * 24 * time.Hour
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	if len(opts.Providers) == 0 {
		opts.Providers = model.Providers
	}

	providers := make(map[model.Provider]bool, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p] = true
	}

	return &Handler{
		ingest:      ingest,
		metrics:     metrics,
		store:       store,
		alerts:      alerts,
		broadcaster: broadcaster,
		opts:        opts,
		providers:   providers,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with CORS, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest/{provider}", h.Ingest)
	mux.HandleFunc("GET /metrics/summary", h.Summary)
	mux.HandleFunc("GET /builds", h.ListBuilds)
	mux.HandleFunc("GET /alerts/suppressions", h.ListSuppressions)
	mux.HandleFunc("GET /ws", h.StreamWebSocket)
	mux.HandleFunc("GET /events", h.StreamEvents)
	mux.HandleFunc("GET /health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = corsMiddleware(h.opts.AllowedOrigins, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Ingest normalizes, stores and fans out one build event.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	provider, ok := model.ParseProvider(r.PathValue("provider"))
	if !ok || !h.providers[provider] {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	event, err := h.ingest.Ingest(r.Context(), provider, body)
	if err != nil {
		var normErr *model.NormalizationError
		switch {
		case errors.As(err, &normErr):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: normErr.Error(), Field: normErr.Field})
		case errors.Is(err, model.ErrUnknownProvider):
			writeError(w, http.StatusNotFound, "unknown provider")
		default:
			h.logger.Error("failed to ingest build", "provider", provider, "error", err)
			writeError(w, http.StatusInternalServerError, "build could not be stored")
		}
		return
	}

	writeJSON(w, http.StatusOK, toBuildResponse(event))
}

// Summary returns health metrics over the requested window.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	window := h.opts.DefaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := application.ParseWindow(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		window = parsed
	}

	summary, err := h.metrics.Summary(r.Context(), window)
	if err != nil {
		h.logger.Error("failed to compute summary", "window", window, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// ListBuilds returns the most recent builds, newest first. limit is capped at
// maxListLimit.
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	var provider model.Provider
	if raw := query.Get("provider"); raw != "" {
		p, ok := model.ParseProvider(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		provider = p
	}

	events, err := h.store.List(r.Context(), limit, provider)
	if err != nil {
		h.logger.Error("failed to list builds", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]BuildResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toBuildResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListSuppressions returns the alert suppression state of every (pipeline, repo).
func (h *Handler) ListSuppressions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSuppressionResponses(h.alerts.Records()))
}

// Health reports liveness. When the store can be pinged and the ping fails,
// it responds 503 with status "degraded".
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339),
		Store:       "ok",
		Subscribers: h.broadcaster.Count(),
		Alerts:      toAlertStats(h.alerts.Stats()),
	}
	status := http.StatusOK

	if checker, ok := h.store.(driven.StoreChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), storePingTimeout)
		defer cancel()
		if err := checker.Ping(ctx); err != nil {
			h.logger.Error("store ping failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
