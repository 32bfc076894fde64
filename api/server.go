package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API is the operator control surface: health, metrics, pipeline stats,
// event ingest and runtime configuration.
type API struct {
	router   *mux.Router
	server   *http.Server
	pipeline *detect.Pipeline
	logger   *zap.SugaredLogger
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestResponse reports the admission outcome for a submitted event.
type IngestResponse struct {
	Admitted bool   `json:"admitted"`
	EventID  string `json:"event_id"`
}

// StreamModeRequest toggles stream mode.
type StreamModeRequest struct {
	Enabled bool `json:"enabled"`
}

func NewAPI(cfg *config.Config, pipeline *detect.Pipeline, logger *zap.SugaredLogger) *API {
	a := &API{
		router:   mux.NewRouter(),
		pipeline: pipeline,
		logger:   logger,
	}
	a.routes()

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      a.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

func (a *API) routes() {
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.HandleFunc("/api/events", a.ingestEvent).Methods("POST")
	a.router.HandleFunc("/api/stats", a.getStats).Methods("GET")
	a.router.HandleFunc("/api/config", a.updateConfig).Methods("POST")
	a.router.HandleFunc("/api/rules/reload", a.reloadRules).Methods("POST")
	a.router.HandleFunc("/api/stream-mode", a.setStreamMode).Methods("POST")
}

// Start begins serving in a background goroutine.
func (a *API) Start() {
	go func() {
		a.logger.Infow("API server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Errorw("API server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// healthCheck handles GET /health
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	stats := a.pipeline.Stats()
	status := http.StatusOK
	state := "healthy"
	if stats.CircuitBreaker == string(core.CircuitBreakerStateOpen) {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	a.respondJSON(w, map[string]string{
		"status":          state,
		"circuit_breaker": stats.CircuitBreaker,
	}, status)
}

// ingestEvent handles POST /api/events. Rejection by admission control
// is reported as 429, not an error.
func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	event := core.NewEvent()
	if err := json.NewDecoder(r.Body).Decode(event); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid event payload", err)
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	admitted := a.pipeline.ProcessEvent(event)
	status := http.StatusAccepted
	if !admitted {
		status = http.StatusTooManyRequests
	}
	a.respondJSON(w, IngestResponse{Admitted: admitted, EventID: event.EventID}, status)
}

// getStats handles GET /api/stats
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.pipeline.Stats(), http.StatusOK)
}

// updateConfig handles POST /api/config
func (a *API) updateConfig(w http.ResponseWriter, r *http.Request) {
	var overrides detect.RuntimeOverrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid configuration payload", err)
		return
	}

	if err := a.pipeline.ApplyOverrides(&overrides); err != nil {
		a.writeError(w, http.StatusBadRequest, "Configuration rejected", err)
		return
	}
	a.respondJSON(w, a.pipeline.Stats(), http.StatusOK)
}

// reloadRules handles POST /api/rules/reload
func (a *API) reloadRules(w http.ResponseWriter, r *http.Request) {
	a.pipeline.ReloadRules(r.Context())
	a.respondJSON(w, a.pipeline.Stats(), http.StatusOK)
}

// setStreamMode handles POST /api/stream-mode
func (a *API) setStreamMode(w http.ResponseWriter, r *http.Request) {
	var req StreamModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid stream mode payload", err)
		return
	}

	if err := a.pipeline.SetStreamMode(req.Enabled); err != nil {
		a.writeError(w, http.StatusBadRequest, "Stream mode change rejected", err)
		return
	}
	a.respondJSON(w, a.pipeline.Stats(), http.StatusOK)
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string, err error) {
	a.logger.Warnw(message, "error", err)
	a.respondJSON(w, ErrorResponse{Error: message}, status)
}
