package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/andreweacott/jatekukko-exporter/pkg/scheduler"
	"github.com/andreweacott/jatekukko-exporter/pkg/setup"
	"github.com/andreweacott/jatekukko-exporter/pkg/views"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsTimeout = 10 * time.Second

	// defaultRangeDays is the window of a calendar query without an end date
	defaultRangeDays = 365
)

// StatusReporter reports the refresh bookkeeping of the coordinator
type StatusReporter interface {
	Status() coordinator.Status
}

// RefreshTrigger runs on-demand refreshes
type RefreshTrigger interface {
	Trigger(ctx context.Context) (*coordinator.Snapshot, error)
	Paused() bool
}

// Reauthenticator validates and applies a new password for the running entry
type Reauthenticator interface {
	Reauth(ctx context.Context, password string) error
}

// Handlers bundles what the HTTP surface exposes
type Handlers struct {
	Registry *prometheus.Registry
	Views    *views.Set
	Status   StatusReporter
	Refresh  RefreshTrigger
	Reauth   Reauthenticator
	Clock    views.Clock
	Log      *logger.Logger
}

// NewHandler builds the HTTP routes
func NewHandler(h Handlers) http.Handler {
	if h.Log == nil {
		h.Log = logger.Discard()
	}
	if h.Clock == nil {
		h.Clock = time.Now
	}

	mux := http.NewServeMux()

	// Register /metrics endpoint with our custom registry
	mux.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Timeout:           metricsTimeout,
	}))

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("GET /api/calendars", h.handleCalendars)
	mux.HandleFunc("GET /api/calendars/{id}", h.handleCalendarEvents)
	mux.HandleFunc("GET /api/sensors", h.handleSensors)
	mux.HandleFunc("POST /api/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/reauth", h.handleReauth)

	return mux
}

// StartServer starts the HTTP server and blocks until ctx is cancelled or the server fails
func StartServer(ctx context.Context, port int, handler http.Handler, log *logger.Logger) error {
	if log == nil {
		log = logger.Discard()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  65 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr, "port", port)
		log.Info("Metrics endpoint available", "url", fmt.Sprintf("http://localhost:%d/metrics", port))
		log.Info("Calendar endpoint available", "url", fmt.Sprintf("http://localhost:%d/api/calendars", port))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		// Graceful shutdown
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}

		log.Info("HTTP server stopped")
		return nil
	}
}

type healthResponse struct {
	Status                  string     `json:"status"`
	LastSuccess             *time.Time `json:"last_success,omitempty"`
	LastError               string     `json:"last_error,omitempty"`
	ConsecutiveAuthFailures int        `json:"consecutive_auth_failures"`
	CircuitBreaker          string     `json:"circuit_breaker"`
}

// handleHealth always answers 200; the body tells whether data is current
func (h Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Status.Status()

	resp := healthResponse{
		Status:                  "ok",
		ConsecutiveAuthFailures: status.ConsecutiveAuthFailures,
		CircuitBreaker:          status.BreakerState.String(),
	}
	if !status.LastSuccess.IsZero() {
		resp.LastSuccess = &status.LastSuccess
	}
	if status.LastError != nil {
		resp.Status = "degraded"
		resp.LastError = status.LastError.Error()
	}
	if h.Refresh.Paused() {
		resp.Status = "reauth_required"
	}

	writeJSON(w, http.StatusOK, resp)
}

type calendarResponse struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Available    bool          `json:"available"`
	CurrentEvent *views.Event  `json:"current_event,omitempty"`
	Events       []views.Event `json:"events,omitempty"`
}

func (h Handlers) handleCalendars(w http.ResponseWriter, r *http.Request) {
	resp := make([]calendarResponse, 0, len(h.Views.Calendars))
	for _, c := range h.Views.Calendars {
		resp = append(resp, calendarResponse{
			ID:           c.UniqueID(),
			Name:         c.Name(),
			Available:    c.Available(),
			CurrentEvent: c.CurrentEvent(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendarEvents answers ?start=YYYY-MM-DD&end=YYYY-MM-DD, end exclusive
func (h Handlers) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	calendar, ok := h.Views.Calendar(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "calendar not found")
		return
	}
	if !calendar.Available() {
		writeError(w, http.StatusServiceUnavailable, "calendar unavailable")
		return
	}

	start := portal.DateOf(h.Clock())
	if s := r.URL.Query().Get("start"); s != "" {
		parsed, err := portal.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start = parsed
	}

	end := portal.NewDate(start.Year, start.Month, start.Day+defaultRangeDays)
	if s := r.URL.Query().Get("end"); s != "" {
		parsed, err := portal.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		end = parsed
	}

	writeJSON(w, http.StatusOK, calendarResponse{
		ID:           calendar.UniqueID(),
		Name:         calendar.Name(),
		Available:    true,
		CurrentEvent: calendar.CurrentEvent(),
		Events:       calendar.EventsInRange(start, end),
	})
}

type sensorResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Available bool         `json:"available"`
	Value     *portal.Date `json:"value"`
}

func (h Handlers) handleSensors(w http.ResponseWriter, r *http.Request) {
	resp := make([]sensorResponse, 0, len(h.Views.Sensors))
	for _, s := range h.Views.Sensors {
		resp = append(resp, sensorResponse{
			ID:        s.UniqueID(),
			Name:      s.Name(),
			Available: s.Available(),
			Value:     s.Value(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Refresh.Trigger(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrPaused):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.Log.WithError(err).Warn("Manual refresh failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fetched_at": snapshot.FetchedAt,
		"services":   len(snapshot.Services),
	})
}

type reauthRequest struct {
	Password string `json:"password"`
}

func (h Handlers) handleReauth(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "request body must be {\"password\": \"...\"}")
		return
	}

	err := h.Reauth.Reauth(r.Context(), req.Password)

	var validationErr *setup.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "reauth_successful"})
	case errors.As(err, &validationErr):
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, setup.ErrInvalidAuth):
			status = http.StatusUnauthorized
		case errors.Is(err, setup.ErrCannotConnect):
			status = http.StatusBadGateway
		}
		writeError(w, status, validationErr.Reason())
	case errors.Is(err, setup.ErrReauthNoEntry):
		writeError(w, http.StatusNotFound, "reauth_failed_existing")
	default:
		h.Log.WithError(err).Error("Re-authentication failed")
		writeError(w, http.StatusInternalServerError, "unknown")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// SetupGracefulShutdown sets up signal handlers for graceful shutdown
// Returns a context that is cancelled on interrupt or termination signal
func SetupGracefulShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Handle OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal: %v\n", sig)
		cancel()
	}()

	return ctx
}
