package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/relforge/internal/release"
)

// Server exposes the daemon's HTTP surface: the release trigger webhook, run
// history, health and metrics.
type Server struct {
	daemon *Daemon
	srv    *http.Server
}

// NewServer builds the HTTP server from the daemon's current configuration.
func NewServer(d *Daemon) *Server {
	return &Server{daemon: d}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/release", s.handleTrigger)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunEvents)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.daemon.metrics != nil {
		mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	}
	return mux
}

// Start begins listening. It returns once the listener goroutine is running.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.daemon.Config().Daemon.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// triggerRequest is the webhook payload. Tag is required; ID lets callers
// supply their own correlation ID.
type triggerRequest struct {
	ID    string `json:"id,omitempty"`
	Tag   string `json:"tag"`
	Notes string `json:"notes,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "invalid or missing webhook token")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Tag) == "" {
		writeJSONError(w, http.StatusBadRequest, "tag is required")
		return
	}

	rel := release.NewContext(req.ID, req.Tag, req.Notes)
	runID, err := s.daemon.Trigger(rel)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "tag": req.Tag})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.daemon.store == nil {
		writeJSONError(w, http.StatusNotFound, "run history not enabled")
		return
	}
	runs, err := s.daemon.store.RecentRuns(r.Context(), 50)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.daemon.store == nil {
		writeJSONError(w, http.StatusNotFound, "run history not enabled")
		return
	}
	events, err := s.daemon.store.ByRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		writeJSONError(w, http.StatusNotFound, "unknown run")
		return
	}

	type eventView struct {
		Type      string          `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventView{Type: e.Type, Timestamp: e.Timestamp, Payload: e.Payload}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": r.PathValue("id"), "events": views})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.daemon.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"product":      cfg.Product.Name,
		"targets":      len(cfg.Targets),
		"queue_length": s.daemon.QueueLength(),
		"uptime":       time.Since(s.daemon.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorized checks the webhook token when one is configured. No configured
// secret means the endpoint is open, for use behind a trusted proxy.
func (s *Server) authorized(r *http.Request) bool {
	cfg := s.daemon.Config()
	if cfg.Daemon == nil || cfg.Daemon.WebhookSecretEnv == "" {
		return true
	}
	secretEnv := cfg.Daemon.WebhookSecretEnv
	want := os.Getenv(secretEnv)
	if want == "" {
		slog.Warn("Webhook secret env var is empty, rejecting trigger", "env", secretEnv)
		return false
	}
	got := r.Header.Get("X-Relforge-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
