package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anima/internal/logging"
	"anima/internal/loop"
	"anima/internal/reports"
	"anima/internal/substrate"
	"anima/internal/upkeep"
	"anima/internal/usage"
)

// Deps wires the edge to the runtime.
type Deps struct {
	Orchestrator *loop.Orchestrator
	Reader       *substrate.Reader
	Reports      *reports.Store
	Health       *upkeep.Health
	Usage        *usage.Tracker
	Registry     *prometheus.Registry

	// Token guards /api/*; empty disables auth.
	Token string
}

// Server is the HTTP/WebSocket edge. Every mutation it performs goes
// through the orchestrator; it holds no loop state of its own.
type Server struct {
	deps Deps
	hub  *Hub
	srv  *http.Server
}

// New builds the server and subscribes the WebSocket hub to the
// orchestrator's event stream.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps, hub: NewHub()}
	if deps.Orchestrator != nil {
		deps.Orchestrator.Emitter().Subscribe(s.hub.Broadcast)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub exposes the WebSocket fan-out, mainly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(s.deps.Token))
		r.Use(limitBody)

		r.Route("/loop", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/metrics", s.handleMetrics)
			r.Post("/start", s.transition(func() error { return s.deps.Orchestrator.Start() }))
			r.Post("/pause", s.transition(func() error { return s.deps.Orchestrator.Pause() }))
			r.Post("/resume", s.transition(func() error { return s.deps.Orchestrator.Resume() }))
			r.Post("/stop", s.transition(func() error { return s.deps.Orchestrator.Stop() }))
			r.Post("/audit", s.handleAudit)
			r.Post("/tick", s.handleTick)
		})
		r.Post("/conversation/send", s.handleSend)
		r.Get("/substrate/{id}", s.handleSubstrate)
		r.Get("/reports", s.handleReports)
		r.Get("/reports/latest", s.handleLatestReport)
		r.Get("/usage", s.handleUsage)
		r.Get("/health", s.handleHealth(false))
		r.Get("/health/critical", s.handleHealth(true))
	})

	r.Route("/hooks", func(r chi.Router) {
		r.Use(limitBody)
		r.Post("/agent", s.handleAgentHook)
	})

	r.Get("/ws", s.hub.ServeWS)
	if s.deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Run serves until the context ends, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Server().Infow("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.deps.Orchestrator.State(),
		"metrics": s.deps.Orchestrator.Metrics(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Orchestrator.Metrics())
}

// transition maps illegal state changes to 409, per the edge contract.
func (s *Server) transition(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			var invalid *loop.InvalidTransitionError
			if errors.As(err, &invalid) {
				writeError(w, http.StatusConflict, invalid.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": s.deps.Orchestrator.State()})
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, _ *http.Request) {
	s.deps.Orchestrator.RequestAudit()
	s.deps.Orchestrator.Nudge()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "audit requested"})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Orchestrator.RunOneTick(r.Context())
	if res.Deferred {
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "Deferred"})
		return
	}
	writeJSON(w, http.StatusOK, res.Cycle)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.deps.Orchestrator.HandleUserMessage(r.Context(), body.Message)
	s.deps.Orchestrator.Nudge()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reply == "" {
		writeJSON(w, http.StatusOK, map[string]string{"response": "injected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleSubstrate(w http.ResponseWriter, r *http.Request) {
	id, err := substrate.ParseFileID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta, content, err := s.deps.Reader.Read(id)
	if err != nil {
		if substrate.IsNotFound(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s does not exist", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      meta.ID,
		"modTime": meta.ModTime,
		"hash":    meta.Hash,
		"content": content,
	})
}

func (s *Server) handleReports(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusInternalServerError, "report store not configured")
		return
	}
	list, err := s.deps.Reports.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) handleLatestReport(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusInternalServerError, "report store not configured")
		return
	}
	latest, err := s.deps.Reports.Latest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no reports yet")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, http.StatusInternalServerError, "usage tracker not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Usage.Snapshot())
}

func (s *Server) handleHealth(critical bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Health == nil {
			writeError(w, http.StatusInternalServerError, "health checker not configured")
			return
		}
		report := s.deps.Health.Check(r.Context())
		status := http.StatusOK
		if critical && !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// handleAgentHook accepts an externally delivered envelope and injects
// it into the loop as a user-visible message.
func (s *Server) handleAgentHook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source  string `json:"source"`
		Message string `json:"message"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	msg := body.Message
	if body.Source != "" {
		msg = fmt.Sprintf("[%s] %s", body.Source, body.Message)
	}
	s.deps.Orchestrator.Emitter().Emit(loop.EventAgoraMessage, map[string]any{
		"source":  body.Source,
		"message": body.Message,
	})
	s.deps.Orchestrator.InjectMessage(msg)
	s.deps.Orchestrator.Nudge()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "injected"})
}

// decodeBody parses a JSON body, translating the size-cap error to 413.
// On failure the response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return err
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return err
}
