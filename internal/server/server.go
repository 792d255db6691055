// Package server exposes the pipeline over HTTP: context search, delivered
// alerts, feedback submission, triage status and a websocket alert stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/scrypster/vigil/internal/agent"
	"github.com/scrypster/vigil/internal/config"
	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/feedback"
	"github.com/scrypster/vigil/internal/triage"
	"github.com/scrypster/vigil/pkg/types"
)

const (
	defaultSearchK = 5
	maxSearchK     = 100

	defaultAlertHours = 24
	maxAlertHours     = 720
)

// AlertLog is the delivered-alert view the API reads.
type AlertLog interface {
	Delivered(id string) (types.Alert, bool)
	Recent(window time.Duration, now time.Time) []types.Alert
}

// Deps are the components the API serves. Hub and Agent are optional.
type Deps struct {
	Context  contextstore.Reader
	Alerts   AlertLog
	Recorder *feedback.Recorder
	Triage   *triage.Triage
	Agent    *agent.Agent
	Hub      http.Handler
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server is the HTTP API.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
}

// New builds the router.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{cfg: cfg, deps: deps}
	s.setupRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Hub != nil {
		// No timeout: the stream stays open.
		r.Handle("/ws", s.deps.Hub)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if s.cfg.RateLimit > 0 {
			r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
		}

		r.Get("/context/search", s.handleSearch)
		r.Get("/context/entities", s.handleEntities)
		r.Get("/context/entities/{id}", s.handleEntity)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/alerts/{id}", s.handleAlert)
		r.Post("/alerts/{id}/feedback", s.handleFeedback)
		r.Get("/triage", s.handleTriage)
		r.Get("/status", s.handleStatus)
	})

	s.router = r
}

// Start listens on the configured address and serves until ctx is done.
// It returns the bound address, which differs from the configured one
// when the port is 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	addr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.deps.Logger.Warn("http server shutdown error", "error", err)
		}
	}()

	s.deps.Logger.Info("http api listening", "addr", addr)
	return addr, nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func rateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	successResponse(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		errorResponse(w, http.StatusBadRequest, "q is required")
		return
	}
	k, err := intParam(r, "k", defaultSearchK)
	if err != nil || k < 1 || k > maxSearchK {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("k must be between 1 and %d", maxSearchK))
		return
	}
	results := s.deps.Context.Retrieve(r.Context(), q, k)
	successResponse(w, map[string]any{"query": q, "results": results})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	kind := types.ContextType(r.URL.Query().Get("type"))
	if kind != "" && !kind.IsValid() {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", kind))
		return
	}
	entities := s.deps.Context.Entities(kind)
	successResponse(w, map[string]any{"entities": entities, "count": len(entities)})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.deps.Context.Get(chi.URLParam(r, "id"))
	if !ok {
		errorResponse(w, http.StatusNotFound, "entity not found")
		return
	}
	successResponse(w, e)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultAlertHours)
	if err != nil || hours < 1 || hours > maxAlertHours {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("hours must be an integer between 1 and %d", maxAlertHours))
		return
	}
	list := s.deps.Alerts.Recent(time.Duration(hours)*time.Hour, s.deps.Now())
	successResponse(w, map[string]any{"alerts": list, "count": len(list)})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := s.deps.Alerts.Delivered(chi.URLParam(r, "id"))
	if !ok {
		errorResponse(w, http.StatusNotFound, "alert not found")
		return
	}
	successResponse(w, a)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Useful *bool  `json:"useful"`
		Note   string `json:"note"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Useful == nil {
		errorResponse(w, http.StatusBadRequest, "useful is required")
		return
	}

	rec, err := feedback.Submit(r.Context(), s.deps.Recorder, s.deps.Alerts, feedback.Submission{
		AlertID: chi.URLParam(r, "id"),
		Useful:  *body.Useful,
		Note:    body.Note,
	})
	switch {
	case errors.Is(err, feedback.ErrUnknownAlert):
		errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, feedback.ErrDuplicateFeedback):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, feedback.ErrInvalidFeedback):
		errorResponse(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.deps.Logger.Error("feedback failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to record feedback")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rec)
	}
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	successResponse(w, map[string]any{
		"triage":         s.deps.Triage.Status(),
		"feedback_total": s.deps.Recorder.Total(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"triage":         s.deps.Triage.State(),
		"feedback_total": s.deps.Recorder.Total(),
		"entities":       len(s.deps.Context.Entities("")),
	}
	if s.deps.Agent != nil {
		out["agent"] = s.deps.Agent.Status()
	}
	successResponse(w, out)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func successResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(data)
}
