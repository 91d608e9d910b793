// Package server implements the tasksync HTTP server: routing, CORS and
// method gating, request ids, admin auth and SSE progress events.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/tasksync/config"
	"github.com/GoCodeAlone/tasksync/metrics"
	"github.com/GoCodeAlone/tasksync/server/api"
	"github.com/GoCodeAlone/tasksync/server/ws"
)

// Server is the tasksync HTTP server.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	handlers *api.Handlers
	hub      *ws.Hub
	metrics  *metrics.Metrics

	routesOnce sync.Once
	handler    http.Handler

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg *config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetHandlers attaches the API handlers.
func (s *Server) SetHandlers(h *api.Handlers) {
	s.handlers = h
}

// SetHub attaches the SSE hub serving /events.
func (s *Server) SetHub(hub *ws.Hub) {
	s.hub = hub
}

// SetMetrics attaches the collectors serving /metrics and counting requests.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Handler returns the fully wrapped root handler, registering routes on
// first use.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(func() {
		s.registerRoutes()
		s.handler = s.requestID(s.accessLog(s.mux))
	})
	return s.handler
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":8888"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes. The legacy function paths stay
// routable so existing clients keep working.
func (s *Server) registerRoutes() {
	h := s.handlers
	if h != nil {
		if h.StartAt.IsZero() {
			h.StartAt = s.startTime
		}
		if h.Version == "" {
			h.Version = s.version
		}
		s.route("query", []string{http.MethodPost}, h.Query,
			"/api/query", "/.netlify/functions/notion-query")
		s.route("enrich", []string{http.MethodPost}, h.Enrich,
			"/api/enrich", "/.netlify/functions/notion-proxy")
		s.route("automation", []string{http.MethodGet, http.MethodPost}, h.Automation,
			"/api/automation", "/.netlify/functions/task-automation")
		s.route("status", []string{http.MethodGet}, h.Status, "/api/status")

		// Run history is admin only.
		s.route("runs", []string{http.MethodGet}, s.requireAdmin(h.ListRuns), "/api/runs")
		s.route("run", []string{http.MethodGet}, s.requireAdmin(h.GetRun), "/api/runs/{id}")
	}

	s.route("login", []string{http.MethodPost}, s.handleLogin, "/api/auth/login")
	s.route("me", []string{http.MethodGet}, s.requireAdmin(s.handleMe), "/api/auth/me")

	if s.hub != nil {
		// Auth handled inline because EventSource can't set headers.
		s.route("events", []string{http.MethodGet}, s.handleSSE, "/events")
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// route registers h under every path behind CORS and the method gate.
func (s *Server) route(name string, methods []string, h http.HandlerFunc, paths ...string) {
	var handler http.Handler = corsGate(methods, h)
	if s.metrics != nil {
		handler = s.metrics.InstrumentHandler(name, handler)
	}
	for _, p := range paths {
		s.mux.Handle(p, handler)
	}
}

// corsGate writes the CORS header set, answers preflight requests, and
// rejects methods outside allowed.
func corsGate(allowed []string, next http.Handler) http.Handler {
	allowMethods := strings.Join(append(append([]string{}, allowed...), http.MethodOptions), ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		hdr.Set("Access-Control-Allow-Methods", allowMethods)
		hdr.Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		for _, m := range allowed {
			if r.Method == m {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// requestID tags every request with an id, reusing an incoming
// X-Request-Id header when present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(contextWithRequestID(r.Context(), id)))
	})
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLog logs each request once it completes.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestIDFromContext(r.Context())),
		)
	})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE streams automation progress. When admin auth is configured a
// valid token query parameter is required.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.AdminPass != "" {
		if _, err := verifyJWT(s.jwtSecret(), r.URL.Query().Get("token")); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	s.hub.ServeSSE(w, r)
}
