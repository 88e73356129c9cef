// Package api implements the HTTP surface: auth, task CRUD, and chat.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/colmb/taskchat/internal/agent"
	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/buildinfo"
	"github.com/colmb/taskchat/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	store         *store.Store
	tokens        *auth.Tokens
	loop          *agent.Loop
	historyWindow int
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates the API server. historyWindow caps how many prior
// user/assistant messages the chat endpoint feeds back to the agent.
func NewServer(address string, port int, st *store.Store, tokens *auth.Tokens, loop *agent.Loop, historyWindow int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if historyWindow < 1 {
		historyWindow = 1
	}
	return &Server{
		address:       address,
		port:          port,
		store:         st,
		tokens:        tokens,
		loop:          loop,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive it through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Everything below requires a valid bearer token.
	authed := http.NewServeMux()
	authed.HandleFunc("GET /api/tasks", s.handleListTasks)
	authed.HandleFunc("POST /api/tasks", s.handleCreateTask)
	authed.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	authed.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	authed.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	authed.HandleFunc("POST /api/chat", s.handleChat)
	authed.HandleFunc("GET /api/conversations/recent", s.handleRecentConversation)

	requireAuth := auth.Middleware(s.tokens, s.store, s.logger)
	mux.Handle("/api/tasks", requireAuth(authed))
	mux.Handle("/api/tasks/", requireAuth(authed))
	mux.Handle("/api/chat", requireAuth(authed))
	mux.Handle("/api/conversations/", requireAuth(authed))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // chat requests wait on the model
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// writeJSON encodes v to w. Encode errors usually mean the client went
// away mid-response; log at debug and move on.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// writeError sends the uniform error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body into v, rejecting unparseable
// input with a 400.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "taskchat",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
