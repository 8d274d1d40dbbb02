// Package api implements the portal's HTTP API: search, staff chat
// over WebSocket, and the admin surfaces for rules, quick links,
// history, and the moderation review queue.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/satchelhq/satchel/internal/buildinfo"
	"github.com/satchelhq/satchel/internal/orchestrator"
	"github.com/satchelhq/satchel/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the portal HTTP server.
type Server struct {
	address  string
	port     int
	searcher *orchestrator.Searcher
	chat     *orchestrator.ChatManager
	store    *store.Store
	auth     *AdminAuth
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a server. chat, store, and auth may be nil; the
// corresponding endpoints then report unavailable.
func NewServer(address string, port int, searcher *orchestrator.Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		searcher: searcher,
		logger:   logger.With("component", "api"),
	}
}

// SetChatManager enables the staff chat endpoint.
func (s *Server) SetChatManager(m *orchestrator.ChatManager) {
	s.chat = m
}

// SetStore enables the history, review, rules, and links endpoints.
func (s *Server) SetStore(st *store.Store) {
	s.store = st
}

// SetAdminAuth protects the mutating admin endpoints.
func (s *Server) SetAdminAuth(a *AdminAuth) {
	s.auth = a
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for chat streaming
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Handler builds the route table. Exposed separately so tests can
// drive the mux through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Search surface
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/links", s.handleLinksList)
	mux.HandleFunc("GET /api/chat", s.handleChat)

	// Staff oversight
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/reviews", s.handleReviews)
	mux.HandleFunc("POST /api/reviews/{id}/resolve", s.requireAdmin(s.handleReviewResolve))

	// Admin CRUD
	mux.HandleFunc("GET /api/rules", s.requireAdmin(s.handleRulesList))
	mux.HandleFunc("POST /api/rules", s.requireAdmin(s.handleRuleCreate))
	mux.HandleFunc("PUT /api/rules/{id}", s.requireAdmin(s.handleRuleUpdate))
	mux.HandleFunc("POST /api/rules/{id}/active", s.requireAdmin(s.handleRuleToggle))
	mux.HandleFunc("DELETE /api/rules/{id}", s.requireAdmin(s.handleRuleDelete))
	mux.HandleFunc("POST /api/links", s.requireAdmin(s.handleLinkCreate))
	mux.HandleFunc("PUT /api/links/{id}", s.requireAdmin(s.handleLinkUpdate))
	mux.HandleFunc("DELETE /api/links/{id}", s.requireAdmin(s.handleLinkDelete))

	// Health
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	return s.withLogging(mux)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
