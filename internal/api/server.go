// Package api implements the HTTP surface: the streaming chat
// endpoint plus small JSON endpoints for conversations, pending
// actions, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slyngg/adpilot/internal/agent"
	"github.com/slyngg/adpilot/internal/buildinfo"
	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/memory"
)

// userHeader carries the operator identity. Requests without it act as
// the configured default user.
const userHeader = "X-Adpilot-User"

// writeJSON encodes v as JSON to w, logging failures at debug level —
// they typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	driver      *agent.Driver
	store       *memory.Store
	gate        *confirm.Store
	defaultUser string
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates an API server.
func NewServer(address string, port int, driver *agent.Driver, store *memory.Store, gate *confirm.Store, defaultUser string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:     address,
		port:        port,
		driver:      driver,
		store:       store,
		gate:        gate,
		defaultUser: defaultUser,
		logger:      logger,
	}
}

// Start begins serving HTTP requests and blocks until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /v1/actions", s.handleActions)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(mux),
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat turns stream for as long as they run.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
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

func (s *Server) user(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(userHeader)); u != "" {
		return u
	}
	return s.defaultUser
}

// ChatRequest is the inbound "send message" payload.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// handleChat runs one turn and streams its events as SSE. Each event
// is flushed as soon as it is produced; nothing is held for the end of
// the stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	started := false
	emitter := agent.EmitterFunc(func(e agent.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		started = true
		return nil
	})

	err := s.driver.Run(r.Context(), agent.Request{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		User:           s.user(r),
	}, emitter)
	if err != nil && !started {
		// Nothing streamed yet, a real status code is still possible.
		switch {
		case errors.Is(err, agent.ErrEmptyMessage):
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, memory.ErrConversationNotFound):
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
		default:
			s.logger.Error("turn failed before streaming", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	if err != nil {
		// Mid-stream failures were already reported as an error event.
		s.logger.Debug("turn ended with error after streaming", "error", err)
	}
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(s.user(r))
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": convs}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.Conversation(id)
	if errors.Is(err, memory.ErrConversationNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	if conv.Owner != s.user(r) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages, err := s.store.Messages(id)
	if err != nil {
		s.logger.Error("get messages failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversation": conv, "messages": messages}, s.logger)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"pending_actions": s.gate.Pending(s.user(r))}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "adpilot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]any{"error": message}, s.logger)
}
