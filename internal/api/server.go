// Package api serves the read-only HTTP status surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// Archive listing bounds
const (
	DefaultArchiveLimit = 25
	MaxArchiveLimit     = 500
)

// StatusSource exposes the coordinator's published snapshot
type StatusSource interface {
	Status() *types.StatusSnapshot
}

// Registry exposes connection counts without coupling to websocket.Registry
type Registry interface {
	GetStats() map[string]int
}

// Server is the HTTP status surface
// ARCHITECTURAL DISCOVERY: HTTP layer reads only published snapshots and the
// archive; it never enters the coordinator loop
type Server struct {
	status        StatusSource
	archive       interfaces.Archive // nil when archiving is disabled
	registry      Registry
	router        *mux.Router
	allowedOrigin string
	startedAt     time.Time
	now           func() time.Time
}

// NewServer creates the status surface. archive may be nil.
func NewServer(status StatusSource, archive interfaces.Archive, registry Registry, allowedOrigin string) *Server {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	s := &Server{
		status:        status,
		archive:       archive,
		registry:      registry,
		router:        mux.NewRouter(),
		allowedOrigin: allowedOrigin,
		startedAt:     time.Now(),
		now:           time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware, s.jsonMiddleware)

	get := []string{http.MethodGet, http.MethodOptions}
	s.router.HandleFunc("/health", s.healthCheck).Methods(get...)
	s.router.HandleFunc("/polls/history", s.pollHistory).Methods(get...)
	s.router.HandleFunc("/polls/current", s.currentPoll).Methods(get...)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/status", s.sessionStatus).Methods(get...)
	apiRouter.HandleFunc("/archive/{kind:polls|chat}", s.archiveListing).Methods(get...)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Not found", http.StatusNotFound)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Archive       string         `json:"archive"`
	Connections   map[string]int `json:"connections"`
}

// HistoryResponse is the body of GET /polls/history
type HistoryResponse struct {
	History []types.ResultsSnapshot `json:"history"`
}

// CurrentResponse is the body of GET /polls/current
type CurrentResponse struct {
	Current *types.PublicQuestion `json:"current"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	*types.StatusSnapshot
	Updated     string         `json:"updated"`
	Connections map[string]int `json:"connections"`
}

// ArchivedPoll is one row of GET /api/archive/polls
type ArchivedPoll struct {
	types.ResultsSnapshot
	Closed string `json:"closed"`
}

// ArchivedChat is one row of GET /api/archive/chat
type ArchivedChat struct {
	types.ChatMessage
	Sent string `json:"sent"`
}

// ErrorResponse is the body of every error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// healthCheck reports liveness, uptime and archive connectivity
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := s.now()
	response := HealthResponse{
		Status:        "ok",
		Timestamp:     now,
		Uptime:        strings.TrimSpace(humanize.RelTime(s.startedAt, now, "", "")),
		UptimeSeconds: int64(now.Sub(s.startedAt) / time.Second),
		Archive:       "disabled",
		Connections:   s.registry.GetStats(),
	}

	if s.archive != nil {
		response.Archive = "healthy"
		if err := s.archive.HealthCheck(ctx); err != nil {
			response.Status = "degraded"
			response.Archive = fmt.Sprintf("error: %v", err)
		}
	}

	// An archive outage never affects the live session, so health stays 200
	s.writeJSON(w, http.StatusOK, response)
}

// pollHistory returns the in-memory history without per-student breakdowns
func (s *Server) pollHistory(w http.ResponseWriter, r *http.Request) {
	history := s.status.Status().PollHistory
	if history == nil {
		history = []types.ResultsSnapshot{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{History: history})
}

// currentPoll returns the open question or null
func (s *Server) currentPoll(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, CurrentResponse{Current: s.status.Status().CurrentQuestion})
}

// sessionStatus returns roster counts, the open question and store sizes
func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.status.Status()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		StatusSnapshot: snapshot,
		Updated:        humanize.RelTime(snapshot.UpdatedAt, s.now(), "ago", "from now"),
		Connections:    s.registry.GetStats(),
	})
}

// archiveListing serves /api/archive/polls and /api/archive/chat
func (s *Server) archiveListing(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.sendError(w, "Archive is disabled", http.StatusServiceUnavailable)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := s.now()
	switch mux.Vars(r)["kind"] {
	case "polls":
		snapshots, err := s.archive.ListPollResults(r.Context(), limit)
		if err != nil {
			s.sendError(w, "Failed to list archived polls", http.StatusInternalServerError)
			return
		}
		polls := make([]ArchivedPoll, 0, len(snapshots))
		for _, snapshot := range snapshots {
			polls = append(polls, ArchivedPoll{
				ResultsSnapshot: snapshot.WithoutBreakdown(),
				Closed:          humanize.RelTime(snapshot.ClosedAt, now, "ago", "from now"),
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"polls": polls})

	case "chat":
		messages, err := s.archive.ListChatMessages(r.Context(), limit)
		if err != nil {
			s.sendError(w, "Failed to list archived chat", http.StatusInternalServerError)
			return
		}
		chat := make([]ArchivedChat, 0, len(messages))
		for _, message := range messages {
			chat = append(chat, ArchivedChat{
				ChatMessage: *message,
				Sent:        humanize.RelTime(message.CreatedAt, now, "ago", "from now"),
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": chat})
	}
}

// parseLimit reads ?limit=N, defaulting when absent and capping large values
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultArchiveLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > MaxArchiveLimit {
		limit = MaxArchiveLimit
	}
	return limit, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// sendError writes the consistent error body
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware applies the configured client origin and answers preflights
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		if s.allowedOrigin != "*" {
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the JSON content type for all responses
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
