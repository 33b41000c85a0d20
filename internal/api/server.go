package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// SessionReader is the read side of the session layer used by the API
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*types.PresentationSession, error)
	FindActiveSession(ctx context.Context, scope types.Scope) (*types.PresentationSession, error)
	ListParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error)
	ListActiveSessions(ctx context.Context) ([]*types.PresentationSession, error)
	GetStats() map[string]interface{}
}

// HealthChecker reports store connectivity
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	SessionConnectionCount(sessionID string) int
	GetStats() map[string]int
}

// Server is the read-only REST surface
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessions SessionReader
	health   HealthChecker
	registry Registry
	router   *mux.Router
	started  time.Time
}

// NewServer creates the REST server and its routes
func NewServer(sessions SessionReader, health HealthChecker, registry Registry) *Server {
	s := &Server{
		sessions: sessions,
		health:   health,
		registry: registry,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware, jsonMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/participants", s.getParticipants).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/scopes/{kind}/{id}/active", s.getActiveSession).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Route not found", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type SessionResponse struct {
	Session         *types.PresentationSession `json:"session"`
	ConnectionCount int                        `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type ParticipantsResponse struct {
	SessionID    string                      `json:"session_id"`
	CurrentSlide int                         `json:"current_slide"`
	Participants []*types.SessionParticipant `json:"participants"`
	Stats        types.SyncStats             `json:"stats"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions lists active sessions with open tab counts
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListActiveSessions(r.Context())
	if err != nil {
		s.sendLookupError(w, "list sessions", err)
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			Session:         session,
			ConnectionCount: s.registry.SessionConnectionCount(session.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/sessions/{id} returns any session row, active or ended
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !types.IsValidEntityID(sessionID) {
		sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendLookupError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Session:         session,
		ConnectionCount: s.registry.SessionConnectionCount(sessionID),
	})
}

// GET /api/sessions/{id}/participants is the instructor dashboard view
func (s *Server) getParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !types.IsValidEntityID(sessionID) {
		sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendLookupError(w, "get session", err)
		return
	}
	participants, err := s.sessions.ListParticipants(r.Context(), sessionID)
	if err != nil {
		s.sendLookupError(w, "list participants", err)
		return
	}

	writeJSON(w, http.StatusOK, ParticipantsResponse{
		SessionID:    sessionID,
		CurrentSlide: session.CurrentSlide,
		Participants: participants,
		Stats:        types.ComputeSyncStats(session, participants),
	})
}

// GET /api/scopes/{kind}/{id}/active finds the live session for a module or class
func (s *Server) getActiveSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := types.Scope{Kind: vars["kind"], ID: vars["id"]}
	if err := scope.Validate(); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.sessions.FindActiveSession(r.Context(), scope)
	if err != nil {
		s.sendLookupError(w, "find active session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Session:         session,
		ConnectionCount: s.registry.SessionConnectionCount(session.ID),
	})
}

// GET /health checks the store and reports connection statistics
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	resp := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		Sessions:    s.sessions.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) sendLookupError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound), errors.Is(err, types.ErrNotFound):
		sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, types.ErrInvalidScope):
		sendError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("API %s failed: %v", op, err)
		sendError(w, "Failed to "+op, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables dashboard access from the LMS origin
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
