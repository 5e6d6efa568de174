package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"widgetbridge/internal/hub"
	"widgetbridge/internal/manifest"
	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
	"widgetbridge/web"
)

// Server is the HTTP surface: the widget session endpoints the host
// controllers persist through, the hub's transport endpoints, the
// static transport pages, and health. No business logic lives here,
// only HTTP handling and JSON serialization.
type Server struct {
	sessions interfaces.SessionService
	store    interfaces.SessionStore
	hub      *hub.Hub
	catalog  *manifest.Catalog
	router   *http.ServeMux
	log      zerolog.Logger
}

// NewServer wires all routes. catalog may be nil when no manifest is
// configured; the manifest endpoint then answers 404.
func NewServer(sessions interfaces.SessionService, store interfaces.SessionStore, h *hub.Hub, catalog *manifest.Catalog, log zerolog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		store:    store,
		hub:      h,
		catalog:  catalog,
		router:   http.NewServeMux(),
		log:      log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/widgets/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleWidgetPath))))
	s.router.Handle("/api/manifest/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleManifest))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))

	s.router.HandleFunc("/channel/ws", s.hub.ServeWS)
	s.router.Handle("/channel/poll", s.corsMiddleware(http.HandlerFunc(s.hub.ServePoll)))
	s.router.Handle("/channel/relay", s.corsMiddleware(http.HandlerFunc(s.hub.ServeRelay)))

	s.router.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(web.Pages))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleWidgetPath dispatches /api/widgets/{id}/session and
// /api/widgets/{id}/score.
func (s *Server) handleWidgetPath(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/widgets/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || !types.IsValidWidgetID(parts[0]) {
		s.sendError(w, "invalid widget path", http.StatusBadRequest)
		return
	}
	widgetID, resource := parts[0], parts[1]

	switch {
	case resource == "session" && r.Method == http.MethodGet:
		s.getSession(w, r, widgetID)
	case resource == "session" && r.Method == http.MethodPost:
		s.updateSession(w, r, widgetID)
	case resource == "score" && r.Method == http.MethodPost:
		s.updateScore(w, r, widgetID)
	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// DocScoreResponse carries the recomputed document score back to the
// host controller after an update.
type DocScoreResponse struct {
	DocScore int `json:"doc_score"`
}

// HealthResponse reports component status.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// getSession answers GET /api/widgets/{id}/session with the
// authoritative SessionInfo, creating an empty one on first contact.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, widgetID string) {
	session, err := s.sessions.SessionForWidget(r.Context(), widgetID)
	if err != nil {
		s.log.Warn().Err(err).Str("widget_id", widgetID).Msg("session fetch failed")
		s.sendError(w, "session fetch failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, session)
}

// updateScore answers POST /api/widgets/{id}/score.
func (s *Server) updateScore(w http.ResponseWriter, r *http.Request, widgetID string) {
	var update types.ScoreUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	update.WidgetID = widgetID
	if err := update.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	docScore, err := s.sessions.UpdateScore(r.Context(), &update)
	if err != nil {
		s.log.Warn().Err(err).Str("widget_id", widgetID).Msg("score update failed")
		s.sendError(w, "score update failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, DocScoreResponse{DocScore: docScore})
}

// updateSession answers POST /api/widgets/{id}/session.
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request, widgetID string) {
	var update types.SessionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	update.WidgetID = widgetID
	if err := update.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	docScore, err := s.sessions.UpdateWidgetSession(r.Context(), &update)
	if err != nil {
		s.log.Warn().Err(err).Str("widget_id", widgetID).Msg("session update failed")
		s.sendError(w, "session update failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, DocScoreResponse{DocScore: docScore})
}

// handleManifest answers GET /api/manifest/{id} with the widget's
// embed entry for page assembly.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	widgetID := strings.TrimPrefix(r.URL.Path, "/api/manifest/")
	if s.catalog == nil || !types.IsValidWidgetID(widgetID) {
		s.sendError(w, "unknown widget", http.StatusNotFound)
		return
	}
	entry, exists := s.catalog.Lookup(widgetID)
	if !exists {
		s.sendError(w, "unknown widget", http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: "healthy", Timestamp: time.Now(), Database: "connected"}
	status := http.StatusOK
	if err := s.store.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.sendJSON(w, status, resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
