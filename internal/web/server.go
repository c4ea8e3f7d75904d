// Package web is the REST surface: presenter auth, quiz authoring, session
// management, participant join, and the reporting endpoints.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/engine"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/ws"
)

// Server is the HTTP server for the QuizForge API.
type Server struct {
	cfg     *config.Config
	db      *db.DB
	engine  *engine.Engine
	jwt     *auth.JWTManager
	metrics *metrics.Metrics
	mux     *http.ServeMux
	server  *http.Server
}

// New creates the API server and registers all routes, including the
// session stream endpoint.
func New(cfg *config.Config, database *db.DB, e *engine.Engine, jwtManager *auth.JWTManager, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		db:      database,
		engine:  e,
		jwt:     jwtManager,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.corsMiddleware(s.mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived streams share this server
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("api listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed mux for tests.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/network-info", s.handleNetworkInfo)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))

	s.mux.HandleFunc("POST /api/quizzes", s.requireAuth(s.handleCreateQuiz))
	s.mux.HandleFunc("GET /api/quizzes", s.requireAuth(s.handleListQuizzes))
	s.mux.HandleFunc("GET /api/quizzes/{id}", s.requireAuth(s.handleGetQuiz))
	s.mux.HandleFunc("DELETE /api/quizzes/{id}", s.requireAuth(s.handleDeleteQuiz))

	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	s.mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	s.mux.HandleFunc("POST /api/sessions/{id}/finish", s.requireAuth(s.handleFinishSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/leaderboard", s.requireAuth(s.handleLeaderboard))
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.requireAuth(s.handleExportCSV))
	s.mux.HandleFunc("GET /api/sessions/{id}/analytics", s.requireAuth(s.handleAnalytics))
	s.mux.HandleFunc("GET /api/sessions/{id}/qrcode", s.requireAuth(s.handleQRCode))

	// Participant endpoints, no auth.
	s.mux.HandleFunc("POST /api/sessions/join", s.handleJoin)
	s.mux.HandleFunc("GET /api/sessions/by-code/{code}", s.handleSessionByCode)

	s.mux.Handle("GET /ws/session/{session_id}",
		ws.NewHandler(s.engine, s.db, s.jwt, s.metrics, s.cfg.AllowedOrigins))
}

// corsMiddleware applies the configured origin allowlist to every response
// and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type contextKey string

const userIDKey contextKey = "userID"

// requireAuth verifies the Bearer token and stashes the user ID in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		userID, err := s.jwt.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// currentUserID returns the authenticated user ID set by requireAuth.
func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworkInfo(w http.ResponseWriter, r *http.Request) {
	lanIP := s.cfg.HostLANIP
	if lanIP == "" {
		lanIP = "127.0.0.1"
	}
	writeJSON(w, http.StatusOK, map[string]any{"lan_ip": lanIP, "port": s.cfg.Port})
}
