package web

import (
	"log"
	"net/http"
	"net/mail"
	"strings"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/db"
)

// dummyHash keeps login latency constant when the email is unknown, so
// failures cannot be used to enumerate accounts.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.RegistrationEnabled {
		writeError(w, http.StatusForbidden, "Registration is disabled")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	password := strings.TrimSpace(req.Password)
	displayName := strings.TrimSpace(req.DisplayName)
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if len(password) < 8 || len(password) > 128 {
		writeError(w, http.StatusBadRequest, "Password must be between 8 and 128 characters")
		return
	}
	if len(displayName) < 1 || len(displayName) > 100 {
		writeError(w, http.StatusBadRequest, "Display name must be between 1 and 100 characters")
		return
	}

	existing, err := s.db.GetUserByEmail(email)
	if err != nil {
		log.Printf("handleRegister: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Printf("handleRegister: hash: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The first account gets the admin role.
	role := "user"
	if count, err := s.db.CountUsers(); err == nil && count == 0 {
		role = "admin"
	}
	user, err := s.db.CreateUserWithRole(email, hashed, displayName, role)
	if err != nil {
		if db.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		log.Printf("handleRegister: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	password := strings.TrimSpace(req.Password)

	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		log.Printf("handleLogin: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	hashed := dummyHash
	if user != nil {
		hashed = user.HashedPassword
	}
	if !auth.VerifyPassword(password, hashed) || user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := s.jwt.Generate(user.ID)
	if err != nil {
		log.Printf("handleLogin: token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.GetUser(currentUserID(r))
	if err != nil {
		log.Printf("handleMe: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Account no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
