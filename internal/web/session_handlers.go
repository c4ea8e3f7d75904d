package web

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/engine"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req sessionCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quiz, err := s.db.GetQuiz(req.QuizID)
	if err != nil {
		log.Printf("handleCreateSession: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if quiz == nil {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return
	}
	if quiz.OwnerID != currentUserID(r) {
		writeError(w, http.StatusForbidden, "Not your quiz")
		return
	}
	if len(quiz.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "Quiz has no questions")
		return
	}

	session, err := s.db.CreateSession(quiz.ID, currentUserID(r))
	if err != nil {
		log.Printf("handleCreateSession: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate unique session code")
		return
	}
	s.metrics.SessionsCreated.Inc()
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessionsByOwner(currentUserID(r))
	if err != nil {
		log.Printf("handleListSessions: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	out := make([]sessionSummaryResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionSummaryResponse{
			sessionResponse:  toSessionResponse(&sessions[i].Session),
			QuizTitle:        sessions[i].QuizTitle,
			ParticipantCount: sessions[i].ParticipantCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// loadOwnedSession fetches the session and enforces ownership, writing the
// error response itself when the session is unavailable.
func (s *Server) loadOwnedSession(w http.ResponseWriter, r *http.Request) *db.Session {
	session, err := s.db.GetSession(r.PathValue("id"))
	if err != nil {
		log.Printf("loadOwnedSession: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil
	}
	if session.OwnerID != currentUserID(r) {
		writeError(w, http.StatusForbidden, "Not your session")
		return nil
	}
	return session
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	if err := s.db.DeleteSession(session.ID); err != nil {
		log.Printf("handleDeleteSession: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	s.engine.Forget(session.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	if err := s.engine.ForceFinish(session.ID); err != nil {
		if errors.Is(err, engine.ErrAlreadyFinished) {
			writeError(w, http.StatusBadRequest, "Session already finished")
			return
		}
		log.Printf("handleFinishSession: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": db.StatusFinished, "id": session.ID})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	leaderboard, err := s.engine.Leaderboard(session.ID)
	if err != nil {
		log.Printf("handleLeaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, leaderboard)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.engine.Join(req.Code, req.Nickname)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidNickname):
			writeError(w, http.StatusBadRequest, "Nickname must be 1-50 characters of letters, digits, spaces, dots, or hyphens")
		case errors.Is(err, engine.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, engine.ErrSessionFinished):
			writeError(w, http.StatusBadRequest, "Session is finished")
		case errors.Is(err, engine.ErrSessionStarted):
			writeError(w, http.StatusBadRequest, "Session already started")
		case errors.Is(err, engine.ErrNicknameTaken):
			writeError(w, http.StatusConflict, "Nickname already taken in this session")
		default:
			log.Printf("handleJoin: %v", err)
			writeError(w, http.StatusInternalServerError, "database error")
		}
		return
	}

	if !result.Rejoined {
		s.metrics.ParticipantsJoined.Inc()
	}
	p := result.Participant
	writeJSON(w, http.StatusCreated, joinResponse{
		ID:        p.ID,
		Nickname:  p.Nickname,
		Score:     p.Score,
		JoinedAt:  p.JoinedAt,
		SessionID: result.SessionID,
		Token:     p.Token,
	})
}

func (s *Server) handleSessionByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("code"))
	session, err := s.db.GetSessionByCode(code)
	if err != nil {
		log.Printf("handleSessionByCode: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	quizTitle := ""
	if quiz, err := s.db.GetQuiz(session.QuizID); err == nil && quiz != nil {
		quizTitle = quiz.Title
	}
	count, err := s.db.CountParticipants(session.ID)
	if err != nil {
		log.Printf("handleSessionByCode: count: %v", err)
	}
	writeJSON(w, http.StatusOK, sessionByCodeResponse{
		Code:               session.Code,
		Status:             session.Status,
		QuizTitle:          quizTitle,
		CurrentQuestionIdx: session.CurrentQuestionIdx,
		ParticipantCount:   count,
	})
}
