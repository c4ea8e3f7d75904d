package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/quizforge/quizforge/internal/db"
)

// validateQuizCreate enforces the authoring bounds: 1-200 char title,
// questions with 2-6 answers, exactly one correct answer per question, and
// a time limit of 5-300 seconds.
func validateQuizCreate(req *quizCreateRequest) error {
	title := strings.TrimSpace(req.Title)
	if len(title) < 1 || len(title) > 200 {
		return fmt.Errorf("title must be between 1 and 200 characters")
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %d: text is required", i+1)
		}
		if q.TimeLimit < 5 || q.TimeLimit > 300 {
			return fmt.Errorf("question %d: time_limit must be between 5 and 300 seconds", i+1)
		}
		if len(q.Answers) < 2 || len(q.Answers) > 6 {
			return fmt.Errorf("question %d: must have between 2 and 6 answers", i+1)
		}
		correct := 0
		for j, a := range q.Answers {
			if strings.TrimSpace(a.Text) == "" {
				return fmt.Errorf("question %d answer %d: text is required", i+1, j+1)
			}
			if a.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("question %d: exactly one answer must be correct", i+1)
		}
	}
	return nil
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req quizCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Questions == nil {
		req.Questions = []questionCreateRequest{}
	}
	for i := range req.Questions {
		if req.Questions[i].TimeLimit == 0 {
			req.Questions[i].TimeLimit = 30
		}
	}
	if err := validateQuizCreate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quiz := &db.Quiz{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		OwnerID:     currentUserID(r),
	}
	for _, q := range req.Questions {
		question := db.Question{
			Text:      q.Text,
			ImageURL:  q.ImageURL,
			Position:  q.Order,
			TimeLimit: q.TimeLimit,
		}
		for _, a := range q.Answers {
			question.Answers = append(question.Answers, db.Answer{
				Text:      a.Text,
				IsCorrect: a.IsCorrect,
				Position:  a.Order,
			})
		}
		quiz.Questions = append(quiz.Questions, question)
	}
	if err := s.db.CreateQuiz(quiz); err != nil {
		log.Printf("handleCreateQuiz: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusCreated, toQuizResponse(quiz))
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.db.ListQuizzesByOwner(currentUserID(r))
	if err != nil {
		log.Printf("handleListQuizzes: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	out := make([]quizSummaryResponse, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, quizSummaryResponse{
			ID:            q.ID,
			Title:         q.Title,
			Description:   q.Description,
			CreatedAt:     q.CreatedAt,
			UpdatedAt:     q.UpdatedAt,
			QuestionCount: q.QuestionCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// loadOwnedQuiz fetches the quiz and enforces ownership, writing the error
// response itself when the quiz is unavailable.
func (s *Server) loadOwnedQuiz(w http.ResponseWriter, r *http.Request) *db.Quiz {
	quiz, err := s.db.GetQuiz(r.PathValue("id"))
	if err != nil {
		log.Printf("loadOwnedQuiz: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if quiz == nil {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return nil
	}
	if quiz.OwnerID != currentUserID(r) {
		writeError(w, http.StatusForbidden, "Not your quiz")
		return nil
	}
	return quiz
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz := s.loadOwnedQuiz(w, r)
	if quiz == nil {
		return
	}
	writeJSON(w, http.StatusOK, toQuizResponse(quiz))
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	quiz := s.loadOwnedQuiz(w, r)
	if quiz == nil {
		return
	}
	if err := s.db.DeleteQuiz(quiz.ID); err != nil {
		log.Printf("handleDeleteQuiz: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
