package web

import "github.com/quizforge/quizforge/internal/db"

// --- Requests ---

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type answerCreateRequest struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

type questionCreateRequest struct {
	Text      string                `json:"text"`
	ImageURL  *string               `json:"image_url"`
	Order     int                   `json:"order"`
	TimeLimit int                   `json:"time_limit"`
	Answers   []answerCreateRequest `json:"answers"`
}

type quizCreateRequest struct {
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Questions   []questionCreateRequest `json:"questions"`
}

type sessionCreateRequest struct {
	QuizID string `json:"quiz_id"`
}

type joinRequest struct {
	Code     string `json:"code"`
	Nickname string `json:"nickname"`
}

// --- Responses ---

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type answerResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

type questionResponse struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Order     int              `json:"order"`
	TimeLimit int              `json:"time_limit"`
	ImageURL  *string          `json:"image_url"`
	Answers   []answerResponse `json:"answers"`
}

type quizResponse struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	OwnerID     string             `json:"owner_id"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
	Questions   []questionResponse `json:"questions"`
}

type quizSummaryResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	QuestionCount int    `json:"question_count"`
}

type sessionResponse struct {
	ID                 string `json:"id"`
	QuizID             string `json:"quiz_id"`
	OwnerID            string `json:"owner_id"`
	Code               string `json:"code"`
	Status             string `json:"status"`
	CurrentQuestionIdx int    `json:"current_question_idx"`
	CreatedAt          string `json:"created_at"`
}

type sessionSummaryResponse struct {
	sessionResponse
	QuizTitle        string `json:"quiz_title"`
	ParticipantCount int    `json:"participant_count"`
}

type joinResponse struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	JoinedAt  string `json:"joined_at"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type sessionByCodeResponse struct {
	Code               string `json:"code"`
	Status             string `json:"status"`
	QuizTitle          string `json:"quiz_title"`
	CurrentQuestionIdx int    `json:"current_question_idx"`
	ParticipantCount   int    `json:"participant_count"`
}

// --- Converters ---

func toUserResponse(u *db.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

func toQuizResponse(q *db.Quiz) quizResponse {
	resp := quizResponse{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		OwnerID:     q.OwnerID,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
		Questions:   make([]questionResponse, 0, len(q.Questions)),
	}
	for _, question := range q.Questions {
		qr := questionResponse{
			ID:        question.ID,
			Text:      question.Text,
			Order:     question.Position,
			TimeLimit: question.TimeLimit,
			ImageURL:  question.ImageURL,
			Answers:   make([]answerResponse, 0, len(question.Answers)),
		}
		for _, a := range question.Answers {
			qr.Answers = append(qr.Answers, answerResponse{
				ID:        a.ID,
				Text:      a.Text,
				IsCorrect: a.IsCorrect,
				Order:     a.Position,
			})
		}
		resp.Questions = append(resp.Questions, qr)
	}
	return resp
}

func toSessionResponse(s *db.Session) sessionResponse {
	return sessionResponse{
		ID:                 s.ID,
		QuizID:             s.QuizID,
		OwnerID:            s.OwnerID,
		Code:               s.Code,
		Status:             s.Status,
		CurrentQuestionIdx: s.CurrentQuestionIdx,
		CreatedAt:          s.CreatedAt,
	}
}
