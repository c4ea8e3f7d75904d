package web

import (
	"log"
	"math"
	"net/http"

	"github.com/quizforge/quizforge/internal/db"
)

type answerDistribution struct {
	AnswerID   string  `json:"answer_id"`
	Text       string  `json:"text"`
	IsCorrect  bool    `json:"is_correct"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type questionAnalytics struct {
	QuestionID         string               `json:"question_id"`
	Text               string               `json:"text"`
	Order              int                  `json:"order"`
	TimeLimit          int                  `json:"time_limit"`
	ImageURL           *string              `json:"image_url"`
	TotalResponses     int                  `json:"total_responses"`
	CorrectPercentage  float64              `json:"correct_percentage"`
	AvgResponseTime    float64              `json:"avg_response_time"`
	AnswerDistribution []answerDistribution `json:"answer_distribution"`
}

type participantAnalytics struct {
	Rank            int     `json:"rank"`
	ParticipantID   string  `json:"participant_id"`
	Nickname        string  `json:"nickname"`
	Score           int     `json:"score"`
	CorrectAnswers  int     `json:"correct_answers"`
	TotalAnswers    int     `json:"total_answers"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

type questionHighlight struct {
	QuestionID        string  `json:"question_id"`
	Text              string  `json:"text"`
	CorrectPercentage float64 `json:"correct_percentage"`
}

type sessionAnalytics struct {
	Session struct {
		ID                string `json:"id"`
		Code              string `json:"code"`
		Status            string `json:"status"`
		CreatedAt         string `json:"created_at"`
		QuizTitle         string `json:"quiz_title"`
		TotalParticipants int    `json:"total_participants"`
		TotalQuestions    int    `json:"total_questions"`
	} `json:"session"`
	Questions   []questionAnalytics    `json:"questions"`
	Leaderboard []participantAnalytics `json:"leaderboard"`
	GlobalStats struct {
		AvgScore        float64            `json:"avg_score"`
		SuccessRate     float64            `json:"success_rate"`
		EasiestQuestion *questionHighlight `json:"easiest_question"`
		HardestQuestion *questionHighlight `json:"hardest_question"`
	} `json:"global_stats"`
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	quiz, err := s.db.GetQuiz(session.QuizID)
	if err != nil || quiz == nil {
		log.Printf("handleAnalytics: quiz: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	participants, err := s.db.ListParticipantsByScore(session.ID)
	if err != nil {
		log.Printf("handleAnalytics: participants: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	responses, err := s.db.ListResponsesBySession(session.ID)
	if err != nil {
		log.Printf("handleAnalytics: responses: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	byQuestion := make(map[string][]*db.Response)
	byParticipant := make(map[string][]*db.Response)
	for i := range responses {
		resp := &responses[i]
		byQuestion[resp.QuestionID] = append(byQuestion[resp.QuestionID], resp)
		byParticipant[resp.ParticipantID] = append(byParticipant[resp.ParticipantID], resp)
	}

	out := sessionAnalytics{}
	out.Session.ID = session.ID
	out.Session.Code = session.Code
	out.Session.Status = session.Status
	out.Session.CreatedAt = session.CreatedAt
	out.Session.QuizTitle = quiz.Title
	out.Session.TotalParticipants = len(participants)
	out.Session.TotalQuestions = len(quiz.Questions)

	allCorrect, allResponses := 0, 0
	out.Questions = make([]questionAnalytics, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		qResponses := byQuestion[q.ID]
		correct := 0
		timeSum := 0.0
		for _, resp := range qResponses {
			if resp.IsCorrect {
				correct++
			}
			timeSum += resp.ResponseTime
		}
		allCorrect += correct
		allResponses += len(qResponses)

		qa := questionAnalytics{
			QuestionID:     q.ID,
			Text:           q.Text,
			Order:          q.Position,
			TimeLimit:      q.TimeLimit,
			ImageURL:       q.ImageURL,
			TotalResponses: len(qResponses),
		}
		if len(qResponses) > 0 {
			qa.CorrectPercentage = round1(float64(correct) / float64(len(qResponses)) * 100)
			qa.AvgResponseTime = round2(timeSum / float64(len(qResponses)))
		}
		for _, a := range q.Answers {
			count := 0
			for _, resp := range qResponses {
				if resp.AnswerID != nil && *resp.AnswerID == a.ID {
					count++
				}
			}
			dist := answerDistribution{
				AnswerID:  a.ID,
				Text:      a.Text,
				IsCorrect: a.IsCorrect,
				Count:     count,
			}
			if len(qResponses) > 0 {
				dist.Percentage = round1(float64(count) / float64(len(qResponses)) * 100)
			}
			qa.AnswerDistribution = append(qa.AnswerDistribution, dist)
		}
		out.Questions = append(out.Questions, qa)
	}

	out.Leaderboard = make([]participantAnalytics, 0, len(participants))
	scoreSum := 0
	for i, p := range participants {
		scoreSum += p.Score
		pResponses := byParticipant[p.ID]
		correct := 0
		timeSum := 0.0
		for _, resp := range pResponses {
			if resp.IsCorrect {
				correct++
			}
			timeSum += resp.ResponseTime
		}
		pa := participantAnalytics{
			Rank:           i + 1,
			ParticipantID:  p.ID,
			Nickname:       p.Nickname,
			Score:          p.Score,
			CorrectAnswers: correct,
			TotalAnswers:   len(pResponses),
		}
		if len(pResponses) > 0 {
			pa.AvgResponseTime = round2(timeSum / float64(len(pResponses)))
		}
		out.Leaderboard = append(out.Leaderboard, pa)
	}

	if len(participants) > 0 {
		out.GlobalStats.AvgScore = round1(float64(scoreSum) / float64(len(participants)))
	}
	if allResponses > 0 {
		out.GlobalStats.SuccessRate = round1(float64(allCorrect) / float64(allResponses) * 100)
	}
	for i := range out.Questions {
		qa := &out.Questions[i]
		if qa.TotalResponses == 0 {
			continue
		}
		if out.GlobalStats.EasiestQuestion == nil || qa.CorrectPercentage > out.GlobalStats.EasiestQuestion.CorrectPercentage {
			out.GlobalStats.EasiestQuestion = &questionHighlight{qa.QuestionID, qa.Text, qa.CorrectPercentage}
		}
		if out.GlobalStats.HardestQuestion == nil || qa.CorrectPercentage < out.GlobalStats.HardestQuestion.CorrectPercentage {
			out.GlobalStats.HardestQuestion = &questionHighlight{qa.QuestionID, qa.Text, qa.CorrectPercentage}
		}
	}

	writeJSON(w, http.StatusOK, out)
}
