package web

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/qrcode"
)

// sanitizeCSV defuses spreadsheet formula injection by prefixing cells that
// would otherwise be interpreted as formulas.
func sanitizeCSV(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	quiz, err := s.db.GetQuiz(session.QuizID)
	if err != nil || quiz == nil {
		log.Printf("handleExportCSV: quiz: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	participants, err := s.db.ListParticipantsByScore(session.ID)
	if err != nil {
		log.Printf("handleExportCSV: participants: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	responses, err := s.db.ListResponsesBySession(session.ID)
	if err != nil {
		log.Printf("handleExportCSV: responses: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	answerText := make(map[string]string)
	for _, q := range quiz.Questions {
		for _, a := range q.Answers {
			answerText[a.ID] = a.Text
		}
	}
	byParticipant := make(map[string]map[string]*db.Response)
	for i := range responses {
		resp := &responses[i]
		m, ok := byParticipant[resp.ParticipantID]
		if !ok {
			m = make(map[string]*db.Response)
			byParticipant[resp.ParticipantID] = m
		}
		m[resp.QuestionID] = resp
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session_%s.csv", session.Code))
	cw := csv.NewWriter(w)

	header := []string{"Rank", "Nickname", "Total Score"}
	for _, q := range quiz.Questions {
		n := q.Position + 1
		header = append(header,
			fmt.Sprintf("Q%d: Answer", n),
			fmt.Sprintf("Q%d: Correct?", n),
			fmt.Sprintf("Q%d: Time(s)", n),
			fmt.Sprintf("Q%d: Points", n),
		)
	}
	if err := cw.Write(header); err != nil {
		log.Printf("handleExportCSV: write header: %v", err)
		return
	}

	for rank, p := range participants {
		row := []string{strconv.Itoa(rank + 1), sanitizeCSV(p.Nickname), strconv.Itoa(p.Score)}
		for _, q := range quiz.Questions {
			resp := byParticipant[p.ID][q.ID]
			if resp == nil {
				row = append(row, "No answer", "false", "", "0")
				continue
			}
			text := ""
			if resp.AnswerID != nil {
				text = answerText[*resp.AnswerID]
			}
			row = append(row,
				sanitizeCSV(text),
				strconv.FormatBool(resp.IsCorrect),
				strconv.FormatFloat(resp.ResponseTime, 'f', -1, 64),
				strconv.Itoa(resp.PointsAwarded),
			)
		}
		if err := cw.Write(row); err != nil {
			log.Printf("handleExportCSV: write row: %v", err)
			return
		}
	}
	cw.Flush()
}

func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	session := s.loadOwnedSession(w, r)
	if session == nil {
		return
	}
	baseURL := r.URL.Query().Get("base_url")
	if baseURL == "" {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			scheme = "http"
		}
		host := r.Host
		if host == "" {
			host = "localhost"
		}
		baseURL = scheme + "://" + host
	}
	joinURL := strings.TrimSuffix(baseURL, "/") + "/join/" + session.Code

	uri, err := qrcode.DataURI(joinURL)
	if err != nil {
		log.Printf("handleQRCode: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"qr_base64": uri,
		"join_url":  joinURL,
		"code":      session.Code,
	})
}
