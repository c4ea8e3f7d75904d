package engine

import "github.com/quizforge/quizforge/internal/db"

// Outbound message types. Every stream message is a JSON object with a
// "type" field the client routes on.
const (
	TypeGameStarted             = "game_started"
	TypeNewQuestion             = "new_question"
	TypeAnswerRevealed          = "answer_revealed"
	TypeGameEnded               = "game_ended"
	TypeParticipantJoined       = "participant_joined"
	TypeParticipantConnected    = "participant_connected"
	TypeParticipantDisconnected = "participant_disconnected"
	TypeAnswerSubmitted         = "answer_submitted"
	TypeAnswerReceived          = "answer_received"
	TypeAuthOK                  = "auth_ok"
	TypeError                   = "error"
)

// LeaderboardEntry ranks one participant. Rank is 1-based, ordered by score
// descending with ties broken by participant ID ascending.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// answerChoice is one choice on an outbound question. IsCorrect is a
// pointer so it is entirely absent before the reveal: participants must not
// learn correctness early.
type answerChoice struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Order     int    `json:"order"`
	IsCorrect *bool  `json:"is_correct,omitempty"`
}

// questionBody is the shared question portion of new_question and
// answer_revealed payloads.
type questionBody struct {
	QuestionID string         `json:"question_id"`
	Text       string         `json:"text"`
	Order      int            `json:"order"`
	TimeLimit  int            `json:"time_limit"`
	ImageURL   *string        `json:"image_url"`
	Answers    []answerChoice `json:"answers"`
}

type gameStartedMsg struct {
	Type           string `json:"type"`
	TotalQuestions int    `json:"total_questions"`
}

type newQuestionMsg struct {
	Type           string `json:"type"`
	QuestionIdx    int    `json:"question_idx"`
	TotalQuestions int    `json:"total_questions"`
	questionBody
}

type questionStats struct {
	TotalResponses int `json:"total_responses"`
	CorrectCount   int `json:"correct_count"`
}

type playerResult struct {
	ParticipantID string  `json:"participant_id"`
	Nickname      string  `json:"nickname"`
	IsCorrect     bool    `json:"is_correct"`
	AnswerID      *string `json:"answer_id"`
	PointsAwarded int     `json:"points_awarded"`
}

type answerRevealedMsg struct {
	Type        string `json:"type"`
	QuestionIdx int    `json:"question_idx"`
	questionBody
	Stats         questionStats      `json:"stats"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	PlayerResults []playerResult     `json:"player_results"`
}

type gameEndedMsg struct {
	Type        string             `json:"type"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type participantJoinedMsg struct {
	Type              string `json:"type"`
	ParticipantID     string `json:"participant_id"`
	Nickname          string `json:"nickname"`
	TotalParticipants int    `json:"total_participants"`
}

type answerSubmittedMsg struct {
	Type          string `json:"type"`
	IsCorrect     bool   `json:"is_correct"`
	PointsAwarded int    `json:"points_awarded"`
	TotalScore    int    `json:"total_score"`
}

type answerReceivedMsg struct {
	Type              string `json:"type"`
	AnsweredCount     int    `json:"answered_count"`
	TotalParticipants int    `json:"total_participants"`
	ParticipantID     string `json:"participant_id"`
}

// ErrorMsg is the generic stream error reply.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error builds an error payload for a stream.
func Error(message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Message: message}
}

// buildQuestionBody renders a question for the wire. With reveal set the
// is_correct flag is present on every choice; without it the field is
// omitted entirely.
func buildQuestionBody(q *db.Question, reveal bool) questionBody {
	answers := make([]answerChoice, 0, len(q.Answers))
	for _, a := range q.Answers {
		choice := answerChoice{ID: a.ID, Text: a.Text, Order: a.Position}
		if reveal {
			correct := a.IsCorrect
			choice.IsCorrect = &correct
		}
		answers = append(answers, choice)
	}
	return questionBody{
		QuestionID: q.ID,
		Text:       q.Text,
		Order:      q.Position,
		TimeLimit:  q.TimeLimit,
		ImageURL:   q.ImageURL,
		Answers:    answers,
	}
}

// buildLeaderboard ranks the already score-ordered participant list.
func buildLeaderboard(participants []db.Participant) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for i, p := range participants {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
			Rank:          i + 1,
		})
	}
	return entries
}
