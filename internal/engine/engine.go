// Package engine owns the authoritative state of live quiz sessions: the
// lobby -> active -> revealing -> finished state machine, answer intake and
// speed-weighted scoring, participant admission, and late-joiner catch-up.
//
// Every mutation of a session runs under that session's mutex, so presenter
// commands, answer submissions, and joins serialize per session. Fan-out
// ordering then follows from the hub enqueueing messages in submission
// order.
package engine

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/hub"
)

// Presenter command types accepted on a stream.
const (
	CmdStartGame    = "start_game"
	CmdNextQuestion = "next_question"
	CmdRevealAnswer = "reveal_answer"
	CmdEndGame      = "end_game"
	CmdSubmitAnswer = "submit_answer"
)

// Join admission errors, mapped to HTTP statuses by the REST layer.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFinished = errors.New("session is finished")
	ErrSessionStarted  = errors.New("session already started")
	ErrNicknameTaken   = errors.New("nickname already taken in this session")
	ErrInvalidNickname = errors.New("invalid nickname")
	ErrAlreadyFinished = errors.New("session already finished")
)

var nicknameRe = regexp.MustCompile(`^[\w\s.\-]+$`)

// Engine drives all live sessions in the process.
type Engine struct {
	db  *db.DB
	hub *hub.Hub

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine over the store and hub.
func New(database *db.DB, h *hub.Hub) *Engine {
	return &Engine{
		db:    database,
		hub:   h,
		locks: make(map[string]*sync.Mutex),
	}
}

// Hub exposes the subscriber hub for the transport layer.
func (e *Engine) Hub() *hub.Hub {
	return e.hub
}

// sessionLock returns the serialization mutex for a session, creating it on
// first use.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// Forget drops the serialization mutex for a deleted session.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, sessionID)
}

// loadSessionQuiz reads the session and its quiz fresh from the store.
// Questions and answers come back ordered by position.
func (e *Engine) loadSessionQuiz(sessionID string) (*db.Session, *db.Quiz, error) {
	session, err := e.db.GetSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	quiz, err := e.db.GetQuiz(session.QuizID)
	if err != nil {
		return nil, nil, err
	}
	if quiz == nil {
		return nil, nil, fmt.Errorf("quiz %s missing for session %s", session.QuizID, sessionID)
	}
	return session, quiz, nil
}

// HandleCommand dispatches one presenter command. Illegal transitions are
// ignored without error; only store failures surface.
func (e *Engine) HandleCommand(sessionID, command string) error {
	switch command {
	case CmdStartGame:
		return e.StartGame(sessionID)
	case CmdNextQuestion:
		return e.NextQuestion(sessionID)
	case CmdRevealAnswer:
		return e.RevealAnswer(sessionID)
	case CmdEndGame:
		return e.EndGame(sessionID)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// StartGame moves a lobby session to active on question 0 and broadcasts
// game_started followed by the first question. Ignored unless the session
// is exactly in lobby.
func (e *Engine) StartGame(sessionID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, quiz, err := e.loadSessionQuiz(sessionID)
	if err != nil {
		return err
	}
	if session.Status != db.StatusLobby || len(quiz.Questions) == 0 {
		return nil
	}
	if err := e.db.UpdateSessionState(sessionID, db.StatusActive, 0); err != nil {
		return err
	}

	e.hub.Broadcast(sessionID, gameStartedMsg{
		Type:           TypeGameStarted,
		TotalQuestions: len(quiz.Questions),
	})
	e.hub.Broadcast(sessionID, newQuestionMsg{
		Type:           TypeNewQuestion,
		QuestionIdx:    0,
		TotalQuestions: len(quiz.Questions),
		questionBody:   buildQuestionBody(&quiz.Questions[0], false),
	})
	e.hub.MarkQuestionSent(sessionID)
	return nil
}

// NextQuestion advances to the next question from active or revealing.
// Advancing past the last question is ignored; the presenter is expected to
// reveal and then end the game instead.
func (e *Engine) NextQuestion(sessionID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, quiz, err := e.loadSessionQuiz(sessionID)
	if err != nil {
		return err
	}
	if session.Status != db.StatusActive && session.Status != db.StatusRevealing {
		return nil
	}
	nextIdx := session.CurrentQuestionIdx + 1
	if nextIdx >= len(quiz.Questions) {
		return nil
	}
	if err := e.db.UpdateSessionState(sessionID, db.StatusActive, nextIdx); err != nil {
		return err
	}

	e.hub.Broadcast(sessionID, newQuestionMsg{
		Type:           TypeNewQuestion,
		QuestionIdx:    nextIdx,
		TotalQuestions: len(quiz.Questions),
		questionBody:   buildQuestionBody(&quiz.Questions[nextIdx], false),
	})
	e.hub.MarkQuestionSent(sessionID)
	return nil
}

// RevealAnswer exposes correctness, per-question stats, the leaderboard,
// and per-player results for the current question. Re-issuing while already
// revealing re-emits the payload. Ignored from lobby or finished.
func (e *Engine) RevealAnswer(sessionID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, quiz, err := e.loadSessionQuiz(sessionID)
	if err != nil {
		return err
	}
	if session.Status != db.StatusActive && session.Status != db.StatusRevealing {
		return nil
	}
	idx := session.CurrentQuestionIdx
	if idx < 0 || idx >= len(quiz.Questions) {
		return nil
	}
	if err := e.db.UpdateSessionState(sessionID, db.StatusRevealing, idx); err != nil {
		return err
	}

	question := &quiz.Questions[idx]
	participants, err := e.db.ListParticipantsByScore(sessionID)
	if err != nil {
		return err
	}
	responses, err := e.db.ListResponsesForQuestion(sessionID, question.ID)
	if err != nil {
		return err
	}

	correctCount := 0
	responseByPID := make(map[string]*db.Response, len(responses))
	for i := range responses {
		r := &responses[i]
		responseByPID[r.ParticipantID] = r
		if r.IsCorrect {
			correctCount++
		}
	}

	results := make([]playerResult, 0, len(participants))
	for _, p := range participants {
		result := playerResult{ParticipantID: p.ID, Nickname: p.Nickname}
		if r := responseByPID[p.ID]; r != nil {
			result.IsCorrect = r.IsCorrect
			result.AnswerID = r.AnswerID
			result.PointsAwarded = r.PointsAwarded
		}
		results = append(results, result)
	}

	e.hub.Broadcast(sessionID, answerRevealedMsg{
		Type:         TypeAnswerRevealed,
		QuestionIdx:  idx,
		questionBody: buildQuestionBody(question, true),
		Stats: questionStats{
			TotalResponses: len(responses),
			CorrectCount:   correctCount,
		},
		Leaderboard:   buildLeaderboard(participants),
		PlayerResults: results,
	})
	return nil
}

// EndGame moves any non-finished session to finished and broadcasts the
// final leaderboard. Ignored once finished.
func (e *Engine) EndGame(sessionID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()
	return e.endGameLocked(sessionID)
}

func (e *Engine) endGameLocked(sessionID string) error {
	session, err := e.db.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Status == db.StatusFinished {
		return nil
	}
	if err := e.db.UpdateSessionState(sessionID, db.StatusFinished, session.CurrentQuestionIdx); err != nil {
		return err
	}

	leaderboard, err := e.Leaderboard(sessionID)
	if err != nil {
		return err
	}
	e.hub.Broadcast(sessionID, gameEndedMsg{Type: TypeGameEnded, Leaderboard: leaderboard})
	return nil
}

// ForceFinish is the REST path to end a session. Unlike the stream command
// it reports an already-finished session as an error so the API can return
// a conflict.
func (e *Engine) ForceFinish(sessionID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := e.db.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Status == db.StatusFinished {
		return ErrAlreadyFinished
	}
	return e.endGameLocked(sessionID)
}

// SubmitAnswer handles one participant answer. Validation failures are
// reported to that participant alone; submissions outside an active window
// are dropped silently. The returned error is for logging only.
func (e *Engine) SubmitAnswer(sessionID, participantID, answerID string) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, quiz, err := e.loadSessionQuiz(sessionID)
	if err != nil {
		return err
	}
	if session.Status != db.StatusActive {
		// Late submission after the reveal: silent drop.
		return nil
	}
	if strings.TrimSpace(answerID) == "" {
		e.hub.ToParticipant(sessionID, participantID, Error("answer_id is required and must be a non-empty string"))
		return nil
	}
	idx := session.CurrentQuestionIdx
	if idx < 0 || idx >= len(quiz.Questions) {
		return nil
	}
	question := &quiz.Questions[idx]

	// Server-measured response time; the client never supplies it.
	elapsed := 0.0
	if d, ok := e.hub.ElapsedSinceQuestion(sessionID); ok {
		elapsed = d.Seconds()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > float64(question.TimeLimit) {
		elapsed = float64(question.TimeLimit)
	}

	var answer *db.Answer
	for i := range question.Answers {
		if question.Answers[i].ID == answerID {
			answer = &question.Answers[i]
			break
		}
	}
	if answer == nil {
		e.hub.ToParticipant(sessionID, participantID, Error("Invalid answer"))
		return nil
	}

	points := 0
	if answer.IsCorrect {
		points = scorePoints(question.TimeLimit, elapsed)
	}

	answerRef := answerID
	err = e.db.InsertResponseWithScore(&db.Response{
		ParticipantID: participantID,
		QuestionID:    question.ID,
		AnswerID:      &answerRef,
		IsCorrect:     answer.IsCorrect,
		ResponseTime:  elapsed,
		PointsAwarded: points,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			e.hub.ToParticipant(sessionID, participantID, Error("Already answered this question"))
			return nil
		}
		return err
	}

	participant, err := e.db.GetParticipant(participantID)
	if err != nil {
		return err
	}
	totalScore := 0
	if participant != nil {
		totalScore = participant.Score
	}
	e.hub.ToParticipant(sessionID, participantID, answerSubmittedMsg{
		Type:          TypeAnswerSubmitted,
		IsCorrect:     answer.IsCorrect,
		PointsAwarded: points,
		TotalScore:    totalScore,
	})

	answeredCount, err := e.db.CountResponsesForQuestion(sessionID, question.ID)
	if err != nil {
		return err
	}
	totalParticipants, err := e.db.CountParticipants(sessionID)
	if err != nil {
		return err
	}
	e.hub.ToPresenter(sessionID, answerReceivedMsg{
		Type:              TypeAnswerReceived,
		AnsweredCount:     answeredCount,
		TotalParticipants: totalParticipants,
		ParticipantID:     participantID,
	})
	return nil
}

// scorePoints computes the speed-weighted score for a correct answer:
// floor(500 + 500 * (1 - elapsed/timeLimit)), in [500, 1000]. The float
// result is truncated, not rounded.
func scorePoints(timeLimit int, elapsed float64) int {
	tl := timeLimit
	if tl < 1 {
		tl = 1
	}
	ratio := 1 - elapsed/float64(tl)
	if ratio < 0 {
		ratio = 0
	}
	return int(500 + 500*ratio)
}

// JoinResult is what the REST join endpoint returns to the participant.
type JoinResult struct {
	Participant *db.Participant
	SessionID   string
	Rejoined    bool
}

// Join admits a participant by session code. In the lobby a fresh nickname
// creates a participant; during active/revealing the same nickname rejoins
// with its original identity and token; everything else is rejected.
func (e *Engine) Join(code, nickname string) (*JoinResult, error) {
	nickname = strings.TrimSpace(nickname)
	if len(nickname) < 1 || len(nickname) > 50 || !nicknameRe.MatchString(nickname) {
		return nil, ErrInvalidNickname
	}

	session, err := e.db.GetSessionByCode(strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	l := e.sessionLock(session.ID)
	l.Lock()
	defer l.Unlock()

	// Status may have changed while we waited for the lock.
	session, err = e.db.GetSession(session.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == db.StatusFinished {
		return nil, ErrSessionFinished
	}

	existing, err := e.db.GetParticipantByNickname(session.ID, nickname)
	if err != nil {
		return nil, err
	}

	if session.Status == db.StatusActive || session.Status == db.StatusRevealing {
		if existing == nil {
			return nil, ErrSessionStarted
		}
		return &JoinResult{Participant: existing, SessionID: session.ID, Rejoined: true}, nil
	}

	if existing != nil {
		return nil, ErrNicknameTaken
	}

	token, err := auth.NewParticipantToken()
	if err != nil {
		return nil, err
	}
	participant, err := e.db.CreateParticipant(session.ID, nickname, token)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrNicknameTaken
		}
		return nil, err
	}

	total, err := e.db.CountParticipants(session.ID)
	if err != nil {
		log.Printf("engine: count participants after join: %v", err)
		total = 0
	}
	e.hub.ToPresenter(session.ID, participantJoinedMsg{
		Type:              TypeParticipantJoined,
		ParticipantID:     participant.ID,
		Nickname:          participant.Nickname,
		TotalParticipants: total,
	})

	return &JoinResult{Participant: participant, SessionID: session.ID, Rejoined: false}, nil
}

// SyncSubscriber brings a freshly authenticated participant stream up to
// the current session state: nothing in the lobby, otherwise game_started
// plus the current question, with correctness included only when the
// session is already revealing.
func (e *Engine) SyncSubscriber(sessionID string, sub *hub.Subscriber) error {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, quiz, err := e.loadSessionQuiz(sessionID)
	if err != nil {
		return err
	}
	if session.Status != db.StatusActive && session.Status != db.StatusRevealing {
		return nil
	}

	e.hub.SendTo(sessionID, sub, gameStartedMsg{
		Type:           TypeGameStarted,
		TotalQuestions: len(quiz.Questions),
	})
	idx := session.CurrentQuestionIdx
	if idx >= 0 && idx < len(quiz.Questions) {
		reveal := session.Status == db.StatusRevealing
		e.hub.SendTo(sessionID, sub, newQuestionMsg{
			Type:           TypeNewQuestion,
			QuestionIdx:    idx,
			TotalQuestions: len(quiz.Questions),
			questionBody:   buildQuestionBody(&quiz.Questions[idx], reveal),
		})
	}
	return nil
}

// Leaderboard returns the ranked standing for a session.
func (e *Engine) Leaderboard(sessionID string) ([]LeaderboardEntry, error) {
	participants, err := e.db.ListParticipantsByScore(sessionID)
	if err != nil {
		return nil, err
	}
	return buildLeaderboard(participants), nil
}
