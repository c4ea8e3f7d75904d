package db

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session statuses. Transitions only ever move forward:
// lobby -> active <-> revealing -> finished.
const (
	StatusLobby     = "lobby"
	StatusActive    = "active"
	StatusRevealing = "revealing"
	StatusFinished  = "finished"
)

// Session is one live run of a quiz.
type Session struct {
	ID                 string
	QuizID             string
	OwnerID            string
	Code               string
	Status             string
	CurrentQuestionIdx int
	CreatedAt          string
}

// SessionSummary is a listing row with quiz title and participant count.
type SessionSummary struct {
	Session
	QuizTitle        string
	ParticipantCount int
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewSessionCode returns a 6-character uppercase alphanumeric join code
// drawn uniformly from crypto/rand. Bytes at or above the largest multiple
// of the alphabet size are rejected so no character is overrepresented.
func NewSessionCode() string {
	const limit = byte(256 - 256%len(codeAlphabet))
	code := make([]byte, 0, 6)
	buf := make([]byte, 16)
	for len(code) < cap(code) {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("session code entropy: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == cap(code) {
				break
			}
		}
	}
	return string(code)
}

// CreateSession inserts a new lobby session for the quiz. Code generation
// collisions are retried up to 3 times before surfacing the error.
func (d *DB) CreateSession(quizID, ownerID string) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		s := &Session{
			ID:                 uuid.NewString(),
			QuizID:             quizID,
			OwnerID:            ownerID,
			Code:               NewSessionCode(),
			Status:             StatusLobby,
			CurrentQuestionIdx: -1,
			CreatedAt:          time.Now().UTC().Format(time.RFC3339),
		}
		_, err := d.conn.Exec(
			`INSERT INTO sessions (id, quiz_id, owner_id, code, status, current_question_idx, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.QuizID, s.OwnerID, s.Code, s.Status, s.CurrentQuestionIdx, s.CreatedAt,
		)
		if err == nil {
			return s, nil
		}
		if !IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert session: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("generate unique session code: %w", lastErr)
}

const sessionColumns = `id, quiz_id, owner_id, code, status, current_question_idx, created_at`

func scanSession(scanner interface{ Scan(...any) error }, s *Session) error {
	return scanner.Scan(&s.ID, &s.QuizID, &s.OwnerID, &s.Code, &s.Status, &s.CurrentQuestionIdx, &s.CreatedAt)
}

// GetSession retrieves a single session by ID, or nil if absent.
func (d *DB) GetSession(id string) (*Session, error) {
	s := &Session{}
	row := d.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// GetSessionByCode retrieves a session by its join code. The caller is
// responsible for uppercasing the code first.
func (d *DB) GetSessionByCode(code string) (*Session, error) {
	s := &Session{}
	row := d.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE code = ?`, code)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get session by code: %w", err)
	}
	return s, nil
}

// ListSessionsByOwner returns the owner's sessions newest first, with the
// quiz title and participant count attached.
func (d *DB) ListSessionsByOwner(ownerID string) ([]SessionSummary, error) {
	rows, err := d.conn.Query(`
		SELECT s.id, s.quiz_id, s.owner_id, s.code, s.status, s.current_question_idx, s.created_at,
		       COALESCE(q.title, '') AS quiz_title,
		       (SELECT COUNT(*) FROM participants WHERE session_id = s.id) AS participant_count
		FROM sessions s
		LEFT JOIN quizzes q ON q.id = s.quiz_id
		WHERE s.owner_id = ?
		ORDER BY s.created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.QuizID, &s.OwnerID, &s.Code, &s.Status, &s.CurrentQuestionIdx, &s.CreatedAt, &s.QuizTitle, &s.ParticipantCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionState persists a status transition together with the new
// current question index.
func (d *DB) UpdateSessionState(id, status string, currentQuestionIdx int) error {
	_, err := d.conn.Exec(
		`UPDATE sessions SET status = ?, current_question_idx = ? WHERE id = ?`,
		status, currentQuestionIdx, id,
	)
	if err != nil {
		return fmt.Errorf("update session state %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session; participants and their responses cascade.
func (d *DB) DeleteSession(id string) error {
	if _, err := d.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
