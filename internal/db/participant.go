package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant is an anonymous player within one session, identified by
// nickname and authenticated on the stream by an opaque token.
type Participant struct {
	ID        string
	SessionID string
	Nickname  string
	Token     string
	Score     int
	JoinedAt  string
}

// CreateParticipant inserts a new participant. The (session_id, nickname)
// uniqueness constraint is the authoritative duplicate check; a violation
// surfaces to the caller via IsUniqueViolation.
func (d *DB) CreateParticipant(sessionID, nickname, token string) (*Participant, error) {
	p := &Participant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Nickname:  nickname,
		Token:     token,
		Score:     0,
		JoinedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	_, err := d.conn.Exec(
		`INSERT INTO participants (id, session_id, nickname, token, score, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Nickname, p.Token, p.Score, p.JoinedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

const participantColumns = `id, session_id, nickname, token, score, joined_at`

func scanParticipant(scanner interface{ Scan(...any) error }, p *Participant) error {
	return scanner.Scan(&p.ID, &p.SessionID, &p.Nickname, &p.Token, &p.Score, &p.JoinedAt)
}

// GetParticipant retrieves a single participant by ID, or nil if absent.
func (d *DB) GetParticipant(id string) (*Participant, error) {
	p := &Participant{}
	row := d.conn.QueryRow(`SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	if err := scanParticipant(row, p); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

// GetParticipantByNickname retrieves the participant with that nickname in
// the session, or nil if absent.
func (d *DB) GetParticipantByNickname(sessionID, nickname string) (*Participant, error) {
	p := &Participant{}
	row := d.conn.QueryRow(
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND nickname = ?`,
		sessionID, nickname,
	)
	if err := scanParticipant(row, p); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get participant by nickname: %w", err)
	}
	return p, nil
}

// ListParticipantsByScore returns the session's participants ordered by
// score descending, ties broken by ID ascending. This is the leaderboard
// order everywhere in the system.
func (d *DB) ListParticipantsByScore(sessionID string) ([]Participant, error) {
	rows, err := d.conn.Query(
		`SELECT `+participantColumns+` FROM participants
		 WHERE session_id = ? ORDER BY score DESC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := scanParticipant(rows, &p); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CountParticipants returns the number of participants in a session.
func (d *DB) CountParticipants(sessionID string) (int, error) {
	var count int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM participants WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}
