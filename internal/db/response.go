package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Response records one participant's answer to one question. A missing row
// is the "no answer" state; once written a response is immutable.
type Response struct {
	ID            string
	ParticipantID string
	QuestionID    string
	AnswerID      *string
	IsCorrect     bool
	ResponseTime  float64 // seconds, server-measured
	PointsAwarded int
	AnsweredAt    string
}

// InsertResponseWithScore inserts the response and increments the
// participant's score by PointsAwarded in one transaction. The
// (participant_id, question_id) uniqueness constraint enforces at-most-once
// answering: a violation rolls back both writes and surfaces to the caller
// via IsUniqueViolation.
func (d *DB) InsertResponseWithScore(r *Response) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin insert response: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AnsweredAt = time.Now().UTC().Format(time.RFC3339)

	_, err = tx.Exec(
		`INSERT INTO participant_responses (id, participant_id, question_id, answer_id, is_correct, response_time, points_awarded, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParticipantID, r.QuestionID, r.AnswerID, boolToInt(r.IsCorrect), r.ResponseTime, r.PointsAwarded, r.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	if r.PointsAwarded != 0 {
		_, err = tx.Exec(
			`UPDATE participants SET score = score + ? WHERE id = ?`,
			r.PointsAwarded, r.ParticipantID,
		)
		if err != nil {
			return fmt.Errorf("increment score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert response: %w", err)
	}
	return nil
}

const responseColumns = `r.id, r.participant_id, r.question_id, r.answer_id, r.is_correct, COALESCE(r.response_time, 0), r.points_awarded, r.answered_at`

func scanResponse(scanner interface{ Scan(...any) error }, r *Response) error {
	var correct int
	if err := scanner.Scan(&r.ID, &r.ParticipantID, &r.QuestionID, &r.AnswerID, &correct, &r.ResponseTime, &r.PointsAwarded, &r.AnsweredAt); err != nil {
		return err
	}
	r.IsCorrect = correct == 1
	return nil
}

// ListResponsesForQuestion returns all responses to the question from
// participants of the given session.
func (d *DB) ListResponsesForQuestion(sessionID, questionID string) ([]Response, error) {
	rows, err := d.conn.Query(
		`SELECT `+responseColumns+` FROM participant_responses r
		 JOIN participants p ON p.id = r.participant_id
		 WHERE p.session_id = ? AND r.question_id = ?`, sessionID, questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses for question: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var responses []Response
	for rows.Next() {
		var r Response
		if err := scanResponse(rows, &r); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// CountResponsesForQuestion returns how many of the session's participants
// have a persisted response for the question.
func (d *DB) CountResponsesForQuestion(sessionID, questionID string) (int, error) {
	var count int
	err := d.conn.QueryRow(
		`SELECT COUNT(*) FROM participant_responses r
		 JOIN participants p ON p.id = r.participant_id
		 WHERE p.session_id = ? AND r.question_id = ?`, sessionID, questionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count responses for question: %w", err)
	}
	return count, nil
}

// ListResponsesBySession returns every response from the session's
// participants, for export and analytics.
func (d *DB) ListResponsesBySession(sessionID string) ([]Response, error) {
	rows, err := d.conn.Query(
		`SELECT `+responseColumns+` FROM participant_responses r
		 JOIN participants p ON p.id = r.participant_id
		 WHERE p.session_id = ?`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses for session: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var responses []Response
	for rows.Next() {
		var r Response
		if err := scanResponse(rows, &r); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
