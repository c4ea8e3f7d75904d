package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Quiz is an immutable (once a session runs against it) quiz definition.
type Quiz struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	CreatedAt   string
	UpdatedAt   string
	Questions   []Question
}

// Question carries its answer choices ordered by position.
type Question struct {
	ID        string
	QuizID    string
	Text      string
	ImageURL  *string
	Position  int
	TimeLimit int // seconds
	Answers   []Answer
}

// Answer is one choice on a question.
type Answer struct {
	ID         string
	QuestionID string
	Text       string
	IsCorrect  bool
	Position   int
}

// CreateQuiz inserts a quiz with its nested questions and answers in one
// transaction. Missing IDs are generated.
func (d *DB) CreateQuiz(q *Quiz) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin create quiz: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = now
	q.UpdatedAt = now

	_, err = tx.Exec(
		`INSERT INTO quizzes (id, title, description, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.Title, q.Description, q.OwnerID, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}

	for qi := range q.Questions {
		question := &q.Questions[qi]
		if question.ID == "" {
			question.ID = uuid.NewString()
		}
		question.QuizID = q.ID
		_, err = tx.Exec(
			`INSERT INTO questions (id, quiz_id, text, image_url, position, time_limit)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			question.ID, question.QuizID, question.Text, question.ImageURL, question.Position, question.TimeLimit,
		)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for ai := range question.Answers {
			answer := &question.Answers[ai]
			if answer.ID == "" {
				answer.ID = uuid.NewString()
			}
			answer.QuestionID = question.ID
			_, err = tx.Exec(
				`INSERT INTO answers (id, question_id, text, is_correct, position)
				 VALUES (?, ?, ?, ?, ?)`,
				answer.ID, answer.QuestionID, answer.Text, boolToInt(answer.IsCorrect), answer.Position,
			)
			if err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create quiz: %w", err)
	}
	return nil
}

// GetQuiz retrieves a quiz with its questions and answers ordered by
// position, or nil if absent. Command handlers always read the quiz fresh
// through this method so a command observes a consistent ordering.
func (d *DB) GetQuiz(id string) (*Quiz, error) {
	q := &Quiz{}
	row := d.conn.QueryRow(
		`SELECT id, title, description, owner_id, created_at, updated_at FROM quizzes WHERE id = ?`, id,
	)
	if err := row.Scan(&q.ID, &q.Title, &q.Description, &q.OwnerID, &q.CreatedAt, &q.UpdatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get quiz %s: %w", id, err)
	}

	rows, err := d.conn.Query(
		`SELECT id, quiz_id, text, image_url, position, time_limit FROM questions
		 WHERE quiz_id = ? ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var question Question
		if err := rows.Scan(&question.ID, &question.QuizID, &question.Text, &question.ImageURL, &question.Position, &question.TimeLimit); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Questions = append(q.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for qi := range q.Questions {
		question := &q.Questions[qi]
		arows, err := d.conn.Query(
			`SELECT id, question_id, text, is_correct, position FROM answers
			 WHERE question_id = ? ORDER BY position ASC`, question.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		for arows.Next() {
			var a Answer
			var correct int
			if err := arows.Scan(&a.ID, &a.QuestionID, &a.Text, &correct, &a.Position); err != nil {
				_ = arows.Close()
				return nil, fmt.Errorf("scan answer: %w", err)
			}
			a.IsCorrect = correct == 1
			question.Answers = append(question.Answers, a)
		}
		if err := arows.Err(); err != nil {
			_ = arows.Close()
			return nil, err
		}
		_ = arows.Close()
	}

	return q, nil
}

// ListQuizzesByOwner returns the owner's quizzes without nested questions,
// newest first, with a question count per quiz.
func (d *DB) ListQuizzesByOwner(ownerID string) ([]QuizSummary, error) {
	rows, err := d.conn.Query(`
		SELECT q.id, q.title, q.description, q.created_at, q.updated_at,
		       (SELECT COUNT(*) FROM questions WHERE quiz_id = q.id) AS question_count
		FROM quizzes q
		WHERE q.owner_id = ?
		ORDER BY q.created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var quizzes []QuizSummary
	for rows.Next() {
		var s QuizSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan quiz summary: %w", err)
		}
		quizzes = append(quizzes, s)
	}
	return quizzes, rows.Err()
}

// QuizSummary is the lightweight listing row for the dashboard.
type QuizSummary struct {
	ID            string
	Title         string
	Description   string
	CreatedAt     string
	UpdatedAt     string
	QuestionCount int
}

// DeleteQuiz removes a quiz; questions, answers, and any sessions run
// against it (with their participants and responses) cascade.
func (d *DB) DeleteQuiz(id string) error {
	if _, err := d.conn.Exec(`DELETE FROM quizzes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete quiz %s: %w", id, err)
	}
	return nil
}
