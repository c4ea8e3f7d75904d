package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is a presenter account. Participants are anonymous and live in the
// participants table instead.
type User struct {
	ID             string
	Email          string
	HashedPassword string
	DisplayName    string
	Role           string
	CreatedAt      string
}

// CreateUser inserts a new user with the default role and returns it. A
// duplicate email surfaces as a UNIQUE violation (see IsUniqueViolation).
func (d *DB) CreateUser(email, hashedPassword, displayName string) (*User, error) {
	return d.CreateUserWithRole(email, hashedPassword, displayName, "user")
}

// CreateUserWithRole inserts a new user with an explicit role. The first
// registered account is promoted to admin this way.
func (d *DB) CreateUserWithRole(email, hashedPassword, displayName, role string) (*User, error) {
	u := &User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: hashedPassword,
		DisplayName:    displayName,
		Role:           role,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	_, err := d.conn.Exec(
		`INSERT INTO users (id, email, hashed_password, display_name, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.HashedPassword, u.DisplayName, u.Role, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// CountUsers returns the total number of registered users.
func (d *DB) CountUsers() (int, error) {
	var count int
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// GetUser retrieves a single user by ID, or nil if absent.
func (d *DB) GetUser(id string) (*User, error) {
	u := &User{}
	row := d.conn.QueryRow(
		`SELECT id, email, hashed_password, display_name, role, created_at FROM users WHERE id = ?`, id,
	)
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.DisplayName, &u.Role, &u.CreatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a single user by email, or nil if absent.
func (d *DB) GetUserByEmail(email string) (*User, error) {
	u := &User{}
	row := d.conn.QueryRow(
		`SELECT id, email, hashed_password, display_name, role, created_at FROM users WHERE email = ?`, email,
	)
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.DisplayName, &u.Role, &u.CreatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}
