package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser inserts an operator account record. Account management proper
// lives outside this service; this is the lookup surface the core needs.
func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	if u.Role == "" {
		u.Role = "employee"
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, rfid, email, full_name, role) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.RFID, u.Email, u.FullName, u.Role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}

	return s.GetUser(ctx, id)
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByRFID resolves a user from an RFID badge value
func (s *Store) GetUserByRFID(ctx context.Context, rfid string) (*User, error) {
	return s.getUser(ctx, `WHERE rfid = ?`, rfid)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, rfid, email, full_name, role FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.RFID, &u.Email, &u.FullName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}
