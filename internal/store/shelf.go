package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateShelfWithGrid creates a shelf together with its full grid of load
// cells in one transaction. Either both exist afterwards or neither does.
func (s *Store) CreateShelfWithGrid(ctx context.Context, shelf *Shelf, floors, columns int) (*Shelf, error) {
	existing, err := s.GetShelfByMacIP(ctx, shelf.MacIP)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: mac_ip %s", ErrDuplicateShelf, shelf.MacIP)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO shelves (shelf_code, name, mac_ip, location, credential_state)
		 VALUES (?, ?, ?, ?, ?)`,
		shelf.ShelfCode, shelf.Name, shelf.MacIP, shelf.Location, CredentialPending,
	)
	if err != nil {
		return nil, fmt.Errorf("insert shelf: %w", err)
	}

	shelfID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("shelf id: %w", err)
	}

	for _, userID := range shelf.UserIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shelf_users (shelf_id, user_id) VALUES (?, ?)`,
			shelfID, userID,
		); err != nil {
			return nil, fmt.Errorf("assign user %d: %w", userID, err)
		}
	}

	slot := 1
	for floor := 1; floor <= floors; floor++ {
		for col := 1; col <= columns; col++ {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO load_cells (shelf_id, slot, name, floor, col, quantity)
				 VALUES (?, ?, ?, ?, ?, 0)`,
				shelfID, slot, fmt.Sprintf("LC-%d-%d", floor, col), floor, col,
			); err != nil {
				return nil, fmt.Errorf("insert load cell %d: %w", slot, err)
			}
			slot++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit shelf creation: %w", err)
	}

	return s.GetShelf(ctx, shelfID)
}

// GetShelf returns a shelf by database id
func (s *Store) GetShelf(ctx context.Context, id int64) (*Shelf, error) {
	return s.getShelf(ctx, `WHERE id = ?`, id)
}

// GetShelfByMacIP resolves a shelf from its device identifier
func (s *Store) GetShelfByMacIP(ctx context.Context, macIP string) (*Shelf, error) {
	return s.getShelf(ctx, `WHERE mac_ip = ?`, macIP)
}

// GetShelfByCode returns a shelf by its human-readable code
func (s *Store) GetShelfByCode(ctx context.Context, code string) (*Shelf, error) {
	return s.getShelf(ctx, `WHERE shelf_code = ?`, code)
}

func (s *Store) getShelf(ctx context.Context, where string, arg interface{}) (*Shelf, error) {
	query := `SELECT id, shelf_code, name, mac_ip, location, credential_path, credential_state, created_at, updated_at
			  FROM shelves ` + where

	var shelf Shelf
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&shelf.ID, &shelf.ShelfCode, &shelf.Name, &shelf.MacIP, &shelf.Location,
		&shelf.CredentialPath, &shelf.CredentialState, &shelf.CreatedAt, &shelf.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query shelf: %w", err)
	}

	userIDs, err := s.getShelfUserIDs(ctx, shelf.ID)
	if err != nil {
		return nil, err
	}
	shelf.UserIDs = userIDs

	return &shelf, nil
}

func (s *Store) getShelfUserIDs(ctx context.Context, shelfID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM shelf_users WHERE shelf_id = ? ORDER BY user_id`, shelfID)
	if err != nil {
		return nil, fmt.Errorf("query shelf users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shelf user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListShelves returns all shelves ordered by creation time
func (s *Store) ListShelves(ctx context.Context) ([]*Shelf, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shelf_code, name, mac_ip, location, credential_path, credential_state, created_at, updated_at
		 FROM shelves ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query shelves: %w", err)
	}
	defer rows.Close()

	var shelves []*Shelf
	for rows.Next() {
		var shelf Shelf
		if err := rows.Scan(
			&shelf.ID, &shelf.ShelfCode, &shelf.Name, &shelf.MacIP, &shelf.Location,
			&shelf.CredentialPath, &shelf.CredentialState, &shelf.CreatedAt, &shelf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shelf: %w", err)
		}
		shelves = append(shelves, &shelf)
	}
	return shelves, rows.Err()
}

// SetShelfCredential records the credential artifact path and flips the
// credential state to ready. Runs outside the provisioning transaction.
func (s *Store) SetShelfCredential(ctx context.Context, shelfID int64, path string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE shelves SET credential_path = ?, credential_state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		path, CredentialReady, shelfID,
	)
	if err != nil {
		return fmt.Errorf("update shelf credential: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignShelfUsers adds users to a shelf, ignoring already assigned ones
func (s *Store) AssignShelfUsers(ctx context.Context, shelfID int64, userIDs []int64) error {
	for _, userID := range userIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO shelf_users (shelf_id, user_id) VALUES (?, ?)`,
			shelfID, userID,
		); err != nil {
			return fmt.Errorf("assign user %d: %w", userID, err)
		}
	}
	return nil
}

// DeleteShelf removes a shelf and its load cells in one transaction
func (s *Store) DeleteShelf(ctx context.Context, shelfID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM load_cells WHERE shelf_id = ?`, shelfID); err != nil {
		return fmt.Errorf("delete load cells: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM shelves WHERE id = ?`, shelfID)
	if err != nil {
		return fmt.Errorf("delete shelf: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
