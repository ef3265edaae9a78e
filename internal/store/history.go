package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// HistoryInput carries the pre/post snapshots of one restock/pickup event.
// Products and quantities are index-aligned.
type HistoryInput struct {
	ShelfID              int64
	UserRFID             string
	Notes                string
	PreProducts          []int64
	PostProducts         []int64
	PreVerifiedQuantity  []int
	PostVerifiedQuantity []int
}

// CreateHistory persists a history record and applies the stock delta it
// represents, all inside a single transaction. The acting user is resolved
// by RFID inside the same transaction; if absent the whole operation fails
// and nothing is written. For each post pair with quantity > 0 the product
// stock is decremented and clamped back to zero if it went negative.
func (s *Store) CreateHistory(ctx context.Context, input *HistoryInput) (*History, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE rfid = ?`, input.UserRFID,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user by rfid: %w", err)
	}

	preProducts, _ := json.Marshal(emptyIfNilIDs(input.PreProducts))
	postProducts, _ := json.Marshal(emptyIfNilIDs(input.PostProducts))
	preQty, _ := json.Marshal(emptyIfNilInts(input.PreVerifiedQuantity))
	postQty, _ := json.Marshal(emptyIfNilInts(input.PostVerifiedQuantity))

	result, err := tx.ExecContext(ctx,
		`INSERT INTO histories (shelf_id, user_id, notes, pre_products, post_products, pre_verified_quantity, post_verified_quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		input.ShelfID, userID, input.Notes,
		string(preProducts), string(postProducts), string(preQty), string(postQty),
	)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	historyID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("history id: %w", err)
	}

	for i, productID := range input.PostProducts {
		qty := 0
		if i < len(input.PostVerifiedQuantity) {
			qty = input.PostVerifiedQuantity[i]
		}
		if qty <= 0 {
			continue
		}
		if err := adjustStockTx(ctx, tx, productID, -qty); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit history: %w", err)
	}

	return s.GetHistory(ctx, historyID)
}

// GetHistory returns a history record by id
func (s *Store) GetHistory(ctx context.Context, id int64) (*History, error) {
	var h History
	var preProducts, postProducts, preQty, postQty string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shelf_id, user_id, notes, pre_products, post_products, pre_verified_quantity, post_verified_quantity, created_at
		 FROM histories WHERE id = ?`, id,
	).Scan(
		&h.ID, &h.ShelfID, &h.UserID, &h.Notes,
		&preProducts, &postProducts, &preQty, &postQty, &h.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	if err := unmarshalHistoryArrays(&h, preProducts, postProducts, preQty, postQty); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHistories returns history records, newest first, optionally filtered
// by shelf, with offset/limit paging.
func (s *Store) ListHistories(ctx context.Context, shelfID int64, limit, offset int) ([]*History, error) {
	query := `SELECT id, shelf_id, user_id, notes, pre_products, post_products, pre_verified_quantity, post_verified_quantity, created_at
			  FROM histories`
	args := []interface{}{}
	if shelfID != 0 {
		query += ` WHERE shelf_id = ?`
		args = append(args, shelfID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query histories: %w", err)
	}
	defer rows.Close()

	var histories []*History
	for rows.Next() {
		var h History
		var preProducts, postProducts, preQty, postQty string
		if err := rows.Scan(
			&h.ID, &h.ShelfID, &h.UserID, &h.Notes,
			&preProducts, &postProducts, &preQty, &postQty, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := unmarshalHistoryArrays(&h, preProducts, postProducts, preQty, postQty); err != nil {
			return nil, err
		}
		histories = append(histories, &h)
	}
	return histories, rows.Err()
}

func unmarshalHistoryArrays(h *History, preProducts, postProducts, preQty, postQty string) error {
	if err := json.Unmarshal([]byte(preProducts), &h.PreProducts); err != nil {
		return fmt.Errorf("unmarshal pre products: %w", err)
	}
	if err := json.Unmarshal([]byte(postProducts), &h.PostProducts); err != nil {
		return fmt.Errorf("unmarshal post products: %w", err)
	}
	if err := json.Unmarshal([]byte(preQty), &h.PreVerifiedQuantity); err != nil {
		return fmt.Errorf("unmarshal pre quantities: %w", err)
	}
	if err := json.Unmarshal([]byte(postQty), &h.PostVerifiedQuantity); err != nil {
		return fmt.Errorf("unmarshal post quantities: %w", err)
	}
	return nil
}

func emptyIfNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func emptyIfNilInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}
