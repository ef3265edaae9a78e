package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const notificationColumns = `id, message, kind, category, shelf_id, load_cell_id, product_id, user_id, read, created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (*Notification, error) {
	var n Notification
	var shelfID, loadCellID, productID, userID sql.NullInt64
	err := row.Scan(
		&n.ID, &n.Message, &n.Kind, &n.Category,
		&shelfID, &loadCellID, &productID, &userID,
		&n.Read, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.ShelfID = nullableID(shelfID)
	n.LoadCellID = nullableID(loadCellID)
	n.ProductID = nullableID(productID)
	n.UserID = nullableID(userID)
	return &n, nil
}

// CreateNotification persists an alert
func (s *Store) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	if n.Kind == "" {
		n.Kind = KindInfo
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (message, kind, category, shelf_id, load_cell_id, product_id, user_id, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		n.Message, n.Kind, n.Category,
		toNullID(n.ShelfID), toNullID(n.LoadCellID), toNullID(n.ProductID), toNullID(n.UserID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("notification id: %w", err)
	}

	return s.GetNotification(ctx, id)
}

// GetNotification returns a notification by id
func (s *Store) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// FindUnreadLowStockAlert looks for an existing unread warning of the
// "out of goods" family for a load cell. The pattern covers both the
// "ran out of goods" and "about to run out of goods" messages. This is
// the dedup lookup.
func (s *Store) FindUnreadLowStockAlert(ctx context.Context, loadCellID int64) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE load_cell_id = ? AND kind = ? AND read = 0 AND message LIKE '%out of goods%'
		 LIMIT 1`,
		loadCellID, KindWarning)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query unread low stock alert: %w", err)
	}
	return n, nil
}

// NotificationFilter narrows ListNotifications
type NotificationFilter struct {
	Read   *bool
	Kind   string
	Limit  int
	Offset int
}

// ListNotifications returns notifications newest first
func (s *Store) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE 1=1`
	args := []interface{}{}

	if filter.Read != nil {
		query += ` AND read = ?`
		args = append(args, *filter.Read)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips the read flag on one notification
func (s *Store) MarkNotificationRead(ctx context.Context, id int64) (*Notification, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}
	return s.GetNotification(ctx, id)
}

// MarkAllNotificationsRead flips the read flag on every unread notification
// and returns how many were affected.
func (s *Store) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE read = 0`)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteNotification removes a notification
func (s *Store) DeleteNotification(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnreadNotifications returns the number of unread notifications
func (s *Store) CountUnreadNotifications(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE read = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
