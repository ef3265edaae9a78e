package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateOrder records a sale and its line items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *Order, details []*OrderDetail) (*Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO orders (order_code, status, amount) VALUES (?, ?, ?)`,
		order.OrderCode, order.Status, order.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	for _, d := range details {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_details (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?)`,
			orderID, d.ProductID, d.Quantity, d.Price,
		); err != nil {
			return nil, fmt.Errorf("insert order detail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}

	return s.GetOrderByCode(ctx, order.OrderCode)
}

// GetOrderByCode returns an order by its external code
func (s *Store) GetOrderByCode(ctx context.Context, code string) (*Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, order_code, status, amount, created_at FROM orders WHERE order_code = ?`, code,
	).Scan(&o.ID, &o.OrderCode, &o.Status, &o.Amount, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// UpdateOrderStatus records a payment status transition
func (s *Store) UpdateOrderStatus(ctx context.Context, code, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_code = ?`, status, code)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
