package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateProduct inserts a catalog item
func (s *Store) CreateProduct(ctx context.Context, p *Product) (*Product, error) {
	if p.MaxQuantity == 0 {
		p.MaxQuantity = 1
	}
	if p.Threshold == 0 {
		p.Threshold = 1
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO products (sku, name, price, discount, stock, threshold, weight, max_quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Price, p.Discount, p.Stock, p.Threshold, p.Weight, p.MaxQuantity,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("product id: %w", err)
	}

	return s.GetProduct(ctx, id)
}

// GetProduct returns a product by id
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sku, name, price, discount, stock, threshold, weight, max_quantity, created_at, updated_at
		 FROM products WHERE id = ?`, id,
	).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Price, &p.Discount, &p.Stock, &p.Threshold,
		&p.Weight, &p.MaxQuantity, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// AdjustProductStock applies a signed delta to a product's stock, then
// clamps a negative result back to zero in a corrective follow-up write.
// Both writers of stock share this policy.
func (s *Store) AdjustProductStock(ctx context.Context, productID int64, delta int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := adjustStockTx(ctx, tx, productID, delta); err != nil {
		return err
	}

	return tx.Commit()
}

// adjustStockTx is the shared decrement-then-clamp step, usable inside a
// caller-owned transaction.
func adjustStockTx(ctx context.Context, tx *sql.Tx, productID int64, delta int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		delta, productID,
	)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	var stock int
	if err := tx.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = ?`, productID,
	).Scan(&stock); err != nil {
		return fmt.Errorf("read adjusted stock: %w", err)
	}

	if stock < 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = 0 WHERE id = ?`, productID,
		); err != nil {
			return fmt.Errorf("clamp stock: %w", err)
		}
	}

	return nil
}
