package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const loadCellColumns = `id, shelf_id, slot, name, floor, col, product_id, previous_product_id, quantity, fault, threshold`

func scanLoadCell(row interface{ Scan(...interface{}) error }) (*LoadCell, error) {
	var cell LoadCell
	var productID, previousProductID sql.NullInt64
	err := row.Scan(
		&cell.ID, &cell.ShelfID, &cell.Slot, &cell.Name, &cell.Floor, &cell.Col,
		&productID, &previousProductID, &cell.Quantity, &cell.Fault, &cell.Threshold,
	)
	if err != nil {
		return nil, err
	}
	cell.ProductID = nullableID(productID)
	cell.PreviousProductID = nullableID(previousProductID)
	return &cell, nil
}

// GetLoadCell returns a load cell by id
func (s *Store) GetLoadCell(ctx context.Context, id int64) (*LoadCell, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loadCellColumns+` FROM load_cells WHERE id = ?`, id)

	cell, err := scanLoadCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query load cell: %w", err)
	}
	return cell, nil
}

// GetShelfLoadCells returns a shelf's load cells ordered by (floor, col).
// The ordering matches the physical reporting order of the device.
func (s *Store) GetShelfLoadCells(ctx context.Context, shelfID int64) ([]*LoadCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loadCellColumns+` FROM load_cells WHERE shelf_id = ? ORDER BY floor, col`, shelfID)
	if err != nil {
		return nil, fmt.Errorf("query shelf load cells: %w", err)
	}
	defer rows.Close()

	var cells []*LoadCell
	for rows.Next() {
		cell, err := scanLoadCell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan load cell: %w", err)
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// SetLoadCellQuantity writes a measured quantity and clears any fault flag
func (s *Store) SetLoadCellQuantity(ctx context.Context, id int64, quantity int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE load_cells SET quantity = ?, fault = 0 WHERE id = ?`, quantity, id)
	if err != nil {
		return fmt.Errorf("update load cell quantity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLoadCellFault marks a cell's sensor as faulted without touching the
// last known quantity.
func (s *Store) SetLoadCellFault(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE load_cells SET fault = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update load cell fault: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLoadCellThreshold writes the legacy per-cell threshold field
func (s *Store) SetLoadCellThreshold(ctx context.Context, id int64, threshold int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE load_cells SET threshold = ? WHERE id = ?`, threshold, id)
	if err != nil {
		return fmt.Errorf("update load cell threshold: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignLoadCellProduct reassigns a cell's product, remembering the old
// assignment in previous_product_id.
func (s *Store) AssignLoadCellProduct(ctx context.Context, id int64, productID *int64) error {
	cell, err := s.GetLoadCell(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE load_cells SET previous_product_id = ?, product_id = ? WHERE id = ?`,
		toNullID(cell.ProductID), toNullID(productID), id)
	if err != nil {
		return fmt.Errorf("assign load cell product: %w", err)
	}
	return nil
}

// ClearPreviousProducts clears previous_product_id on every cell of a shelf
func (s *Store) ClearPreviousProducts(ctx context.Context, shelfID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE load_cells SET previous_product_id = NULL WHERE shelf_id = ?`, shelfID)
	if err != nil {
		return fmt.Errorf("clear previous products: %w", err)
	}
	return nil
}

// ShelfStockView aggregates the load-cell-derived quantity per product
// for one shelf.
func (s *Store) ShelfStockView(ctx context.Context, shelfID int64) ([]*ProductStock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lc.product_id, p.name, SUM(lc.quantity)
		 FROM load_cells lc
		 JOIN products p ON lc.product_id = p.id
		 WHERE lc.shelf_id = ? AND lc.product_id IS NOT NULL AND lc.fault = 0
		 GROUP BY lc.product_id, p.name
		 ORDER BY p.name`, shelfID)
	if err != nil {
		return nil, fmt.Errorf("query shelf stock view: %w", err)
	}
	defer rows.Close()

	var view []*ProductStock
	for rows.Next() {
		var ps ProductStock
		if err := rows.Scan(&ps.ProductID, &ps.Name, &ps.Quantity); err != nil {
			return nil, fmt.Errorf("scan stock view row: %w", err)
		}
		view = append(view, &ps)
	}
	return view, rows.Err()
}
