package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"lattis/internal/logger"
	"lattis/internal/store"
)

// Reconciler keeps Product.stock consistent with verified load-cell
// readings and sales. It is one of the two writers of stock; the other is
// load-cell quantity ingestion via ApplyDirectQuantityEdit. Both apply the
// same clamp-to-zero policy.
type Reconciler struct {
	store  *store.Store
	alerts *AlertGuard
	logger zerolog.Logger
}

// NewReconciler creates a stock reconciler
func NewReconciler(st *store.Store, alerts *AlertGuard) *Reconciler {
	return &Reconciler{
		store:  st,
		alerts: alerts,
		logger: logger.GetLogger("inventory.reconcile"),
	}
}

// ApplyHistory records a restock/pickup event and applies its stock delta
// in one transaction. The acting user is resolved by RFID; if absent the
// operation fails as a whole and no history is created. After commit the
// previous-product pointers on the shelf's cells are cleared; a crash
// between commit and cleanup leaves stale pointers, which is accepted.
func (r *Reconciler) ApplyHistory(ctx context.Context, input *store.HistoryInput) (*store.History, error) {
	history, err := r.store.CreateHistory(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := r.store.ClearPreviousProducts(ctx, input.ShelfID); err != nil {
		// History and stock are already committed; the pointers will be
		// refreshed on the next product reassignment.
		r.logger.Warn().
			Err(err).
			Int64("shelf_id", input.ShelfID).
			Int64("history_id", history.ID).
			Msg("Failed to clear previous product pointers after history commit")
	}

	r.logger.Info().
		Int64("history_id", history.ID).
		Int64("shelf_id", history.ShelfID).
		Int64("user_id", history.UserID).
		Int("post_pairs", len(history.PostProducts)).
		Msg("History applied")

	return history, nil
}

// ApplyDirectQuantityEdit handles an operator-initiated quantity override
// on one load cell: the cell takes the new quantity and the assigned
// product's stock absorbs the difference, clamped at zero. The alert guard
// runs afterwards like on the ingestion path.
func (r *Reconciler) ApplyDirectQuantityEdit(ctx context.Context, loadCellID int64, newQuantity int) (*store.LoadCell, error) {
	if newQuantity < 0 {
		return nil, fmt.Errorf("quantity must be non-negative, got %d", newQuantity)
	}

	cell, err := r.store.GetLoadCell(ctx, loadCellID)
	if err != nil {
		return nil, err
	}

	diff := newQuantity - cell.Quantity

	if err := r.store.SetLoadCellQuantity(ctx, loadCellID, newQuantity); err != nil {
		return nil, err
	}

	if cell.ProductID != nil && diff != 0 {
		if err := r.store.AdjustProductStock(ctx, *cell.ProductID, -diff); err != nil {
			return nil, err
		}
	}

	updated, err := r.store.GetLoadCell(ctx, loadCellID)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int64("load_cell_id", loadCellID).
		Int("old_quantity", cell.Quantity).
		Int("new_quantity", newQuantity).
		Msg("Direct quantity edit applied")

	threshold := r.ProductThreshold(ctx, updated)
	if updated.Quantity <= threshold {
		if _, err := r.alerts.EnsureLowStockAlert(ctx, updated); err != nil {
			r.logger.Warn().Err(err).Int64("load_cell_id", loadCellID).Msg("Alert check failed after direct edit")
		}
	}

	return updated, nil
}

// ProductThreshold returns the low-stock threshold for a cell's assigned
// product, falling back to 1. The legacy per-cell threshold field is never
// consulted here.
func (r *Reconciler) ProductThreshold(ctx context.Context, cell *store.LoadCell) int {
	if cell.ProductID == nil {
		return 1
	}
	product, err := r.store.GetProduct(ctx, *cell.ProductID)
	if err != nil || product.Threshold <= 0 {
		return 1
	}
	return product.Threshold
}

// ShelfStockView returns the load-cell-derived per-product quantities for
// one shelf.
func (r *Reconciler) ShelfStockView(ctx context.Context, shelfID int64) ([]*store.ProductStock, error) {
	return r.store.ShelfStockView(ctx, shelfID)
}
