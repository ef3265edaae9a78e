package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"lattis/internal/logger"
	"lattis/internal/realtime"
	"lattis/internal/store"
)

// AlertGuard creates low-stock alerts while suppressing duplicates: at most
// one unread warning of the "run out of goods" family may exist per load
// cell. The check is evaluated per event, not transactionally locked; the
// per-topic worker serializes broker-originated duplicates.
type AlertGuard struct {
	store       *store.Store
	broadcaster *realtime.Broadcaster
	logger      zerolog.Logger
}

// NewAlertGuard creates an alert guard
func NewAlertGuard(st *store.Store, broadcaster *realtime.Broadcaster) *AlertGuard {
	return &AlertGuard{
		store:       st,
		broadcaster: broadcaster,
		logger:      logger.GetLogger("inventory.alerts"),
	}
}

// EnsureLowStockAlert creates an unread low-stock warning for the cell
// unless one already exists. Returns nil when suppressed. Faulted cells
// never reach this point; see the ingestion handlers.
func (g *AlertGuard) EnsureLowStockAlert(ctx context.Context, cell *store.LoadCell) (*store.Notification, error) {
	existing, err := g.store.FindUnreadLowStockAlert(ctx, cell.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		g.logger.Debug().
			Int64("load_cell_id", cell.ID).
			Int64("notification_id", existing.ID).
			Msg("Low stock alert suppressed, unread warning exists")
		return nil, nil
	}

	shelfName := "Shelf"
	if shelf, err := g.store.GetShelf(ctx, cell.ShelfID); err == nil {
		shelfName = shelf.ShelfCode
	}

	productName := "Product"
	if cell.ProductID != nil {
		if product, err := g.store.GetProduct(ctx, *cell.ProductID); err == nil {
			productName = product.Name
		}
	}

	var message string
	if cell.Quantity == 0 {
		message = fmt.Sprintf("[%d:%d] of %s: ran out of goods", cell.Floor, cell.Col, shelfName)
	} else {
		message = fmt.Sprintf("[%d:%d] of %s: about to run out of goods", cell.Floor, cell.Col, shelfName)
	}

	notification := &store.Notification{
		Message:    message,
		Kind:       store.KindWarning,
		Category:   "inventory",
		ShelfID:    &cell.ShelfID,
		LoadCellID: &cell.ID,
		ProductID:  cell.ProductID,
	}

	created, err := g.store.CreateNotification(ctx, notification)
	if err != nil {
		return nil, fmt.Errorf("persist low stock alert: %w", err)
	}

	g.logger.Info().
		Int64("load_cell_id", cell.ID).
		Str("product", productName).
		Int("quantity", cell.Quantity).
		Msg("Low stock alert created")

	g.broadcaster.Publish(created)

	return created, nil
}

// Notify persists an arbitrary notification and broadcasts it. Handlers use
// this for status, payment, unpaid-customer and restock alerts.
func (g *AlertGuard) Notify(ctx context.Context, n *store.Notification) (*store.Notification, error) {
	created, err := g.store.CreateNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	g.broadcaster.Publish(created)
	return created, nil
}
