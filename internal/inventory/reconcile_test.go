package inventory

import (
	"context"
	"path/filepath"
	"testing"

	"lattis/internal/realtime"
	"lattis/internal/store"
)

type fixture struct {
	store       *store.Store
	broadcaster *realtime.Broadcaster
	alerts      *AlertGuard
	reconciler  *Reconciler
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	broadcaster := realtime.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	alerts := NewAlertGuard(st, broadcaster)

	return &fixture{
		store:       st,
		broadcaster: broadcaster,
		alerts:      alerts,
		reconciler:  NewReconciler(st, alerts),
	}
}

func (f *fixture) seedShelfWithProduct(t *testing.T, stock, threshold int) (*store.Shelf, *store.LoadCell, *store.Product) {
	t.Helper()
	ctx := context.Background()

	shelf, err := f.store.CreateShelfWithGrid(ctx, &store.Shelf{
		ShelfCode: "SH-01",
		Name:      "SH-01",
		MacIP:     "aa:bb:cc:01",
	}, 3, 5)
	if err != nil {
		t.Fatalf("Failed to create shelf: %v", err)
	}

	product, err := f.store.CreateProduct(ctx, &store.Product{
		SKU:       "SKU-1",
		Name:      "Cola",
		Stock:     stock,
		Threshold: threshold,
	})
	if err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}

	cells, err := f.store.GetShelfLoadCells(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("Failed to list cells: %v", err)
	}
	cell := cells[0]

	if err := f.store.AssignLoadCellProduct(ctx, cell.ID, &product.ID); err != nil {
		t.Fatalf("Failed to assign product: %v", err)
	}

	cell, err = f.store.GetLoadCell(ctx, cell.ID)
	if err != nil {
		t.Fatalf("Failed to reload cell: %v", err)
	}

	return shelf, cell, product
}

func (f *fixture) unreadWarnings(t *testing.T, cellID int64) int {
	t.Helper()

	read := false
	notifications, err := f.store.ListNotifications(context.Background(), store.NotificationFilter{
		Read: &read,
		Kind: store.KindWarning,
	})
	if err != nil {
		t.Fatalf("Failed to list notifications: %v", err)
	}

	count := 0
	for _, n := range notifications {
		if n.LoadCellID != nil && *n.LoadCellID == cellID {
			count++
		}
	}
	return count
}

func TestApplyDirectQuantityEdit(t *testing.T) {
	ctx := context.Background()

	t.Run("AdjustsStockByDifference", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, product := f.seedShelfWithProduct(t, 10, 2)

		if err := f.store.SetLoadCellQuantity(ctx, cell.ID, 4); err != nil {
			t.Fatalf("Failed to seed quantity: %v", err)
		}

		updated, err := f.reconciler.ApplyDirectQuantityEdit(ctx, cell.ID, 7)
		if err != nil {
			t.Fatalf("Direct edit failed: %v", err)
		}
		if updated.Quantity != 7 {
			t.Errorf("Expected quantity 7, got %d", updated.Quantity)
		}

		// Three items added to the shelf means three fewer in backstock.
		reloaded, err := f.store.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if reloaded.Stock != 7 {
			t.Errorf("Expected stock 7 (10-3), got %d", reloaded.Stock)
		}
	})

	t.Run("ClampsStockAtZero", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, product := f.seedShelfWithProduct(t, 2, 1)

		if _, err := f.reconciler.ApplyDirectQuantityEdit(ctx, cell.ID, 10); err != nil {
			t.Fatalf("Direct edit failed: %v", err)
		}

		reloaded, err := f.store.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if reloaded.Stock != 0 {
			t.Errorf("Expected stock clamped to 0, got %d", reloaded.Stock)
		}
	})

	t.Run("RejectsNegativeQuantity", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 2)

		if _, err := f.reconciler.ApplyDirectQuantityEdit(ctx, cell.ID, -1); err == nil {
			t.Fatal("Expected negative quantity to be rejected")
		}
	})

	t.Run("RaisesAlertAtOrBelowThreshold", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 3)

		if _, err := f.reconciler.ApplyDirectQuantityEdit(ctx, cell.ID, 2); err != nil {
			t.Fatalf("Direct edit failed: %v", err)
		}

		if got := f.unreadWarnings(t, cell.ID); got != 1 {
			t.Errorf("Expected 1 unread warning, got %d", got)
		}
	})

	t.Run("NoAlertAboveThreshold", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 3)

		if _, err := f.reconciler.ApplyDirectQuantityEdit(ctx, cell.ID, 8); err != nil {
			t.Fatalf("Direct edit failed: %v", err)
		}

		if got := f.unreadWarnings(t, cell.ID); got != 0 {
			t.Errorf("Expected no warnings, got %d", got)
		}
	})
}

func TestEnsureLowStockAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("DuplicateSuppressed", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 2)
		cell.Quantity = 1

		first, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil {
			t.Fatalf("First alert failed: %v", err)
		}
		if first == nil {
			t.Fatal("Expected first alert to be created")
		}

		second, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil {
			t.Fatalf("Second alert failed: %v", err)
		}
		if second != nil {
			t.Error("Expected duplicate alert to be suppressed")
		}

		if got := f.unreadWarnings(t, cell.ID); got != 1 {
			t.Errorf("Expected exactly 1 unread warning, got %d", got)
		}
	})

	t.Run("EmptyCellDuplicateSuppressed", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 2)
		cell.Quantity = 0

		first, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil || first == nil {
			t.Fatalf("First alert failed: %v", err)
		}

		second, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil {
			t.Fatalf("Second alert failed: %v", err)
		}
		if second != nil {
			t.Error("Expected duplicate empty-cell alert to be suppressed")
		}

		if got := f.unreadWarnings(t, cell.ID); got != 1 {
			t.Errorf("Expected exactly 1 unread warning after duplicate empty readings, got %d", got)
		}
	})

	t.Run("UnreadEmptyAlertSuppressesLowAlert", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 2)

		cell.Quantity = 0
		if _, err := f.alerts.EnsureLowStockAlert(ctx, cell); err != nil {
			t.Fatalf("Alert failed: %v", err)
		}

		cell.Quantity = 1
		low, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil {
			t.Fatalf("Alert failed: %v", err)
		}
		if low != nil {
			t.Error("Expected unread empty-cell alert to cover the low reading")
		}

		if got := f.unreadWarnings(t, cell.ID); got != 1 {
			t.Errorf("Expected exactly 1 unread warning, got %d", got)
		}
	})

	t.Run("NewAlertAfterAcknowledgement", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 2)
		cell.Quantity = 0

		first, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil || first == nil {
			t.Fatalf("First alert failed: %v", err)
		}

		if _, err := f.store.MarkNotificationRead(ctx, first.ID); err != nil {
			t.Fatalf("Failed to mark read: %v", err)
		}

		second, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil {
			t.Fatalf("Second alert failed: %v", err)
		}
		if second == nil {
			t.Error("Expected a fresh alert after the previous one was read")
		}
	})

	t.Run("MessageDistinguishesEmptyFromLow", func(t *testing.T) {
		f := setupFixture(t)
		shelf, cell, _ := f.seedShelfWithProduct(t, 10, 2)

		cell.Quantity = 0
		empty, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil || empty == nil {
			t.Fatalf("Alert failed: %v", err)
		}
		want := "[1:1] of " + shelf.ShelfCode + ": ran out of goods"
		if empty.Message != want {
			t.Errorf("Expected message %q, got %q", want, empty.Message)
		}

		if _, err := f.store.MarkNotificationRead(ctx, empty.ID); err != nil {
			t.Fatalf("Failed to mark read: %v", err)
		}

		cell.Quantity = 1
		low, err := f.alerts.EnsureLowStockAlert(ctx, cell)
		if err != nil || low == nil {
			t.Fatalf("Alert failed: %v", err)
		}
		want = "[1:1] of " + shelf.ShelfCode + ": about to run out of goods"
		if low.Message != want {
			t.Errorf("Expected message %q, got %q", want, low.Message)
		}
	})
}

func TestProductThreshold(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadsProductThreshold", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 4)

		if got := f.reconciler.ProductThreshold(ctx, cell); got != 4 {
			t.Errorf("Expected threshold 4, got %d", got)
		}
	})

	t.Run("FallsBackToOneWithoutProduct", func(t *testing.T) {
		f := setupFixture(t)
		shelf, err := f.store.CreateShelfWithGrid(ctx, &store.Shelf{
			ShelfCode: "SH-02",
			Name:      "SH-02",
			MacIP:     "aa:bb:cc:02",
		}, 3, 5)
		if err != nil {
			t.Fatalf("Failed to create shelf: %v", err)
		}
		cells, err := f.store.GetShelfLoadCells(ctx, shelf.ID)
		if err != nil {
			t.Fatalf("Failed to list cells: %v", err)
		}

		if got := f.reconciler.ProductThreshold(ctx, cells[0]); got != 1 {
			t.Errorf("Expected fallback threshold 1, got %d", got)
		}
	})

	t.Run("IgnoresLegacyCellThreshold", func(t *testing.T) {
		f := setupFixture(t)
		_, cell, _ := f.seedShelfWithProduct(t, 10, 4)

		if err := f.store.SetLoadCellThreshold(ctx, cell.ID, 9); err != nil {
			t.Fatalf("Failed to set legacy threshold: %v", err)
		}
		cell, err := f.store.GetLoadCell(ctx, cell.ID)
		if err != nil {
			t.Fatalf("Failed to reload cell: %v", err)
		}

		if got := f.reconciler.ProductThreshold(ctx, cell); got != 4 {
			t.Errorf("Expected product threshold 4 despite legacy field 9, got %d", got)
		}
	})
}

func TestApplyHistoryClearsPreviousProducts(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	shelf, cell, product := f.seedShelfWithProduct(t, 10, 2)

	other, err := f.store.CreateProduct(ctx, &store.Product{
		SKU:  "SKU-2",
		Name: "Chips",
	})
	if err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}
	if err := f.store.AssignLoadCellProduct(ctx, cell.ID, &other.ID); err != nil {
		t.Fatalf("Failed to reassign product: %v", err)
	}

	if _, err := f.store.CreateUser(ctx, &store.User{Username: "alice", RFID: "RFID-1"}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if _, err := f.reconciler.ApplyHistory(ctx, &store.HistoryInput{
		ShelfID:              shelf.ID,
		UserRFID:             "RFID-1",
		PostProducts:         []int64{product.ID},
		PostVerifiedQuantity: []int{2},
	}); err != nil {
		t.Fatalf("ApplyHistory failed: %v", err)
	}

	reloaded, err := f.store.GetLoadCell(ctx, cell.ID)
	if err != nil {
		t.Fatalf("Failed to reload cell: %v", err)
	}
	if reloaded.PreviousProductID != nil {
		t.Errorf("Expected previous product cleared after history, got %v", *reloaded.PreviousProductID)
	}
}
