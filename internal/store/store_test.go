package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

func seedShelf(t *testing.T, st *Store, code, macIP string) *Shelf {
	t.Helper()

	shelf, err := st.CreateShelfWithGrid(context.Background(), &Shelf{
		ShelfCode: code,
		Name:      code,
		MacIP:     macIP,
		Location:  "aisle 1",
	}, 3, 5)
	if err != nil {
		t.Fatalf("Failed to seed shelf: %v", err)
	}
	return shelf
}

func seedProduct(t *testing.T, st *Store, name string, stock, threshold int) *Product {
	t.Helper()

	product, err := st.CreateProduct(context.Background(), &Product{
		SKU:       "SKU-" + name,
		Name:      name,
		Price:     2.50,
		Stock:     stock,
		Threshold: threshold,
	})
	if err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return product
}

func seedUser(t *testing.T, st *Store, username, rfid string) *User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), &User{
		Username: username,
		RFID:     rfid,
		FullName: username,
	})
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

func TestCreateShelfWithGrid(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesFullGrid", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")

		cells, err := st.GetShelfLoadCells(ctx, shelf.ID)
		if err != nil {
			t.Fatalf("Failed to list load cells: %v", err)
		}
		if len(cells) != 15 {
			t.Fatalf("Expected 15 load cells, got %d", len(cells))
		}

		// Cells come back ordered by (floor, col), matching the
		// physical reporting order of the device.
		slot := 1
		for floor := 1; floor <= 3; floor++ {
			for col := 1; col <= 5; col++ {
				cell := cells[slot-1]
				if cell.Floor != floor || cell.Col != col {
					t.Errorf("Cell %d: expected position (%d,%d), got (%d,%d)",
						slot, floor, col, cell.Floor, cell.Col)
				}
				if cell.Slot != slot {
					t.Errorf("Cell at (%d,%d): expected slot %d, got %d",
						floor, col, slot, cell.Slot)
				}
				if cell.Quantity != 0 {
					t.Errorf("Cell %d: expected zero quantity, got %d", slot, cell.Quantity)
				}
				if cell.ProductID != nil {
					t.Errorf("Cell %d: expected no product assignment", slot)
				}
				slot++
			}
		}

		if shelf.CredentialState != CredentialPending {
			t.Errorf("Expected credential state %q, got %q", CredentialPending, shelf.CredentialState)
		}
	})

	t.Run("DuplicateMacIPRejected", func(t *testing.T) {
		st := setupTestStore(t)
		seedShelf(t, st, "SH-01", "aa:bb:cc:01")

		_, err := st.CreateShelfWithGrid(ctx, &Shelf{
			ShelfCode: "SH-02",
			Name:      "SH-02",
			MacIP:     "aa:bb:cc:01",
		}, 3, 5)
		if !errors.Is(err, ErrDuplicateShelf) {
			t.Fatalf("Expected ErrDuplicateShelf, got %v", err)
		}

		shelves, err := st.ListShelves(ctx)
		if err != nil {
			t.Fatalf("Failed to list shelves: %v", err)
		}
		if len(shelves) != 1 {
			t.Errorf("Expected 1 shelf after rejected duplicate, got %d", len(shelves))
		}
	})

	t.Run("FailedCreateLeavesNoCells", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")

		// Duplicate shelf code trips the unique constraint inside the
		// transaction; neither the shelf nor any cells may survive.
		_, err := st.CreateShelfWithGrid(ctx, &Shelf{
			ShelfCode: "SH-01",
			Name:      "Other name",
			MacIP:     "aa:bb:cc:02",
		}, 3, 5)
		if err == nil {
			t.Fatal("Expected duplicate shelf code to fail")
		}

		var total int
		if err := st.db.QueryRow(`SELECT COUNT(*) FROM load_cells`).Scan(&total); err != nil {
			t.Fatalf("Failed to count load cells: %v", err)
		}
		if total != 15 {
			t.Errorf("Expected 15 load cells (first shelf only), got %d", total)
		}

		if _, err := st.GetShelfByMacIP(ctx, "aa:bb:cc:02"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected no shelf for failed create, got %v", err)
		}
		_ = shelf
	})
}

func TestCreateHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("DecrementsStock", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
		product := seedProduct(t, st, "Cola", 10, 2)
		seedUser(t, st, "alice", "RFID-1")

		history, err := st.CreateHistory(ctx, &HistoryInput{
			ShelfID:              shelf.ID,
			UserRFID:             "RFID-1",
			PostProducts:         []int64{product.ID},
			PostVerifiedQuantity: []int{5},
		})
		if err != nil {
			t.Fatalf("Failed to create history: %v", err)
		}
		if history.ID == 0 {
			t.Error("Expected history id to be assigned")
		}

		updated, err := st.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if updated.Stock != 5 {
			t.Errorf("Expected stock 5 after decrement of 5 from 10, got %d", updated.Stock)
		}
	})

	t.Run("ClampsStockAtZero", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
		product := seedProduct(t, st, "Chips", 3, 2)
		seedUser(t, st, "alice", "RFID-1")

		_, err := st.CreateHistory(ctx, &HistoryInput{
			ShelfID:              shelf.ID,
			UserRFID:             "RFID-1",
			PostProducts:         []int64{product.ID},
			PostVerifiedQuantity: []int{5},
		})
		if err != nil {
			t.Fatalf("Failed to create history: %v", err)
		}

		updated, err := st.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if updated.Stock != 0 {
			t.Errorf("Expected stock clamped to 0, got %d", updated.Stock)
		}
	})

	t.Run("UnknownUserRollsBackEverything", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
		product := seedProduct(t, st, "Cola", 10, 2)

		_, err := st.CreateHistory(ctx, &HistoryInput{
			ShelfID:              shelf.ID,
			UserRFID:             "RFID-MISSING",
			PostProducts:         []int64{product.ID},
			PostVerifiedQuantity: []int{5},
		})
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("Expected ErrUserNotFound, got %v", err)
		}

		updated, err := st.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if updated.Stock != 10 {
			t.Errorf("Expected untouched stock 10, got %d", updated.Stock)
		}

		histories, err := st.ListHistories(ctx, shelf.ID, 10, 0)
		if err != nil {
			t.Fatalf("Failed to list histories: %v", err)
		}
		if len(histories) != 0 {
			t.Errorf("Expected no history records, got %d", len(histories))
		}
	})

	t.Run("RoundTripsSnapshots", func(t *testing.T) {
		st := setupTestStore(t)
		shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
		p1 := seedProduct(t, st, "Cola", 10, 2)
		p2 := seedProduct(t, st, "Chips", 8, 2)
		seedUser(t, st, "alice", "RFID-1")

		created, err := st.CreateHistory(ctx, &HistoryInput{
			ShelfID:              shelf.ID,
			UserRFID:             "RFID-1",
			Notes:                "evening restock",
			PreProducts:          []int64{p1.ID},
			PreVerifiedQuantity:  []int{2},
			PostProducts:         []int64{p1.ID, p2.ID},
			PostVerifiedQuantity: []int{3, 0},
		})
		if err != nil {
			t.Fatalf("Failed to create history: %v", err)
		}

		loaded, err := st.GetHistory(ctx, created.ID)
		if err != nil {
			t.Fatalf("Failed to load history: %v", err)
		}
		if len(loaded.PostProducts) != 2 || loaded.PostProducts[1] != p2.ID {
			t.Errorf("Post products not preserved: %v", loaded.PostProducts)
		}
		if len(loaded.PostVerifiedQuantity) != 2 || loaded.PostVerifiedQuantity[0] != 3 {
			t.Errorf("Post quantities not preserved: %v", loaded.PostVerifiedQuantity)
		}
		if loaded.Notes != "evening restock" {
			t.Errorf("Expected notes preserved, got %q", loaded.Notes)
		}

		// A zero post quantity must not touch stock.
		chips, _ := st.GetProduct(ctx, p2.ID)
		if chips.Stock != 8 {
			t.Errorf("Expected stock 8 for zero-quantity pair, got %d", chips.Stock)
		}
	})
}

func TestAdjustProductStock(t *testing.T) {
	ctx := context.Background()

	t.Run("NeverGoesNegative", func(t *testing.T) {
		st := setupTestStore(t)
		product := seedProduct(t, st, "Cola", 2, 1)

		if err := st.AdjustProductStock(ctx, product.ID, -5); err != nil {
			t.Fatalf("Failed to adjust stock: %v", err)
		}

		updated, err := st.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("Failed to read product: %v", err)
		}
		if updated.Stock != 0 {
			t.Errorf("Expected stock clamped to 0, got %d", updated.Stock)
		}
	})

	t.Run("SequenceOfDecrements", func(t *testing.T) {
		st := setupTestStore(t)
		product := seedProduct(t, st, "Cola", 10, 1)

		for _, delta := range []int{-4, -3, -6, 2} {
			if err := st.AdjustProductStock(ctx, product.ID, delta); err != nil {
				t.Fatalf("Failed to adjust stock by %d: %v", delta, err)
			}
			updated, err := st.GetProduct(ctx, product.ID)
			if err != nil {
				t.Fatalf("Failed to read product: %v", err)
			}
			if updated.Stock < 0 {
				t.Fatalf("Stock went negative (%d) after delta %d", updated.Stock, delta)
			}
		}
	})
}

func TestFindUnreadLowStockAlert(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")

	cells, err := st.GetShelfLoadCells(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("Failed to list load cells: %v", err)
	}
	cell := cells[0]

	t.Run("NoAlertYet", func(t *testing.T) {
		if _, err := st.FindUnreadLowStockAlert(ctx, cell.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MatchesOnlyUnreadWarnings", func(t *testing.T) {
		created, err := st.CreateNotification(ctx, &Notification{
			Message:    "[1:1] of SH-01: ran out of goods",
			Kind:       KindWarning,
			Category:   "inventory",
			ShelfID:    &shelf.ID,
			LoadCellID: &cell.ID,
		})
		if err != nil {
			t.Fatalf("Failed to create notification: %v", err)
		}

		found, err := st.FindUnreadLowStockAlert(ctx, cell.ID)
		if err != nil {
			t.Fatalf("Expected to find unread alert: %v", err)
		}
		if found.ID != created.ID {
			t.Errorf("Expected alert %d, got %d", created.ID, found.ID)
		}

		if _, err := st.MarkNotificationRead(ctx, created.ID); err != nil {
			t.Fatalf("Failed to mark read: %v", err)
		}

		if _, err := st.FindUnreadLowStockAlert(ctx, cell.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound after marking read, got %v", err)
		}
	})

	t.Run("MatchesBothMessageVariants", func(t *testing.T) {
		for _, message := range []string{
			"[1:2] of SH-01: ran out of goods",
			"[1:3] of SH-01: about to run out of goods",
		} {
			target := cells[1]
			created, err := st.CreateNotification(ctx, &Notification{
				Message:    message,
				Kind:       KindWarning,
				Category:   "inventory",
				ShelfID:    &shelf.ID,
				LoadCellID: &target.ID,
			})
			if err != nil {
				t.Fatalf("Failed to create notification: %v", err)
			}

			found, err := st.FindUnreadLowStockAlert(ctx, target.ID)
			if err != nil {
				t.Fatalf("Expected %q to match the dedup lookup: %v", message, err)
			}
			if found.ID != created.ID {
				t.Errorf("Expected alert %d, got %d", created.ID, found.ID)
			}

			if _, err := st.MarkNotificationRead(ctx, created.ID); err != nil {
				t.Fatalf("Failed to mark read: %v", err)
			}
		}
	})

	t.Run("IgnoresOtherMessageFamilies", func(t *testing.T) {
		if _, err := st.CreateNotification(ctx, &Notification{
			Message:    "Shelf SH-01 is tilting",
			Kind:       KindWarning,
			Category:   "device",
			LoadCellID: &cell.ID,
		}); err != nil {
			t.Fatalf("Failed to create notification: %v", err)
		}

		if _, err := st.FindUnreadLowStockAlert(ctx, cell.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected device warning to be ignored, got %v", err)
		}
	})
}

func TestShelfStockView(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
	cola := seedProduct(t, st, "Cola", 20, 2)
	chips := seedProduct(t, st, "Chips", 20, 2)

	cells, err := st.GetShelfLoadCells(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("Failed to list load cells: %v", err)
	}

	assign := func(cell *LoadCell, productID int64, quantity int) {
		t.Helper()
		if err := st.AssignLoadCellProduct(ctx, cell.ID, &productID); err != nil {
			t.Fatalf("Failed to assign product: %v", err)
		}
		if err := st.SetLoadCellQuantity(ctx, cell.ID, quantity); err != nil {
			t.Fatalf("Failed to set quantity: %v", err)
		}
	}

	assign(cells[0], cola.ID, 4)
	assign(cells[1], cola.ID, 3)
	assign(cells[2], chips.ID, 7)

	// A faulted cell must not contribute to the view.
	if err := st.AssignLoadCellProduct(ctx, cells[3].ID, &cola.ID); err != nil {
		t.Fatalf("Failed to assign product: %v", err)
	}
	if err := st.SetLoadCellQuantity(ctx, cells[3].ID, 9); err != nil {
		t.Fatalf("Failed to set quantity: %v", err)
	}
	if err := st.SetLoadCellFault(ctx, cells[3].ID); err != nil {
		t.Fatalf("Failed to mark fault: %v", err)
	}

	view, err := st.ShelfStockView(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("Failed to compute stock view: %v", err)
	}

	byProduct := make(map[int64]int)
	for _, row := range view {
		byProduct[row.ProductID] = row.Quantity
	}
	if byProduct[cola.ID] != 7 {
		t.Errorf("Expected cola view 7 (4+3, faulted cell excluded), got %d", byProduct[cola.ID])
	}
	if byProduct[chips.ID] != 7 {
		t.Errorf("Expected chips view 7, got %d", byProduct[chips.ID])
	}
}

func TestClearPreviousProducts(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	shelf := seedShelf(t, st, "SH-01", "aa:bb:cc:01")
	cola := seedProduct(t, st, "Cola", 20, 2)
	chips := seedProduct(t, st, "Chips", 20, 2)

	cells, err := st.GetShelfLoadCells(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("Failed to list load cells: %v", err)
	}
	cell := cells[0]

	if err := st.AssignLoadCellProduct(ctx, cell.ID, &cola.ID); err != nil {
		t.Fatalf("Failed to assign first product: %v", err)
	}
	if err := st.AssignLoadCellProduct(ctx, cell.ID, &chips.ID); err != nil {
		t.Fatalf("Failed to reassign product: %v", err)
	}

	reloaded, err := st.GetLoadCell(ctx, cell.ID)
	if err != nil {
		t.Fatalf("Failed to read cell: %v", err)
	}
	if reloaded.PreviousProductID == nil || *reloaded.PreviousProductID != cola.ID {
		t.Fatalf("Expected previous product %d, got %v", cola.ID, reloaded.PreviousProductID)
	}

	if err := st.ClearPreviousProducts(ctx, shelf.ID); err != nil {
		t.Fatalf("Failed to clear previous products: %v", err)
	}

	reloaded, err = st.GetLoadCell(ctx, cell.ID)
	if err != nil {
		t.Fatalf("Failed to read cell: %v", err)
	}
	if reloaded.PreviousProductID != nil {
		t.Errorf("Expected previous product cleared, got %v", *reloaded.PreviousProductID)
	}
}
