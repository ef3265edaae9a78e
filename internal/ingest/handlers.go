package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"lattis/internal/inventory"
	"lattis/internal/logger"
	"lattis/internal/store"
)

const shelfCacheSize = 128

// Handlers implements the topic handler set. Shelf resolution by device
// identifier is LRU-cached; shelves are provisioned rarely and their mac_ip
// never changes after creation.
type Handlers struct {
	store      *store.Store
	reconciler *inventory.Reconciler
	alerts     *inventory.AlertGuard
	shelves    *lru.Cache[string, *store.Shelf]
	logger     zerolog.Logger
}

// NewHandlers creates the handler set
func NewHandlers(st *store.Store, reconciler *inventory.Reconciler, alerts *inventory.AlertGuard) (*Handlers, error) {
	cache, err := lru.New[string, *store.Shelf](shelfCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create shelf cache: %w", err)
	}

	return &Handlers{
		store:      st,
		reconciler: reconciler,
		alerts:     alerts,
		shelves:    cache,
		logger:     logger.GetLogger("ingest.handlers"),
	}, nil
}

// RegisterAll binds every topic handler on the router
func (h *Handlers) RegisterAll(router *Router, topics TopicSet) {
	router.Register(topics.LoadCellQuantity, h.HandleLoadCellQuantity)
	router.Register(topics.SensorEnvironment, h.HandleSensorEnvironment)
	router.Register(topics.ShelfStatus, h.HandleShelfStatus)
	router.Register(topics.UnpaidCustomer, h.HandleUnpaidCustomer)
	router.Register(topics.PaymentNotify, h.HandlePaymentNotification)
	router.Register(topics.ProductAdded, h.HandleProductAdded)
}

// TopicSet names the broker topics the handlers subscribe to
type TopicSet struct {
	LoadCellQuantity  string
	SensorEnvironment string
	ShelfStatus       string
	UnpaidCustomer    string
	PaymentNotify     string
	ProductAdded      string
}

// resolveShelf looks up a shelf by its device identifier, consulting the
// cache first. Returns nil without error when the device is unregistered.
func (h *Handlers) resolveShelf(ctx context.Context, macIP string) (*store.Shelf, error) {
	if macIP == "" {
		return nil, nil
	}

	if shelf, ok := h.shelves.Get(macIP); ok {
		return shelf, nil
	}

	shelf, err := h.store.GetShelfByMacIP(ctx, macIP)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("shelf lookup for %s: %w", macIP, err)
	}

	h.shelves.Add(macIP, shelf)
	return shelf, nil
}

// HandleLoadCellQuantity applies one positional readings frame. Readings
// map onto the shelf's cells ordered by (floor, col), which matches the
// device's physical reporting order. The fault sentinel marks the cell
// faulted and never reaches threshold evaluation.
func (h *Handlers) HandleLoadCellQuantity(ctx context.Context, payload []byte) error {
	var p LoadCellQuantityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("malformed quantity payload: %w", err)
	}

	shelf, err := h.resolveShelf(ctx, p.DeviceID.String())
	if err != nil {
		return err
	}
	if shelf == nil {
		h.logger.Warn().
			Str("device_id", p.DeviceID.String()).
			Msg("Readings from unregistered device, dropped")
		return nil
	}

	cells, err := h.store.GetShelfLoadCells(ctx, shelf.ID)
	if err != nil {
		return fmt.Errorf("load cells for shelf %d: %w", shelf.ID, err)
	}

	for i, value := range p.Values {
		if i >= len(cells) {
			h.logger.Warn().
				Int64("shelf_id", shelf.ID).
				Int("readings", len(p.Values)).
				Int("cells", len(cells)).
				Msg("More readings than cells, extra readings ignored")
			break
		}
		if value == nil {
			continue
		}

		cell := cells[i]
		reading, ok := toReading(*value)
		if !ok {
			h.logger.Warn().
				Int64("load_cell_id", cell.ID).
				Int("value", *value).
				Msg("Reading out of range, ignored")
			continue
		}

		if reading.Fault {
			if err := h.store.SetLoadCellFault(ctx, cell.ID); err != nil {
				h.logger.Error().
					Err(err).
					Int64("load_cell_id", cell.ID).
					Msg("Failed to mark load cell faulted")
			}
			continue
		}

		if err := h.store.SetLoadCellQuantity(ctx, cell.ID, reading.Quantity); err != nil {
			h.logger.Error().
				Err(err).
				Int64("load_cell_id", cell.ID).
				Msg("Failed to write load cell quantity")
			continue
		}

		cell.Quantity = reading.Quantity
		cell.Fault = false

		threshold := h.reconciler.ProductThreshold(ctx, cell)
		if reading.Quantity <= threshold {
			if _, err := h.alerts.EnsureLowStockAlert(ctx, cell); err != nil {
				h.logger.Error().
					Err(err).
					Int64("load_cell_id", cell.ID).
					Msg("Failed to raise low stock alert")
			}
		}
	}

	return nil
}

// HandleSensorEnvironment accepts environmental telemetry without acting on
// it. Alerts never originate from this topic.
func (h *Handlers) HandleSensorEnvironment(ctx context.Context, payload []byte) error {
	h.logger.Debug().
		Int("payload_size", len(payload)).
		Msg("Environment telemetry received")
	return nil
}

// HandleShelfStatus raises a device alert from status flags. Precedence:
// tilt, then vibration, then a generic status message, then nothing.
func (h *Handlers) HandleShelfStatus(ctx context.Context, payload []byte) error {
	var p ShelfStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("malformed status payload: %w", err)
	}

	shelf, err := h.resolveShelf(ctx, p.DeviceID.String())
	if err != nil {
		return err
	}

	shelfRef := p.ShelfID.String()
	var shelfID *int64
	if shelf != nil {
		shelfRef = shelf.ShelfCode
		shelfID = &shelf.ID
	}
	if shelfRef == "" {
		shelfRef = "unknown shelf"
	}

	var message, kind string
	switch {
	case bool(p.Lean):
		message = fmt.Sprintf("Shelf %s is tilting", shelfRef)
		kind = store.KindWarning
	case bool(p.Shake):
		message = fmt.Sprintf("Shelf %s is vibrating", shelfRef)
		kind = store.KindWarning
	case p.Message != "" || p.Status.String() != "":
		text := p.Message
		if text == "" {
			text = p.Status.String()
		}
		message = fmt.Sprintf("Shelf %s: %s", shelfRef, text)
		kind = store.KindInfo
	default:
		return nil
	}

	_, err = h.alerts.Notify(ctx, &store.Notification{
		Message:  message,
		Kind:     kind,
		Category: "device",
		ShelfID:  shelfID,
	})
	return err
}

// HandleUnpaidCustomer always warns; every unpaid event is distinct and no
// dedup applies.
func (h *Handlers) HandleUnpaidCustomer(ctx context.Context, payload []byte) error {
	var p UnpaidCustomerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("malformed unpaid customer payload: %w", err)
	}

	message := fmt.Sprintf("Customer %s left shelf %s without paying (amount %.2f)",
		p.CustomerID.String(), p.ShelfID.String(), p.Amount)

	_, err := h.alerts.Notify(ctx, &store.Notification{
		Message:  message,
		Kind:     store.KindWarning,
		Category: "payment",
	})
	return err
}

// HandlePaymentNotification records a payment result. Order status updates
// are best effort; the order may live in an external system.
func (h *Handlers) HandlePaymentNotification(ctx context.Context, payload []byte) error {
	var p PaymentNotificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("malformed payment payload: %w", err)
	}

	status := strings.ToLower(p.Status.String())
	kind := store.KindWarning
	if status == "success" || status == "paid" || status == "completed" {
		kind = store.KindInfo
	}

	if p.OrderID.String() != "" {
		if err := h.store.UpdateOrderStatus(ctx, p.OrderID.String(), status); err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error().
				Err(err).
				Str("order_code", p.OrderID.String()).
				Msg("Failed to update order status")
		}
	}

	message := fmt.Sprintf("Order %s payment %s (amount %.2f)",
		p.OrderID.String(), p.Status.String(), p.Amount)

	_, err := h.alerts.Notify(ctx, &store.Notification{
		Message:  message,
		Kind:     kind,
		Category: "payment",
	})
	return err
}

// HandleProductAdded announces a verified restock. The notification names
// the shelf by its database identifier, not the device identifier; the
// actor falls back to the raw RFID when no user matches.
func (h *Handlers) HandleProductAdded(ctx context.Context, payload []byte) error {
	var p ProductAddedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("malformed product added payload: %w", err)
	}

	shelf, err := h.resolveShelf(ctx, p.DeviceID.String())
	if err != nil {
		return err
	}
	if shelf == nil {
		h.logger.Warn().
			Str("device_id", p.DeviceID.String()).
			Msg("Restock report from unregistered device, dropped")
		return nil
	}

	actor := p.RFID.String()
	var userID *int64
	if user, err := h.store.GetUserByRFID(ctx, p.RFID.String()); err == nil {
		if user.FullName != "" {
			actor = user.FullName
		} else {
			actor = user.Username
		}
		userID = &user.ID
	}

	message := fmt.Sprintf("%s restocked shelf %d with %d verified items",
		actor, shelf.ID, int(p.VerifiedQuantity))

	_, err = h.alerts.Notify(ctx, &store.Notification{
		Message:  message,
		Kind:     store.KindInfo,
		Category: "inventory",
		ShelfID:  &shelf.ID,
		UserID:   userID,
	})
	return err
}
