package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"lattis/internal/broker"
	"lattis/internal/inventory"
	"lattis/internal/store"
)

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// Restock/checkout reconciliation

type createHistoryRequest struct {
	ShelfID              int64   `json:"shelf_id"`
	UserRFID             string  `json:"user_rfid"`
	Notes                string  `json:"notes"`
	PreProducts          []int64 `json:"pre_products"`
	PostProducts         []int64 `json:"post_products"`
	PreVerifiedQuantity  []int   `json:"pre_verified_quantity"`
	PostVerifiedQuantity []int   `json:"post_verified_quantity"`
}

func (api *Server) handleCreateHistory(w http.ResponseWriter, r *http.Request) {
	var req createHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ShelfID <= 0 || req.UserRFID == "" {
		api.sendError(w, http.StatusBadRequest, "shelf_id and user_rfid are required")
		return
	}
	if len(req.PreProducts) != len(req.PreVerifiedQuantity) ||
		len(req.PostProducts) != len(req.PostVerifiedQuantity) {
		api.sendError(w, http.StatusBadRequest, "product and quantity arrays must be the same length")
		return
	}
	for _, q := range req.PostVerifiedQuantity {
		if q < 0 {
			api.sendError(w, http.StatusBadRequest, "verified quantities must be non-negative")
			return
		}
	}

	history, err := api.reconciler.ApplyHistory(r.Context(), &store.HistoryInput{
		ShelfID:              req.ShelfID,
		UserRFID:             req.UserRFID,
		Notes:                req.Notes,
		PreProducts:          req.PreProducts,
		PostProducts:         req.PostProducts,
		PreVerifiedQuantity:  req.PreVerifiedQuantity,
		PostVerifiedQuantity: req.PostVerifiedQuantity,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			api.sendError(w, http.StatusNotFound, "No user with that RFID")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Shelf not found")
			return
		}
		api.logger.Error().Err(err).Msg("Failed to apply history")
		api.sendError(w, http.StatusInternalServerError, "Failed to apply history")
		return
	}

	api.sendJSON(w, http.StatusCreated, history)
}

func (api *Server) handleListHistories(w http.ResponseWriter, r *http.Request) {
	shelfID := int64(queryInt(r, "shelf_id", 0))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	histories, err := api.store.ListHistories(r.Context(), shelfID, limit, offset)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list histories")
		api.sendError(w, http.StatusInternalServerError, "Failed to list histories")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"histories": histories,
		"count":     len(histories),
	})
}

// Load cells

func (api *Server) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid load cell id")
		return
	}

	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		api.sendError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	if *req.Quantity < 0 {
		api.sendError(w, http.StatusBadRequest, "quantity must be non-negative")
		return
	}

	cell, err := api.reconciler.ApplyDirectQuantityEdit(r.Context(), id, *req.Quantity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Load cell not found")
			return
		}
		api.logger.Error().Err(err).Int64("load_cell_id", id).Msg("Failed to edit quantity")
		api.sendError(w, http.StatusInternalServerError, "Failed to edit quantity")
		return
	}

	api.sendJSON(w, http.StatusOK, cell)
}

func (api *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid load cell id")
		return
	}

	var req struct {
		Threshold *int `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Threshold == nil {
		api.sendError(w, http.StatusBadRequest, "threshold is required")
		return
	}
	if *req.Threshold < 0 {
		api.sendError(w, http.StatusBadRequest, "threshold must be non-negative")
		return
	}

	if err := api.store.SetLoadCellThreshold(r.Context(), id, *req.Threshold); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Load cell not found")
			return
		}
		api.logger.Error().Err(err).Int64("load_cell_id", id).Msg("Failed to set threshold")
		api.sendError(w, http.StatusInternalServerError, "Failed to set threshold")
		return
	}

	cell, err := api.store.GetLoadCell(r.Context(), id)
	if err != nil {
		api.sendError(w, http.StatusInternalServerError, "Failed to read load cell")
		return
	}

	api.sendJSON(w, http.StatusOK, cell)
}

// Shelves

func (api *Server) handleCreateShelf(w http.ResponseWriter, r *http.Request) {
	var spec inventory.ShelfSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if spec.ShelfCode == "" || spec.MacIP == "" {
		api.sendError(w, http.StatusBadRequest, "shelf_code and mac_ip are required")
		return
	}

	shelf, err := api.provisioner.Provision(r.Context(), &spec)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateShelf) {
			api.sendError(w, http.StatusConflict, "A shelf with that device identifier already exists")
			return
		}
		api.logger.Error().Err(err).Str("mac_ip", spec.MacIP).Msg("Failed to provision shelf")
		api.sendError(w, http.StatusInternalServerError, "Failed to provision shelf")
		return
	}

	api.sendJSON(w, http.StatusCreated, shelf)
}

func (api *Server) handleListShelves(w http.ResponseWriter, r *http.Request) {
	shelves, err := api.store.ListShelves(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list shelves")
		api.sendError(w, http.StatusInternalServerError, "Failed to list shelves")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"shelves": shelves,
		"count":   len(shelves),
	})
}

func (api *Server) handleShelfLoadCells(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid shelf id")
		return
	}

	if _, err := api.store.GetShelf(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Shelf not found")
			return
		}
		api.sendError(w, http.StatusInternalServerError, "Failed to read shelf")
		return
	}

	cells, err := api.store.GetShelfLoadCells(r.Context(), id)
	if err != nil {
		api.logger.Error().Err(err).Int64("shelf_id", id).Msg("Failed to list load cells")
		api.sendError(w, http.StatusInternalServerError, "Failed to list load cells")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"load_cells": cells,
		"count":      len(cells),
	})
}

func (api *Server) handleShelfStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid shelf id")
		return
	}

	if _, err := api.store.GetShelf(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Shelf not found")
			return
		}
		api.sendError(w, http.StatusInternalServerError, "Failed to read shelf")
		return
	}

	stock, err := api.reconciler.ShelfStockView(r.Context(), id)
	if err != nil {
		api.logger.Error().Err(err).Int64("shelf_id", id).Msg("Failed to compute stock view")
		api.sendError(w, http.StatusInternalServerError, "Failed to compute stock view")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"shelf_id": id,
		"stock":    stock,
	})
}

// Notifications

func (api *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	filter := store.NotificationFilter{
		Kind:   r.URL.Query().Get("kind"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("read"); raw != "" {
		read, err := strconv.ParseBool(raw)
		if err != nil {
			api.sendError(w, http.StatusBadRequest, "read must be true or false")
			return
		}
		filter.Read = &read
	}

	notifications, err := api.store.ListNotifications(r.Context(), filter)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list notifications")
		api.sendError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

func (api *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := api.store.CountUnreadNotifications(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to count unread notifications")
		api.sendError(w, http.StatusInternalServerError, "Failed to count unread notifications")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"unread": count,
	})
}

func (api *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	notification, err := api.store.MarkNotificationRead(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Notification not found")
			return
		}
		api.logger.Error().Err(err).Int64("notification_id", id).Msg("Failed to mark notification read")
		api.sendError(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}

	api.sendJSON(w, http.StatusOK, notification)
}

func (api *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	count, err := api.store.MarkAllNotificationsRead(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to mark notifications read")
		api.sendError(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"marked_read": count,
	})
}

func (api *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	if err := api.store.DeleteNotification(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "Notification not found")
			return
		}
		api.logger.Error().Err(err).Int64("notification_id", id).Msg("Failed to delete notification")
		api.sendError(w, http.StatusInternalServerError, "Failed to delete notification")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": id,
	})
}

// Payment gateway webhook

// Gateways embed the order reference in free text, e.g. "ORDER_42 paid" or
// "thanh toan ORDER 42".
var orderRefPattern = regexp.MustCompile(`ORDER[_\s]?(\d+)`)

type paymentWebhookRequest struct {
	Content string  `json:"content"`
	Status  string  `json:"status"`
	Amount  float64 `json:"amount"`
}

// handlePaymentWebhook forwards an externally received payment event into
// the broker fabric on the payment topic. A publish failure rejects the
// webhook so the gateway retries delivery.
func (api *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	match := orderRefPattern.FindStringSubmatch(req.Content)
	if match == nil {
		api.sendError(w, http.StatusBadRequest, "No order reference in webhook content")
		return
	}
	orderID := match[1]

	status := req.Status
	if status == "" {
		status = "success"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id": orderID,
		"status":   status,
		"amount":   req.Amount,
	})
	if err != nil {
		api.sendError(w, http.StatusInternalServerError, "Failed to encode payment event")
		return
	}

	if err := api.publisher.Publish(broker.TopicPaymentNotify, payload); err != nil {
		api.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to publish payment event")
		api.sendError(w, http.StatusBadGateway, "Failed to forward payment event")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":  orderID,
		"status":    status,
		"forwarded": true,
	})
}

// Health

func (api *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"broker_connected": api.publisher.IsConnected(),
		"sse_sessions":     api.broadcaster.SessionCount(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}
