package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"lattis/internal/inventory"
	"lattis/internal/logger"
	"lattis/internal/realtime"
	"lattis/internal/store"
)

// Publisher forwards externally received events into the broker fabric
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Server handles REST API requests
type Server struct {
	store       *store.Store
	reconciler  *inventory.Reconciler
	provisioner *inventory.Provisioner
	broadcaster *realtime.Broadcaster
	publisher   Publisher
	logger      zerolog.Logger
	server      *http.Server
}

// NewServer creates a new API server
func NewServer(st *store.Store, reconciler *inventory.Reconciler, provisioner *inventory.Provisioner, broadcaster *realtime.Broadcaster, publisher Publisher) *Server {
	return &Server{
		store:       st,
		reconciler:  reconciler,
		provisioner: provisioner,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger.GetLogger("api"),
	}
}

// Handler builds the full route table
func (api *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(api.loggingMiddleware)
	router.Use(api.corsMiddleware)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	// Restock/checkout reconciliation
	apiRouter.HandleFunc("/histories", api.handleCreateHistory).Methods("POST")
	apiRouter.HandleFunc("/histories", api.handleListHistories).Methods("GET")

	// Load cells
	apiRouter.HandleFunc("/loadcells/{id}/quantity", api.handleSetQuantity).Methods("PATCH")
	apiRouter.HandleFunc("/loadcells/{id}/threshold", api.handleSetThreshold).Methods("PATCH")

	// Shelves
	apiRouter.HandleFunc("/shelves", api.handleCreateShelf).Methods("POST")
	apiRouter.HandleFunc("/shelves", api.handleListShelves).Methods("GET")
	apiRouter.HandleFunc("/shelves/{id}/loadcells", api.handleShelfLoadCells).Methods("GET")
	apiRouter.HandleFunc("/shelves/{id}/stock", api.handleShelfStock).Methods("GET")

	// Notifications
	apiRouter.HandleFunc("/notifications", api.handleListNotifications).Methods("GET")
	apiRouter.HandleFunc("/notifications/unread-count", api.handleUnreadCount).Methods("GET")
	apiRouter.HandleFunc("/notifications/read-all", api.handleReadAll).Methods("POST")
	apiRouter.HandleFunc("/notifications/{id}/read", api.handleMarkRead).Methods("POST")
	apiRouter.HandleFunc("/notifications/{id}", api.handleDeleteNotification).Methods("DELETE")

	// Payment gateway webhook
	apiRouter.HandleFunc("/webhook/payment", api.handlePaymentWebhook).Methods("POST")

	// Realtime push channel
	apiRouter.Handle("/events", api.broadcaster).Methods("GET")

	// Health check
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")

	return router
}

// Start starts the HTTP API server
func (api *Server) Start(address string, timeout time.Duration) error {
	api.server = &http.Server{
		Addr:        address,
		Handler:     api.Handler(),
		ReadTimeout: timeout,
		// SSE connections outlive the write timeout on purpose
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	api.logger.Info().
		Str("address", address).
		Msg("Starting API server")

	return api.server.ListenAndServe()
}

// Stop stops the HTTP API server
func (api *Server) Stop() error {
	if api.server != nil {
		return api.server.Close()
	}
	return nil
}

// Middleware
func (api *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (api *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Response helpers
func (api *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (api *Server) sendError(w http.ResponseWriter, status int, message string) {
	api.sendJSON(w, status, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
