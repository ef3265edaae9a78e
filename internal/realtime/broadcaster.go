package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"lattis/internal/logger"
	"lattis/internal/store"
)

// EventNewNotification is the event name pushed to dashboard sessions
const EventNewNotification = "new-notification"

// subscriberBuffer bounds each session's pending pushes; a full buffer
// drops the push rather than blocking the publisher.
const subscriberBuffer = 16

// Broadcaster fans persisted notifications out to all connected dashboard
// sessions. Delivery is best-effort: no retry, no acknowledgment.
type Broadcaster struct {
	subscribers map[string]chan []byte
	mutex       sync.RWMutex
	closed      bool
	published   uint64
	dropped     uint64
	logger      zerolog.Logger
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan []byte),
		logger:      logger.GetLogger("realtime"),
	}
}

// Subscribe registers a new session and returns its id and push channel
func (b *Broadcaster) Subscribe() (string, <-chan []byte, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return "", nil, fmt.Errorf("broadcaster closed")
	}

	id := uuid.New().String()
	ch := make(chan []byte, subscriberBuffer)
	b.subscribers[id] = ch

	b.logger.Debug().
		Str("session_id", id).
		Int("sessions", len(b.subscribers)).
		Msg("Dashboard session subscribed")

	return id, ch, nil
}

// Unsubscribe removes a session
func (b *Broadcaster) Unsubscribe(id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch, exists := b.subscribers[id]; exists {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish pushes a persisted notification to every connected session.
// Sessions with a full buffer miss this push.
func (b *Broadcaster) Publish(n *store.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal notification for broadcast")
		return
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.published, 1)

	for id, ch := range b.subscribers {
		select {
		case ch <- payload:
		default:
			atomic.AddUint64(&b.dropped, 1)
			b.logger.Warn().
				Str("session_id", id).
				Int64("notification_id", n.ID).
				Msg("Dropped push for slow dashboard session")
		}
	}
}

// SessionCount returns the number of connected sessions
func (b *Broadcaster) SessionCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}

// Close tears the broadcaster down and disconnects every session
func (b *Broadcaster) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}

	b.logger.Info().
		Uint64("published", atomic.LoadUint64(&b.published)).
		Uint64("dropped", atomic.LoadUint64(&b.dropped)).
		Msg("Broadcaster closed")
}

// ServeHTTP streams notifications to one dashboard session as
// server-sent events.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch, err := b.Subscribe()
	if err != nil {
		http.Error(w, "broadcaster unavailable", http.StatusServiceUnavailable)
		return
	}
	defer b.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case payload, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventNewNotification, payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
