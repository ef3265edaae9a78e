package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"lattis/internal/logger"
)

// Handler processes one inbound message payload
type Handler func(ctx context.Context, payload []byte) error

// RouterStats tracks dispatch activity
type RouterStats struct {
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
	Unknown    uint64 `json:"unknown"`
}

type message struct {
	topic   string
	payload []byte
}

// Router dispatches inbound broker messages to topic handlers. Each topic
// owns a bounded queue drained by a single worker: messages on one topic are
// processed in arrival order, and a slow topic never blocks the others.
// A full queue drops the newest message.
type Router struct {
	handlers  map[string]Handler
	queues    map[string]chan message
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	stats RouterStats
	mutex sync.RWMutex
}

// NewRouter creates a router with empty routes. queueSize bounds each
// per-topic queue.
func NewRouter(queueSize int) *Router {
	ctx, cancel := context.WithCancel(context.Background())

	return &Router{
		handlers:  make(map[string]Handler),
		queues:    make(map[string]chan message),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.GetLogger("ingest"),
	}
}

// Register binds a handler to a topic. Must be called before Start.
func (r *Router) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
	r.queues[topic] = make(chan message, r.queueSize)
}

// Start launches one worker per registered topic
func (r *Router) Start() {
	for topic := range r.handlers {
		r.wg.Add(1)
		go r.worker(topic)
	}

	r.logger.Info().
		Int("topics", len(r.handlers)).
		Int("queue_size", r.queueSize).
		Msg("Ingest router started")
}

// Stop drains nothing; queued messages still unprocessed at shutdown are
// lost, matching the at-most-once handling on this path.
func (r *Router) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("Ingest router stopped")
}

// Deliver enqueues a message for its topic worker. Never blocks: unknown
// topics and full queues log and drop.
func (r *Router) Deliver(topic string, payload []byte) {
	queue, ok := r.queues[topic]
	if !ok {
		r.mutex.Lock()
		r.stats.Unknown++
		r.mutex.Unlock()
		r.logger.Warn().
			Str("topic", topic).
			Msg("No handler for topic, message dropped")
		return
	}

	select {
	case queue <- message{topic: topic, payload: payload}:
	default:
		r.mutex.Lock()
		r.stats.Dropped++
		r.mutex.Unlock()
		r.logger.Warn().
			Str("topic", topic).
			Msg("Topic queue full, message dropped")
	}
}

func (r *Router) worker(topic string) {
	defer r.wg.Done()

	queue := r.queues[topic]
	handler := r.handlers[topic]

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-queue:
			r.dispatch(handler, msg)
		}
	}
}

// dispatch runs one handler invocation. A panic or error is logged and the
// message dropped; the worker keeps running.
func (r *Router) dispatch(handler Handler, msg message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mutex.Lock()
			r.stats.Failed++
			r.mutex.Unlock()
			r.logger.Error().
				Str("topic", msg.topic).
				Interface("panic", rec).
				Msg("Handler panicked, message dropped")
		}
	}()

	if err := handler(r.ctx, msg.payload); err != nil {
		r.mutex.Lock()
		r.stats.Failed++
		r.mutex.Unlock()
		r.logger.Error().
			Err(err).
			Str("topic", msg.topic).
			Msg("Handler failed, message dropped")
		return
	}

	r.mutex.Lock()
	r.stats.Dispatched++
	r.mutex.Unlock()
}

// GetStats returns a snapshot of dispatch statistics
func (r *Router) GetStats() RouterStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.stats
}
