package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"lattis/internal/logger"
)

// Inbound topics published by shelf devices and the payment gateway bridge
const (
	TopicLoadCellQuantity  = "shelf/loadcell/quantity"
	TopicSensorEnvironment = "shelf/sensor/environment"
	TopicShelfStatus       = "shelf/status/data"
	TopicUnpaidCustomer    = "shelf/tracking/unpaid_customer"
	TopicPaymentNotify     = "payment/notification"
	TopicProductAdded      = "shelf/product/added"
)

// Deliverer receives every inbound message. Delivery must not block; the
// router enqueues into bounded per-topic queues and drops on overflow.
type Deliverer interface {
	Deliver(topic string, payload []byte)
}

// ClientStats tracks connection activity
type ClientStats struct {
	MessagesReceived uint64    `json:"messages_received"`
	Published        uint64    `json:"published"`
	PublishFailed    uint64    `json:"publish_failed"`
	Reconnects       uint64    `json:"reconnects"`
	LastMessage      time.Time `json:"last_message"`
	StartTime        time.Time `json:"start_time"`
}

// Client owns the process's one persistent connection to the message
// broker: a SUB socket for device topics and a PUB socket for outbound
// notifications. Reconnects use a fixed backoff interval and re-apply the
// full subscription set.
type Client struct {
	subEndpoint string
	pubEndpoint string
	identity    string
	reconnect   time.Duration
	topics      []string
	deliverer   Deliverer

	sub *zmq4.Socket
	pub *zmq4.Socket

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
	stats  ClientStats
	mutex  sync.RWMutex
}

// NewClient creates a broker client. Start must be called before use.
func NewClient(subEndpoint, pubEndpoint, identity string, reconnect time.Duration, deliverer Deliverer) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		subEndpoint: subEndpoint,
		pubEndpoint: pubEndpoint,
		identity:    identity,
		reconnect:   reconnect,
		deliverer:   deliverer,
		topics: []string{
			TopicLoadCellQuantity,
			TopicSensorEnvironment,
			TopicShelfStatus,
			TopicUnpaidCustomer,
			TopicPaymentNotify,
			TopicProductAdded,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: logger.GetLogger("broker"),
		stats:  ClientStats{StartTime: time.Now()},
	}
}

// Start connects both sockets and launches the receive loop
func (c *Client) Start() error {
	c.logger.Info().
		Str("sub_endpoint", c.subEndpoint).
		Str("pub_endpoint", c.pubEndpoint).
		Str("identity", c.identity).
		Msg("Starting broker client")

	if err := c.connect(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	go c.messageLoop()

	return nil
}

// Stop tears down the connection
func (c *Client) Stop() error {
	c.logger.Info().Msg("Stopping broker client")

	c.cancel()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing SUB socket")
		}
		c.sub = nil
	}
	if c.pub != nil {
		if err := c.pub.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing PUB socket")
		}
		c.pub = nil
	}

	c.logger.Info().Msg("Broker client stopped")
	return nil
}

// connect establishes both sockets and applies the subscription set
func (c *Client) connect() error {
	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("failed to create SUB socket: %w", err)
	}

	if err = sub.SetLinger(1000); err != nil {
		sub.Close()
		return fmt.Errorf("failed to set linger: %w", err)
	}

	if err = sub.Connect(c.subEndpoint); err != nil {
		sub.Close()
		return fmt.Errorf("failed to connect SUB socket: %w", err)
	}

	for _, topic := range c.topics {
		if err = sub.SetSubscribe(topic); err != nil {
			sub.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		sub.Close()
		return fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err = pub.SetIdentity(c.identity); err != nil {
		sub.Close()
		pub.Close()
		return fmt.Errorf("failed to set identity: %w", err)
	}

	if err = pub.SetLinger(1000); err != nil {
		sub.Close()
		pub.Close()
		return fmt.Errorf("failed to set linger: %w", err)
	}

	if err = pub.SetSndtimeo(5 * time.Second); err != nil {
		sub.Close()
		pub.Close()
		return fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err = pub.Connect(c.pubEndpoint); err != nil {
		sub.Close()
		pub.Close()
		return fmt.Errorf("failed to connect PUB socket: %w", err)
	}

	c.mutex.Lock()
	c.sub = sub
	c.pub = pub
	c.mutex.Unlock()

	c.logger.Info().
		Int("topics", len(c.topics)).
		Msg("Connected to broker")

	return nil
}

// reconnectWithBackoff closes the sockets and retries the connection at a
// fixed interval until it succeeds or the client stops.
func (c *Client) reconnectWithBackoff() {
	c.mutex.Lock()
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	if c.pub != nil {
		c.pub.Close()
		c.pub = nil
	}
	c.mutex.Unlock()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnect):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn().
				Err(err).
				Dur("retry_in", c.reconnect).
				Msg("Broker reconnect failed")
			continue
		}

		c.mutex.Lock()
		c.stats.Reconnects++
		c.mutex.Unlock()

		c.logger.Info().Msg("Broker connection re-established")
		return
	}
}

// messageLoop receives [topic, payload] frames and hands them to the
// deliverer. A failing message never takes the loop down.
func (c *Client) messageLoop() {
	c.logger.Info().Msg("Starting broker message loop")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Msg("Broker message loop stopping")
			return
		default:
		}

		c.mutex.RLock()
		sub := c.sub
		c.mutex.RUnlock()

		if sub == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		msg, err := sub.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to receive from broker, reconnecting")
			c.reconnectWithBackoff()
			continue
		}

		if len(msg) < 2 {
			c.logger.Warn().
				Int("parts_count", len(msg)).
				Msg("Received malformed message (insufficient parts)")
			continue
		}

		topic := string(msg[0])
		payload := msg[1]

		c.mutex.Lock()
		c.stats.MessagesReceived++
		c.stats.LastMessage = time.Now()
		c.mutex.Unlock()

		c.logger.Debug().
			Str("topic", topic).
			Int("payload_size", len(payload)).
			Msg("Received broker message")

		c.deliverer.Deliver(topic, payload)
	}
}

// Publish sends an outbound message on a topic. Failures reject the
// caller's operation and are not retried.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mutex.RLock()
	pub := c.pub
	c.mutex.RUnlock()

	if pub == nil {
		return fmt.Errorf("broker not connected")
	}

	if _, err := pub.SendMessage(topic, payload); err != nil {
		c.mutex.Lock()
		c.stats.PublishFailed++
		c.mutex.Unlock()
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	c.mutex.Lock()
	c.stats.Published++
	c.mutex.Unlock()

	c.logger.Debug().
		Str("topic", topic).
		Int("payload_size", len(payload)).
		Msg("Published broker message")

	return nil
}

// GetStats returns a snapshot of connection statistics
func (c *Client) GetStats() ClientStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// IsConnected reports whether the sockets are up
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.sub != nil && c.pub != nil
}
