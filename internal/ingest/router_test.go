package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestRouter(t *testing.T) {
	t.Run("DispatchesToHandler", func(t *testing.T) {
		router := NewRouter(16)

		var mu sync.Mutex
		var received []string
		router.Register("topic/a", func(ctx context.Context, payload []byte) error {
			mu.Lock()
			received = append(received, string(payload))
			mu.Unlock()
			return nil
		})
		router.Start()
		defer router.Stop()

		router.Deliver("topic/a", []byte("hello"))

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1
		})

		mu.Lock()
		if received[0] != "hello" {
			t.Errorf("Expected payload 'hello', got %q", received[0])
		}
		mu.Unlock()
	})

	t.Run("UnknownTopicDropped", func(t *testing.T) {
		router := NewRouter(16)
		router.Start()
		defer router.Stop()

		router.Deliver("topic/unknown", []byte("x"))

		stats := router.GetStats()
		if stats.Unknown != 1 {
			t.Errorf("Expected 1 unknown-topic drop, got %d", stats.Unknown)
		}
	})

	t.Run("PreservesOrderWithinTopic", func(t *testing.T) {
		router := NewRouter(64)

		var mu sync.Mutex
		var received []string
		router.Register("topic/a", func(ctx context.Context, payload []byte) error {
			mu.Lock()
			received = append(received, string(payload))
			mu.Unlock()
			return nil
		})
		router.Start()
		defer router.Stop()

		for i := 0; i < 20; i++ {
			router.Deliver("topic/a", []byte(fmt.Sprintf("msg-%02d", i)))
		}

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 20
		})

		mu.Lock()
		defer mu.Unlock()
		for i, msg := range received {
			if want := fmt.Sprintf("msg-%02d", i); msg != want {
				t.Fatalf("Out of order at %d: expected %q, got %q", i, want, msg)
			}
		}
	})

	t.Run("SlowTopicDoesNotBlockOthers", func(t *testing.T) {
		router := NewRouter(16)

		release := make(chan struct{})
		router.Register("topic/slow", func(ctx context.Context, payload []byte) error {
			<-release
			return nil
		})

		var mu sync.Mutex
		fastCount := 0
		router.Register("topic/fast", func(ctx context.Context, payload []byte) error {
			mu.Lock()
			fastCount++
			mu.Unlock()
			return nil
		})
		router.Start()
		defer router.Stop()
		defer close(release)

		router.Deliver("topic/slow", []byte("stuck"))
		router.Deliver("topic/fast", []byte("quick"))

		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return fastCount == 1
		})
	})

	t.Run("FullQueueDropsNewest", func(t *testing.T) {
		router := NewRouter(1)

		block := make(chan struct{})
		router.Register("topic/a", func(ctx context.Context, payload []byte) error {
			<-block
			return nil
		})
		router.Start()
		defer router.Stop()
		defer close(block)

		// First message occupies the worker, second fills the queue,
		// the rest must drop without blocking this goroutine.
		for i := 0; i < 5; i++ {
			router.Deliver("topic/a", []byte("m"))
		}

		waitFor(t, time.Second, func() bool {
			return router.GetStats().Dropped >= 3
		})
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		router := NewRouter(16)

		var mu sync.Mutex
		calls := 0
		router.Register("topic/a", func(ctx context.Context, payload []byte) error {
			mu.Lock()
			calls++
			mu.Unlock()
			if calls == 1 {
				panic("boom")
			}
			return nil
		})
		router.Start()
		defer router.Stop()

		router.Deliver("topic/a", []byte("first"))
		router.Deliver("topic/a", []byte("second"))

		// The worker survives the panic and processes the next message.
		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 2
		})

		if router.GetStats().Failed != 1 {
			t.Errorf("Expected 1 failed dispatch, got %d", router.GetStats().Failed)
		}
	})

	t.Run("HandlerErrorCounted", func(t *testing.T) {
		router := NewRouter(16)
		router.Register("topic/a", func(ctx context.Context, payload []byte) error {
			return fmt.Errorf("bad payload")
		})
		router.Start()
		defer router.Stop()

		router.Deliver("topic/a", []byte("x"))

		waitFor(t, time.Second, func() bool {
			return router.GetStats().Failed == 1
		})
	})
}
