package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docuflow/docuflow/internal/db/models"
)

func resetBus() {
	handlersMu.Lock()
	handlers = make(map[EventType][]Handler)
	handlersMu.Unlock()
	eventChan = make(chan Event, EventChannelSize)
}

func TestEventSystem(t *testing.T) {
	t.Run("Subscribe and Publish", func(t *testing.T) {
		resetBus()

		var wg sync.WaitGroup
		wg.Add(1)

		var received Event
		testHandler := func(_ context.Context, event Event) error {
			received = event
			wg.Done()
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Start(ctx)
		Subscribe(EventJobTerminal, testHandler)

		published := Event{
			Type:        EventJobTerminal,
			JobID:       "job-123",
			DocumentRef: "docs/a.pdf",
			State:       models.JobStateCompleted,
			Decision:    models.DecisionAutomated,
			Score:       0.95,
		}
		Publish(published)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Test timed out waiting for event handler")
		}

		assert.Equal(t, published.Type, received.Type)
		assert.Equal(t, published.JobID, received.JobID)
		assert.Equal(t, published.State, received.State)
		assert.Equal(t, published.Decision, received.Decision)
		assert.InDelta(t, published.Score, received.Score, 1e-9)
	})

	t.Run("Multiple Handlers", func(t *testing.T) {
		resetBus()

		var wg sync.WaitGroup
		wg.Add(2)

		handlerCalls := make(map[string]bool)
		var mu sync.Mutex

		handler := func(name string) Handler {
			return func(_ context.Context, _ Event) error {
				mu.Lock()
				handlerCalls[name] = true
				mu.Unlock()
				wg.Done()
				return nil
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Start(ctx)
		Subscribe(EventJobSubmitted, handler("handler1"))
		Subscribe(EventJobSubmitted, handler("handler2"))

		Publish(Event{Type: EventJobSubmitted, JobID: "job-456"})

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Test timed out waiting for event handlers")
		}

		mu.Lock()
		assert.True(t, handlerCalls["handler1"], "Handler 1 should have been called")
		assert.True(t, handlerCalls["handler2"], "Handler 2 should have been called")
		mu.Unlock()
	})

	t.Run("Publish Without Consumer Never Blocks", func(t *testing.T) {
		resetBus()

		// No Start: the buffer absorbs EventChannelSize events, the rest drop
		for i := 0; i < EventChannelSize+10; i++ {
			Publish(Event{Type: EventJobRequeued, JobID: "job-789"})
		}
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		resetBus()

		ctx, cancel := context.WithCancel(context.Background())
		Start(ctx)

		Subscribe(EventJobTerminal, func(_ context.Context, _ Event) error {
			t.Error("Handler should not be called after context cancellation")
			return nil
		})

		cancel()
		time.Sleep(100 * time.Millisecond)

		Publish(Event{Type: EventJobTerminal, JobID: "job-999"})
		time.Sleep(100 * time.Millisecond)
	})
}
