// Package events provides a process-local publish/subscribe bus for job
// lifecycle notifications.
package events

import (
	"context"
	"sync"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/logger"
)

// EventType represents the kind of job lifecycle event
type EventType string

const (
	// EventJobSubmitted is emitted when a job is accepted into the registry
	EventJobSubmitted EventType = "job_submitted"
	// EventJobRequeued is emitted when a job is re-queued after resource exhaustion
	EventJobRequeued EventType = "job_requeued"
	// EventJobTerminal is emitted when a job reaches a terminal state
	EventJobTerminal EventType = "job_terminal"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
)

// Event describes a job lifecycle change
type Event struct {
	Type        EventType       // The type of event
	JobID       string          // The job ID
	DocumentRef string          // The document the job processes
	State       models.JobState // The job state after the change
	Reason      string          // The failure reason, set for failed jobs
	Decision    models.Decision // The automation decision, set for scored jobs
	Score       float64         // The automation score, set for scored jobs
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

var (
	// handlers is a map of event types to their handlers
	handlers = make(map[EventType][]Handler)
	// handlersMu is a mutex for the handlers map
	handlersMu sync.RWMutex
	// eventChan is a channel for events
	eventChan = make(chan Event, EventChannelSize)
)

// Subscribe registers a handler for a specific event type
func Subscribe(eventType EventType, handler Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[eventType] = append(handlers[eventType], handler)
	logger.Debugf("Registered handler for event type: %s", eventType)
}

// Publish sends an event to be processed. Publish never blocks; when nothing
// drains the bus the event is dropped.
func Publish(event Event) {
	select {
	case eventChan <- event:
	default:
		logger.Warnf("Event bus full, dropping event %s for job %s", event.Type, event.JobID)
	}
}

// Start starts the event processing loop
func Start(ctx context.Context) {
	go processEvents(ctx)
	logger.Info("Started event processing loop")
}

// processEvents handles events in the background
func processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping event processing loop")
			return
		case event := <-eventChan:
			handlersMu.RLock()
			eventHandlers := handlers[event.Type]
			handlersMu.RUnlock()

			for _, handler := range eventHandlers {
				go func(h Handler, e Event) {
					if err := h(ctx, e); err != nil {
						logger.Errorf("Failed to handle event %s for job %s: %v", e.Type, e.JobID, err)
					}
				}(handler, event)
			}
		}
	}
}
