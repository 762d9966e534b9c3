package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification for a run or one of its lanes.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID.
	RunID string `json:"run_id,omitempty"`

	// LaneID is the associated lane, if applicable.
	LaneID string `json:"lane_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunRejected       = "run.rejected"
	EventTypeLaneStarted       = "lane.started"
	EventTypeLaneFinished      = "lane.finished"
	EventTypeLaneSkipped       = "lane.skipped"
	EventTypeArtifactCollected = "artifact.collected"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. Synchronous publishers
// deliver before returning; asynchronous ones drop the event when the buffer
// is full.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, trigger string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started by %s trigger", runID, trigger),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"trigger": trigger,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	}
	if status != "passed" {
		event.Level = EventLevelWarning
	}
	if err != nil {
		event.Level = EventLevelError
		event.Data["error"] = err.Error()
	}
	return ep.Publish(event)
}

// PublishRunRejected publishes a configuration rejection.
func (ep *EventPublisher) PublishRunRejected(runID, code, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunRejected,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s rejected: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishLaneStarted publishes a lane started event.
func (ep *EventPublisher) PublishLaneStarted(runID, laneID string) error {
	return ep.Publish(Event{
		Type:    EventTypeLaneStarted,
		RunID:   runID,
		LaneID:  laneID,
		Message: fmt.Sprintf("Lane %s started", laneID),
		Level:   EventLevelInfo,
	})
}

// PublishLaneFinished publishes a lane finished event.
func (ep *EventPublisher) PublishLaneFinished(runID, laneID, outcome string, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeLaneFinished,
		RunID:   runID,
		LaneID:  laneID,
		Message: fmt.Sprintf("Lane %s finished: %s", laneID, outcome),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	}
	if err != nil {
		event.Level = EventLevelError
		event.Data["error"] = err.Error()
	}
	return ep.Publish(event)
}

// PublishLaneSkipped publishes a lane skipped event.
func (ep *EventPublisher) PublishLaneSkipped(runID, laneID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeLaneSkipped,
		RunID:   runID,
		LaneID:  laneID,
		Message: fmt.Sprintf("Lane %s skipped: %s", laneID, reason),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishArtifactCollected publishes the result of a lane's report collection.
func (ep *EventPublisher) PublishArtifactCollected(runID, laneID, name string, uploaded bool, err error) error {
	event := Event{
		Type:    EventTypeArtifactCollected,
		RunID:   runID,
		LaneID:  laneID,
		Message: fmt.Sprintf("Artifact %s for lane %s uploaded=%t", name, laneID, uploaded),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"artifact": name,
			"uploaded": uploaded,
		},
	}
	if err != nil {
		event.Level = EventLevelWarning
		event.Data["error"] = err.Error()
	}
	return ep.Publish(event)
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer until shutdown, then delivers what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := append([]subscriberEntry(nil), ep.subscribers...)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after buffered events are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByLaneID creates a filter that only allows events for a specific lane.
func FilterByLaneID(laneID string) EventFilter {
	return func(event Event) bool {
		return event.LaneID == laneID
	}
}
