package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/engine"
)

// Event represents a work order activity event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type engine.EventType `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// PassID is the scheduling pass the event belongs to, if any.
	PassID string `json:"pass_id,omitempty"`

	// WorkOrder is the database index of the work order, if applicable.
	WorkOrder int64 `json:"work_order,omitempty"`

	// StorageID is the storage backend involved, if applicable.
	StorageID string `json:"storage_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

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

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
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
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. A nil publisher discards it.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

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

// PublishProgressUpdate publishes a work order progress update.
func (ep *EventPublisher) PublishProgressUpdate(wo *engine.WorkOrder) error {
	return ep.Publish(Event{
		Type:      engine.EventTypeProgressUpdate,
		Source:    "work_order",
		WorkOrder: wo.Index(),
		StorageID: wo.StorageID(),
		Message:   wo.SummaryStatus(),
		Data: map[string]interface{}{
			"state":            wo.ExecutionState().String(),
			"action":           string(wo.OrderAction()),
			"progress_percent": wo.ProgressPercent(),
			"downloaded_bytes": wo.DownloadedBytes(),
		},
	})
}

// PublishPassStarted publishes a scheduling pass started event.
func (ep *EventPublisher) PublishPassStarted(passID string, orders int) error {
	return ep.Publish(Event{
		Type:    engine.EventTypePassStarted,
		Source:  "scheduler",
		PassID:  passID,
		Message: fmt.Sprintf("Scheduling pass %s started for %d work orders", passID, orders),
		Data: map[string]interface{}{
			"orders": orders,
		},
	})
}

// PublishPassCompleted publishes a scheduling pass completed event.
func (ep *EventPublisher) PublishPassCompleted(passID string, outcomes map[string]int, duration time.Duration) error {
	data := make(map[string]interface{}, len(outcomes)+1)
	for k, v := range outcomes {
		data[k] = v
	}
	data["duration"] = duration.Seconds()
	return ep.Publish(Event{
		Type:    engine.EventTypePassCompleted,
		Source:  "scheduler",
		PassID:  passID,
		Message: fmt.Sprintf("Scheduling pass %s completed", passID),
		Data:    data,
	})
}

// PublishStorageSelected publishes a storage binding event.
func (ep *EventPublisher) PublishStorageSelected(passID string, index int64, storageID, step string, progressReset bool) error {
	return ep.Publish(Event{
		Type:      engine.EventTypeStorageSelected,
		Source:    "storage",
		PassID:    passID,
		WorkOrder: index,
		StorageID: storageID,
		Message:   fmt.Sprintf("Work order %d bound to storage %s (%s)", index, storageID, step),
		Data: map[string]interface{}{
			"step":           step,
			"progress_reset": progressReset,
		},
	})
}

// PublishPolicyRejected publishes an event for a work order whose policy does
// not parse.
func (ep *EventPublisher) PublishPolicyRejected(passID string, index int64, text string, err error) error {
	return ep.Publish(Event{
		Type:      engine.EventTypePolicyRejected,
		Source:    "policy",
		PassID:    passID,
		WorkOrder: index,
		Message:   fmt.Sprintf("Policy of work order %d rejected: %v", index, err),
		Data: map[string]interface{}{
			"policy": text,
			"reason": string(reasonOf(err)),
		},
	})
}

// PublishActionApplied publishes an event for a serviced order action.
func (ep *EventPublisher) PublishActionApplied(passID string, index int64, action engine.OrderAction, state engine.ExecutionState) error {
	return ep.Publish(Event{
		Type:      engine.EventTypeActionApplied,
		Source:    "scheduler",
		PassID:    passID,
		WorkOrder: index,
		Message:   fmt.Sprintf("Work order %d: %s applied, now %s", index, action, state),
		Data: map[string]interface{}{
			"action": string(action),
			"state":  state.String(),
		},
	})
}

// PublishError publishes an error event.
func (ep *EventPublisher) PublishError(passID string, index int64, err error) error {
	return ep.Publish(Event{
		Type:      engine.EventTypeError,
		Source:    "scheduler",
		PassID:    passID,
		WorkOrder: index,
		Message:   err.Error(),
		Data: map[string]interface{}{
			"kind": string(engine.KindOf(err)),
		},
	})
}

func reasonOf(err error) engine.PolicyReason {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents drains the buffer in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
		drain:
			for len(batch) < ep.config.MaxBatchSize {
				select {
				case next := <-ep.buffer:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
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

// LogSink returns a subscriber that writes events to logger. Warnings and
// errors keep their level; everything else is logged at debug.
func LogSink(logger *Logger) EventSubscriber {
	return func(e Event) {
		l := logger
		if e.PassID != "" {
			l = l.WithPass(e.PassID)
		}
		if e.WorkOrder != 0 {
			l = l.WithWorkOrder(e.WorkOrder)
		}
		if e.StorageID != "" {
			l = l.WithBackend(e.StorageID)
		}

		var ev *zerolog.Event
		switch e.Level {
		case EventLevelError:
			ev = l.Error()
		case EventLevelWarning:
			ev = l.Warn()
		default:
			ev = l.Debug()
		}
		ev.Str("event_type", string(e.Type)).
			Str("source", e.Source).
			Fields(e.Data).
			Msg(e.Message)
	}
}

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
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByWorkOrder creates a filter that only allows events for one work order.
func FilterByWorkOrder(index int64) EventFilter {
	return func(event Event) bool {
		return event.WorkOrder == index
	}
}

// FilterByPass creates a filter that only allows events of one scheduling pass.
func FilterByPass(passID string) EventFilter {
	return func(event Event) bool {
		return event.PassID == passID
	}
}
