// Package events publishes orchestration events and records them in an
// append-only audit log.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventGraphLoaded    EventType = "graph_loaded"
	EventGraphInvalid   EventType = "graph_invalid"
	EventBatchSelected  EventType = "batch_selected"
	EventTaskDispatched EventType = "task_dispatched"
	EventDispatchFailed EventType = "dispatch_failed"
	EventCheckStarted   EventType = "check_started"
	EventCheckFailed    EventType = "check_failed"
	EventReviewResolved EventType = "review_resolved"
	EventAwaitTimeout   EventType = "await_timeout"
	EventReconciled     EventType = "reconciled"
	EventStalled        EventType = "stalled"
	EventRunFinished    EventType = "run_finished"
)

// Event represents an orchestration event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Events are delivered asynchronously via
// buffered channels; if a subscriber's channel is full, the event is dropped
// for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	wg          sync.WaitGroup
	closed      bool
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	ch := b.start(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subscribers[eventType] = b.remove(b.subscribers[eventType], ch)
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	ch := b.start(fn)
	b.all = append(b.all, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = b.remove(b.all, ch)
	}
}

// start launches the delivery goroutine. Callers hold b.mu.
func (b *Bus) start(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			func() {
				// A panicking subscriber must not take the bus down.
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()
	return ch
}

// remove closes ch and drops it from subs. Callers hold b.mu.
func (b *Bus) remove(subs []chan Event, ch chan Event) []chan Event {
	for i, sub := range subs {
		if sub == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish sends an event to every subscriber of its type and to every
// SubscribeAll subscriber without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, subs := range [][]chan Event{b.subscribers[eventType], b.all} {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close stops accepting events and waits until subscribers have handled
// everything already buffered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.all = nil
	b.mu.Unlock()

	b.wg.Wait()
}
