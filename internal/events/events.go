// Package events publishes run progress (tasks starting and finishing,
// jobs deferred and drained, run completion) to in-process subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/molecpathlab/snsxt/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventTaskStarted  EventType = "task_started"
	EventTaskFinished EventType = "task_finished"
	EventJobsDeferred EventType = "jobs_deferred"
	EventDrain        EventType = "drain"
	EventRunComplete  EventType = "run_complete"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TaskEvent reports a task starting or finishing.
type TaskEvent struct {
	BaseEvent
	Task     string
	Stage    string // "sns" or "analysis"
	Deferred int    // jobs handed to the end-of-run drain
	Skipped  []string
	Duration time.Duration
	Error    error
}

// JobsEvent lists the jobs a task handed to the end-of-run drain.
type JobsEvent struct {
	BaseEvent
	Task    string
	JobIDs  []string
	Outputs int
}

// DrainEvent reports the end-of-run drain of deferred jobs.
type DrainEvent struct {
	BaseEvent
	Jobs    int
	Outputs int
	Error   error
}

// RunCompleteEvent is published once, after cleanup.
type RunCompleteEvent struct {
	BaseEvent
	RunID      string
	AnalysisID string
	ResultsID  string
	Tasks      int
	Jobs       int
	Duration   time.Duration
	Error      error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a
// full subscriber are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishTaskStarted announces that task is about to run.
func (eb *EventBus) PublishTaskStarted(task, stage string) {
	eb.Publish(&TaskEvent{
		BaseEvent: BaseEvent{EventType: EventTaskStarted, Time: time.Now()},
		Task:      task,
		Stage:     stage,
	})
}

// PublishTaskFinished announces that task returned.
func (eb *EventBus) PublishTaskFinished(task, stage string, deferred int, skipped []string, took time.Duration, err error) {
	eb.Publish(&TaskEvent{
		BaseEvent: BaseEvent{EventType: EventTaskFinished, Time: time.Now()},
		Task:      task,
		Stage:     stage,
		Deferred:  deferred,
		Skipped:   skipped,
		Duration:  took,
		Error:     err,
	})
}

// PublishJobsDeferred announces jobs that will be validated at the end of
// the run instead of by the task that submitted them.
func (eb *EventBus) PublishJobsDeferred(task string, jobIDs []string, outputs int) {
	eb.Publish(&JobsEvent{
		BaseEvent: BaseEvent{EventType: EventJobsDeferred, Time: time.Now()},
		Task:      task,
		JobIDs:    jobIDs,
		Outputs:   outputs,
	})
}

// DroppedEvents returns the number of events dropped because a
// subscriber's buffer was full.
func (eb *EventBus) DroppedEvents() int64 {
	if eb == nil {
		return 0
	}
	return eb.droppedEvents.Load()
}
