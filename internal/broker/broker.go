// Package broker fans pipeline progress events out to subscribers (SSE
// handlers, the CLI progress view) while retaining a bounded replay buffer
// so late subscribers can catch up on the current run.
package broker

import (
	"sync"
	"time"

	"veilleur/internal/core"
)

// EventType discriminates the payload of an Event.
type EventType string

const (
	EventLog          EventType = "log"
	EventProgress     EventType = "progress"
	EventSourceUpdate EventType = "source_update"
	EventCompleted    EventType = "completed"
	EventError        EventType = "error"
)

// SourceUpdate reports the per-source lifecycle during collection.
type SourceUpdate struct {
	Domain   string `json:"domain"`
	Status   string `json:"status"` // pending, scraping, success, empty, error, timeout, blocked, skipped
	Articles int    `json:"articles"`
	Error    string `json:"error,omitempty"`
}

// Event is one progress notification. The payload fields used depend on Type.
type Event struct {
	Seq       int64     `json:"seq"` // Monotonic within a run
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Level   string         `json:"level,omitempty"`   // log events
	Stage   string         `json:"stage,omitempty"`   // log and progress events
	Message string         `json:"message,omitempty"` // log, error and completed events
	Details map[string]any `json:"details,omitempty"` // log events, free-form

	Percent float64 `json:"percent,omitempty"` // progress events, 0..100
	Status  string  `json:"status,omitempty"`  // progress events

	Source  *SourceUpdate    `json:"source,omitempty"`  // source_update events
	Summary *core.RunSummary `json:"summary,omitempty"` // completed events
}

// Broker retains the last bufferSize events of the current run and pushes
// new events to every subscriber. Publishing never blocks: a subscriber that
// cannot keep up loses events rather than stalling the pipeline.
type Broker struct {
	mu          sync.Mutex
	buffer      []Event // Ring, oldest first once full
	bufferSize  int
	seq         int64
	runID       string
	subscribers map[int]chan Event
	nextSubID   int
	dropped     int64
}

// New creates a broker retaining bufferSize events per run.
func New(bufferSize int) *Broker {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broker{
		bufferSize:  bufferSize,
		subscribers: make(map[int]chan Event),
	}
}

// StartRun resets the replay buffer and sequence counter for a new run.
// Existing subscribers stay attached and observe the new run's events.
func (b *Broker) StartRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runID = runID
	b.seq = 0
	b.buffer = b.buffer[:0]
}

// RunID returns the identifier of the run currently buffered.
func (b *Broker) RunID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runID
}

// Publish stamps the event with the current run, a sequence number and a
// timestamp, stores it in the replay buffer and fans it out. The non-blocking
// sends happen under the lock so cancel() can never close a channel mid-send.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	ev.RunID = b.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if len(b.buffer) == b.bufferSize {
		copy(b.buffer, b.buffer[1:])
		b.buffer[len(b.buffer)-1] = ev
	} else {
		b.buffer = append(b.buffer, ev)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers a subscriber and returns its channel primed with a
// replay of the buffered events. The returned cancel function detaches the
// subscriber and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	// Channel sized for the full replay plus live headroom.
	ch := make(chan Event, b.bufferSize*2)
	for _, ev := range b.buffer {
		ch <- ev
	}
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns a copy of the replay buffer, oldest event first.
func (b *Broker) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Broker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Log publishes a log event.
func (b *Broker) Log(level, stage, message string) {
	b.Publish(Event{Type: EventLog, Level: level, Stage: stage, Message: message})
}

// Progress publishes a stage progress event.
func (b *Broker) Progress(stage string, percent float64) {
	b.Publish(Event{Type: EventProgress, Stage: stage, Percent: percent, Status: "running"})
}

// SourceUpdate publishes a per-source lifecycle event.
func (b *Broker) SourceUpdate(u SourceUpdate) {
	b.Publish(Event{Type: EventSourceUpdate, Source: &u})
}

// Completed publishes the terminal event of a run.
func (b *Broker) Completed(summary core.RunSummary) {
	b.Publish(Event{Type: EventCompleted, Message: string(summary.Status), Summary: &summary})
}

// Error publishes a run-level error event.
func (b *Broker) Error(stage, message string) {
	b.Publish(Event{Type: EventError, Stage: stage, Message: message})
}
