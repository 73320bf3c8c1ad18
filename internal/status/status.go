// Package status carries human-readable progress notifications from the
// conversation worker to a presentation layer.
//
// Emit never blocks the worker. The [Notifier] buffers a bounded number of
// events; when the buffer is full the oldest pending event is dropped so the
// consumer always sees the most recent state.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tag classifies a notification for presentation (icon, colour).
type Tag string

const (
	TagListening  Tag = "listening"
	TagRecording  Tag = "recording"
	TagProcessing Tag = "processing"
	TagActive     Tag = "active"
	TagSpeaking   Tag = "speaking"
	TagError      Tag = "error"
)

// Canonical messages emitted by the worker.
const (
	MsgListening    = "Listening..."
	MsgRecording    = "Recording..."
	MsgProcessing   = "Processing..."
	MsgActive       = "Tara is now active!"
	MsgWaiting      = "Waiting for trigger word."
	MsgFollowUp     = "Asking a follow-up..."
	MsgSpeaking     = "Playing response..."
	MsgEnded        = "Conversation ended."
	MsgNoResponse   = "Error: No response from server."
	MsgDeviceFailed = "Error: Audio device unavailable."
)

// DefaultBufferSize is the number of undelivered events a Notifier keeps.
const DefaultBufferSize = 16

// Event is one notification.
type Event struct {
	Message string
	Tag     Tag
	Time    time.Time
}

// Emitter accepts notifications. Implementations must not block.
type Emitter interface {
	Emit(message string, tag Tag)
}

// Discard is an [Emitter] that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(string, Tag) {}

// Notifier is a bounded, non-blocking [Emitter]. It is safe for concurrent
// use by any number of producers and one consumer.
type Notifier struct {
	mu      sync.Mutex // serialises producers so drop-oldest is exact
	ch      chan Event
	latest  atomic.Pointer[Event]
	dropped atomic.Int64
	now     func() time.Time
}

var _ Emitter = (*Notifier)(nil)

// NewNotifier returns a Notifier buffering up to size events. A size below 1
// uses [DefaultBufferSize].
func NewNotifier(size int) *Notifier {
	if size < 1 {
		size = DefaultBufferSize
	}
	return &Notifier{ch: make(chan Event, size), now: time.Now}
}

// Emit records the event as the latest state and queues it for the consumer.
// If the queue is full, the oldest queued event is discarded.
func (n *Notifier) Emit(message string, tag Tag) {
	ev := Event{Message: message, Tag: tag, Time: n.now()}
	n.latest.Store(&ev)

	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		select {
		case n.ch <- ev:
			return
		default:
		}
		select {
		case <-n.ch:
			n.dropped.Add(1)
		default:
		}
	}
}

// Events returns the receive side of the queue.
func (n *Notifier) Events() <-chan Event { return n.ch }

// Latest returns the most recently emitted event, if any.
func (n *Notifier) Latest() (Event, bool) {
	ev := n.latest.Load()
	if ev == nil {
		return Event{}, false
	}
	return *ev, true
}

// Dropped returns how many events were discarded because the queue was full.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Recorder is an [Emitter] that keeps every event in memory. It is intended
// for tests and for the HTTP status endpoint's history view.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (r *Recorder) Emit(message string, tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Message: message, Tag: tag, Time: time.Now()})
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Tags returns the recorded tags in order.
func (r *Recorder) Tags() []Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tag, len(r.events))
	for i, e := range r.events {
		out[i] = e.Tag
	}
	return out
}

// Multi fans one notification out to several emitters.
func Multi(emitters ...Emitter) Emitter {
	return multi(emitters)
}

type multi []Emitter

func (m multi) Emit(message string, tag Tag) {
	for _, e := range m {
		e.Emit(message, tag)
	}
}
