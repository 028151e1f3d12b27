// Package export delivers checkout data (form data, pricing, payment records)
// to in-process consumers.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/course-checkout/pkg/logging"
)

// Kind names the type of data carried by an Event.
type Kind string

const (
	KindFormData Kind = "form_data"
	KindPricing  Kind = "pricing"
	KindPayment  Kind = "payment"
)

// Event is one exported record.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event stamped with now.
func NewEvent(kind Kind, sessionID string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("export: marshal payload: %w", err)
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		SessionID: sessionID,
		At:        now.UTC(),
		Payload:   data,
	}, nil
}

// Sink receives exported events. Emit must not block the caller for long and
// never reports failure: the checkout flow does not depend on delivery.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a func to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	s.logger.InfoContext(ctx, "checkout export",
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"session_id", ev.SessionID,
		"payload", string(ev.Payload),
	)
}

// MemorySink keeps the most recent events in a fixed-size ring.
type MemorySink struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
}

// DefaultMemorySize is used when NewMemorySink gets a non-positive size.
const DefaultMemorySize = 256

func NewMemorySink(size int) *MemorySink {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemorySink{buf: make([]Event, size)}
}

func (s *MemorySink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = ev
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
}

// Recent returns up to limit events, oldest first. A non-positive limit
// returns everything held.
func (s *MemorySink) Recent(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	start := (s.next - n + len(s.buf)) % len(s.buf)
	for i := 0; i < n; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}

// Len reports how many events are held.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
