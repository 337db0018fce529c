package pipeline

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/observability"
)

// Event is a fire-and-forget side effect emitted after delivery:
// usage accounting, content-scoring triggers, and the like.
type Event struct {
	Kind      string
	RequestID string
	ChannelID string
	UserID    string
	Payload   map[string]any
	At        time.Time
}

// EventHandler consumes one side-effect event. Handlers run off the
// request path; errors and panics are logged, never propagated.
type EventHandler func(Event) error

// Sink is a supervised dispatcher for side effects. Handoff is
// non-blocking: when the queue is full the event is dropped and
// counted, because the request path must never wait on accounting.
type Sink struct {
	queue    chan Event
	handlers map[string][]EventHandler
	logger   *observability.Logger
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSink creates and starts a sink with the given queue depth
// (default 256).
func NewSink(depth int, logger *observability.Logger) *Sink {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	s := &Sink{
		queue:    make(chan Event, depth),
		handlers: make(map[string][]EventHandler),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// On registers a handler for an event kind. Not safe to call after
// events start flowing; wire handlers during startup.
func (s *Sink) On(kind string, handler EventHandler) {
	s.handlers[kind] = append(s.handlers[kind], handler)
}

// Emit hands off an event without blocking. Returns false when the
// event was dropped: queue full, or the sink already closed.
func (s *Sink) Emit(event Event) bool {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("side-effect sink closed, event dropped",
			"kind", event.Kind, "request_id", event.RequestID)
		return false
	}
	select {
	case s.queue <- event:
		return true
	default:
		s.logger.Warn("side-effect queue full, event dropped",
			"kind", event.Kind, "request_id", event.RequestID)
		return false
	}
}

// Close stops the dispatcher after draining queued events. Safe to
// call more than once; Emit after Close drops the event.
func (s *Sink) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	if !already {
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for event := range s.queue {
		for _, handler := range s.handlers[event.Kind] {
			s.dispatch(event, handler)
		}
	}
}

// dispatch supervises one handler call: a panicking or failing handler
// is logged and the loop keeps going.
func (s *Sink) dispatch(event Event, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("side-effect handler panicked",
				"kind", event.Kind, "panic", r)
		}
	}()
	if err := handler(event); err != nil {
		s.logger.Warn("side-effect handler failed",
			"kind", event.Kind, "error", err)
	}
}
