package pipeline

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSinkDispatches(t *testing.T) {
	sink := NewSink(8, nil)
	var handled atomic.Int64
	sink.On("usage", func(e Event) error {
		handled.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		if !sink.Emit(Event{Kind: "usage", RequestID: "r"}) {
			t.Fatal("emit rejected with room in the queue")
		}
	}
	sink.Close()

	if got := handled.Load(); got != 3 {
		t.Errorf("handled %d events, want 3", got)
	}
}

func TestSinkSupervisesPanics(t *testing.T) {
	sink := NewSink(8, nil)
	var after atomic.Bool
	sink.On("score", func(Event) error { panic("handler bug") })
	sink.On("score", func(Event) error {
		after.Store(true)
		return nil
	})

	sink.Emit(Event{Kind: "score"})
	sink.Close()

	if !after.Load() {
		t.Error("panic in one handler stopped the others")
	}
}

func TestSinkAbsorbsHandlerErrors(t *testing.T) {
	sink := NewSink(8, nil)
	sink.On("usage", func(Event) error { return errors.New("db down") })
	sink.Emit(Event{Kind: "usage"})
	// Close drains; a failing handler must not wedge the dispatcher.
	done := make(chan struct{})
	go func() { sink.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink failed to drain with a failing handler")
	}
}

func TestSinkEmitAfterClose(t *testing.T) {
	sink := NewSink(8, nil)
	var handled atomic.Int64
	sink.On("usage", func(Event) error {
		handled.Add(1)
		return nil
	})
	sink.Close()

	// A straggling handler may still emit after shutdown; the event is
	// dropped, never a panic.
	if sink.Emit(Event{Kind: "usage"}) {
		t.Error("emit reported success on a closed sink")
	}
	if handled.Load() != 0 {
		t.Error("closed sink dispatched an event")
	}
}

func TestSinkCloseIdempotent(t *testing.T) {
	sink := NewSink(8, nil)
	sink.Close()
	sink.Close()
}

func TestSinkDropsWhenFull(t *testing.T) {
	sink := NewSink(1, nil)
	block := make(chan struct{})
	sink.On("usage", func(Event) error {
		<-block
		return nil
	})

	// First event occupies the worker, second fills the queue; the
	// third must be dropped without blocking.
	sink.Emit(Event{Kind: "usage"})
	time.Sleep(10 * time.Millisecond)
	sink.Emit(Event{Kind: "usage"})

	delivered := make(chan bool, 1)
	go func() { delivered <- sink.Emit(Event{Kind: "usage"}) }()
	select {
	case ok := <-delivered:
		if ok {
			t.Error("emit reported success on a full queue")
		}
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full queue")
	}

	close(block)
	sink.Close()
}
