package orchestrator

import (
	"testing"
	"time"
)

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter(10)
	e.Emit(Event{Type: EventRunStarted})
	e.Emit(Event{Type: EventNodePlanned})
	e.Emit(Event{Type: EventRunCompleted})
	e.Close()

	var got []EventType
	for event := range e.Events() {
		got = append(got, event.Type)
		if event.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	}
	want := []EventType{EventRunStarted, EventNodePlanned, EventRunCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Type: EventRunStarted})

	done := make(chan struct{})
	go func() {
		e.Emit(Event{Type: EventNodePlanned}) // buffer full, dropped after grace
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked instead of dropping")
	}
	if e.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", e.Dropped())
	}
}

func TestEmitter_DefaultBuffer(t *testing.T) {
	e := NewEmitter(0)
	for i := 0; i < 100; i++ {
		e.Emit(Event{Type: EventToolCall})
	}
	if e.Dropped() != 0 {
		t.Errorf("default buffer dropped %d events", e.Dropped())
	}
}
