package pipeline

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan SSEEvent) SSEEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return SSEEvent{}
	}
}

func TestEventBusPublishSubscribe(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(EventFilter{})
	defer cancel()

	eb.Publish(EventState, "sess-1", map[string]string{"state": "imported"})

	e := recv(t, ch)
	if e.Type != EventState {
		t.Errorf("type = %q, want state", e.Type)
	}
	if e.SessionID != "sess-1" {
		t.Errorf("session = %q, want sess-1", e.SessionID)
	}
	if e.ID == "" || e.Timestamp == "" {
		t.Error("event missing ID or timestamp")
	}
}

func TestEventBusTypeFilter(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(EventFilter{Types: []string{EventDiff}})
	defer cancel()

	eb.Publish(EventProgress, "sess-1", map[string]float64{"progress": 0.5})
	eb.Publish(EventDiff, "sess-1", map[string]int{"changed": 2})

	e := recv(t, ch)
	if e.Type != EventDiff {
		t.Errorf("got %q through a diff-only filter", e.Type)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event %q", extra.Type)
	default:
	}
}

func TestEventBusSessionFilter(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(EventFilter{SessionIDs: []string{"sess-2"}})
	defer cancel()

	eb.Publish(EventState, "sess-1", nil)
	eb.Publish(EventState, "sess-2", nil)

	e := recv(t, ch)
	if e.SessionID != "sess-2" {
		t.Errorf("session = %q, want sess-2", e.SessionID)
	}
}

func TestEventBusReplaySince(t *testing.T) {
	eb := NewEventBus(16)

	eb.Publish(EventState, "s", map[string]int{"n": 1})
	eb.Publish(EventState, "s", map[string]int{"n": 2})
	eb.Publish(EventState, "s", map[string]int{"n": 3})

	all := eb.ReplaySince("", EventFilter{})
	if len(all) != 3 {
		t.Fatalf("replay all = %d events, want 3", len(all))
	}

	tail := eb.ReplaySince(all[0].ID, EventFilter{})
	if len(tail) != 2 {
		t.Errorf("replay since first = %d events, want 2", len(tail))
	}
}

func TestEventBusRingOverflow(t *testing.T) {
	eb := NewEventBus(4)
	for i := 0; i < 10; i++ {
		eb.Publish(EventProgress, "s", map[string]int{"n": i})
	}
	if got := len(eb.ReplaySince("", EventFilter{})); got != 4 {
		t.Errorf("replay = %d events, want ring size 4", got)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(16)
	_, cancel := eb.Subscribe(EventFilter{})
	if eb.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", eb.SubscriberCount())
	}
	cancel()
	if eb.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0 after cancel", eb.SubscriberCount())
	}
}
