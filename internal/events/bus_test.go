package events

import "testing"

// TestPublishFanOut verifies every subscriber receives the event with
// defaults filled in.
func TestPublishFanOut(t *testing.T) {
	b := NewBus()
	var got []Event
	b.Subscribe(func(e Event) { got = append(got, e) })
	b.Subscribe(func(e Event) { got = append(got, e) })

	b.Publish(Event{Source: "extension-sync", Count: 2})

	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
	if got[0].Name != DataUpdated {
		t.Errorf("Name = %q, want %q", got[0].Name, DataUpdated)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

// TestUnsubscribe verifies a removed subscriber stops receiving events.
func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	n := 0
	unsub := b.Subscribe(func(Event) { n++ })

	b.Publish(Event{})
	unsub()
	unsub()
	b.Publish(Event{})

	if n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

// TestNilBus verifies publishing on a nil bus is a no-op.
func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Count: 1})
}
