// Package events carries in-process "data updated" notifications from the
// storage layer to whatever renders it.
package events

import (
	"sync"
	"time"
)

// DataUpdated is the event name published after bulk imports.
const DataUpdated = "jhm-data-updated"

// Event reports that records were added outside the normal save path.
type Event struct {
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	Results   any       `json:"results,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out synchronously to every subscriber.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every current subscriber. Name and Timestamp are
// filled in when empty. A nil Bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Name == "" {
		e.Name = DataUpdated
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
