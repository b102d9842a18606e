package extsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSyncTimeout is returned when the extension does not answer in time.
var ErrSyncTimeout = errors.New("extension did not respond in time")

// Mux turns a Transport into a request/reply channel. Replies are matched
// to the oldest pending request waiting for that message type; anything
// else is handed to the push handler.
type Mux struct {
	t      Transport
	push   func(context.Context, Message)
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan Message
}

// NewMux wraps t. push receives unsolicited messages and may be nil.
func NewMux(t Transport, push func(context.Context, Message)) *Mux {
	return &Mux{
		t:       t,
		push:    push,
		logger:  slog.Default(),
		waiters: make(map[string][]chan Message),
	}
}

// Run dispatches incoming messages until ctx ends or the transport fails.
func (m *Mux) Run(ctx context.Context) error {
	for {
		msg, err := m.t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if m.deliver(msg) {
			continue
		}
		if m.push != nil {
			m.push(ctx, msg)
		} else {
			m.logger.Debug("extsync: dropping unsolicited message", "type", msg.Type)
		}
	}
}

func (m *Mux) deliver(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiters[msg.Type]
	if len(q) == 0 {
		return false
	}
	ch := q[0]
	m.waiters[msg.Type] = q[1:]
	ch <- msg
	return true
}

func (m *Mux) cancel(replyType string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiters[replyType]
	for i, c := range q {
		if c == ch {
			m.waiters[replyType] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// Request sends msg and waits up to timeout for a message of replyType.
// It returns ErrSyncTimeout when no reply arrives in time.
func (m *Mux) Request(ctx context.Context, msg Message, replyType string, timeout time.Duration) (Message, error) {
	ch := make(chan Message, 1)
	m.mu.Lock()
	m.waiters[replyType] = append(m.waiters[replyType], ch)
	m.mu.Unlock()

	if err := m.t.Send(ctx, msg); err != nil {
		m.cancel(replyType, ch)
		return Message{}, fmt.Errorf("sending %s: %w", msg.Type, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		m.cancel(replyType, ch)
		return Message{}, fmt.Errorf("%w: %s after %v", ErrSyncTimeout, replyType, timeout)
	case <-ctx.Done():
		m.cancel(replyType, ch)
		return Message{}, ctx.Err()
	}
}

// Send posts msg without waiting for a reply.
func (m *Mux) Send(ctx context.Context, msg Message) error {
	return m.t.Send(ctx, msg)
}

// Close closes the underlying transport.
func (m *Mux) Close() error {
	return m.t.Close()
}
