package extsync

import (
	"context"
	"errors"
	"sync"

	"github.com/kalambet/jhm/internal/record"
)

// Message types exchanged with the extension.
const (
	TypePing        = "JHM_EXTENSION_PING"
	TypePong        = "JHM_EXTENSION_PONG"
	TypeGetJobs     = "JHM_GET_JOBS"
	TypeData        = "JHM_EXTENSION_DATA"
	TypeJobSaved    = "JHM_JOB_SAVED"
	TypeSyncRequest = "JHM_SYNC_REQUEST"
)

// Message is one frame on the extension channel. Type is the discriminator;
// job payloads follow the jobs collection shape.
type Message struct {
	Type    string          `json:"type"`
	Jobs    []record.Record `json:"jobs,omitempty"`
	Job     record.Record   `json:"job,omitempty"`
	Version string          `json:"version,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrClosed is returned by a Transport after Close.
var ErrClosed = errors.New("transport closed")

// Transport carries messages to and from the extension. Receive blocks
// until a message arrives, the context ends, or the transport closes.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// pipeEnd is one side of an in-memory Transport pair.
type pipeEnd struct {
	in  <-chan Message
	out chan<- Message

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected in-memory transports. Messages sent on one
// are received on the other. Closing either end closes both.
func Pipe() (Transport, Transport) {
	ab := make(chan Message, 16)
	ba := make(chan Message, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{in: ba, out: ab, done: done, closeOnce: once}
	b := &pipeEnd{in: ab, out: ba, done: done, closeOnce: once}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
