package badge

import (
	"context"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// Buttons is the press queue between button sources and the Runner. It holds
// a single press: physical buttons wait for room, USB injections do not.
type Buttons struct {
	ch chan protocol.Button
}

// NewButtons returns an empty queue.
func NewButtons() *Buttons {
	return &Buttons{ch: make(chan protocol.Button, 1)}
}

// Send queues b, waiting for room until ctx is done.
func (q *Buttons) Send(ctx context.Context, b protocol.Button) error {
	select {
	case q.ch <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues b or fails with pkg.ErrBackpressure when a press is
// already waiting.
func (q *Buttons) TrySend(b protocol.Button) error {
	select {
	case q.ch <- b:
		return nil
	default:
		return pkg.ErrBackpressure
	}
}

// Presses returns the receive side of the queue.
func (q *Buttons) Presses() <-chan protocol.Button {
	return q.ch
}
