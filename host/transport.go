package host

import (
	"context"

	"github.com/ardnew/sysbadge/protocol"
)

// Transport carries vendor control requests to the badge's interface.
// A stalled request returns an error matching pkg.ErrStall.
type Transport interface {
	// ControlIn issues an IN request with wLength len(buf) and returns the
	// number of bytes the device sent.
	ControlIn(ctx context.Context, req protocol.Request, value uint16, buf []byte) (int, error)

	// ControlOut issues an OUT request with data as its data stage.
	ControlOut(ctx context.Context, req protocol.Request, value uint16, data []byte) error
}
