package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
)

// MaxControlDataSize is the largest data stage the control loop buffers.
const MaxControlDataSize = 256

// DefaultCallbackTimeout bounds every handler callback.
const DefaultCallbackTimeout = 50 * time.Millisecond

// Response is a handler's verdict on a control request.
type Response uint8

// Responses.
const (
	Ignored  Response = iota // not addressed to this handler
	Accepted                 // completed; data stage or status is sent
	Rejected                 // addressed to this handler but refused; EP0 stalls
)

// String returns the response name.
func (r Response) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// ControlHandler answers control requests. Callbacks must decide quickly and
// never block past ctx, which carries the callback deadline.
type ControlHandler interface {
	// ControlOut handles a host-to-device request with its data stage.
	ControlOut(ctx context.Context, setup *hal.SetupPacket, data []byte) Response

	// ControlIn handles a device-to-host request by filling buf, which is
	// sized to wLength. It returns the number of bytes to send.
	ControlIn(ctx context.Context, setup *hal.SetupPacket, buf []byte) (Response, int)
}

// Control runs the EP0 request loop and dispatches to registered handlers.
type Control struct {
	hal     hal.ControlHAL
	timeout time.Duration

	mutex    sync.RWMutex
	handlers []ControlHandler
	running  bool

	setupBuf hal.SetupPacket
	ep0Buf   [MaxControlDataSize]byte
}

// ControlOption configures a Control.
type ControlOption func(*Control)

// WithCallbackTimeout sets the deadline given to each handler callback.
func WithCallbackTimeout(d time.Duration) ControlOption {
	return func(c *Control) { c.timeout = d }
}

// NewControl returns a control loop over h.
func NewControl(h hal.ControlHAL, opts ...ControlOption) *Control {
	c := &Control{hal: h, timeout: DefaultCallbackTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a handler. Handlers are consulted in registration order.
func (c *Control) Register(h ControlHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handlers = append(c.handlers, h)
}

// IsRunning reports whether Run is active.
func (c *Control) IsRunning() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.running
}

// Run serves control requests until ctx is done.
func (c *Control) Run(ctx context.Context) error {
	c.mutex.Lock()
	if c.running {
		c.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	c.running = true
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		c.running = false
		c.mutex.Unlock()
	}()

	pkg.LogDebug(pkg.ComponentStack, "control loop started")
	for {
		if err := c.hal.ReadSetup(ctx, &c.setupBuf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup", "error", err)
			continue
		}

		setup := c.setupBuf
		if err := c.handleSetup(ctx, &setup); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogDebug(pkg.ComponentStack, "request stalled",
				"error", err, "request", setup.String())
			c.hal.StallEP0()
		}
	}
}

var errRejected = errors.New("request rejected")

// handleSetup processes a single SETUP transaction.
func (c *Control) handleSetup(ctx context.Context, setup *hal.SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received", "request", setup.String())

	n := min(int(setup.Length), MaxControlDataSize)
	c.mutex.RLock()
	handlers := c.handlers
	c.mutex.RUnlock()

	if setup.IsDeviceToHost() {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		for _, h := range handlers {
			resp, written := h.ControlIn(cctx, setup, c.ep0Buf[:n])
			switch resp {
			case Ignored:
				continue
			case Rejected:
				return errRejected
			}
			if err := c.hal.WriteEP0(ctx, c.ep0Buf[:min(written, n)]); err != nil {
				return err
			}
			// Status stage (zero-length OUT)
			_, err := c.hal.ReadEP0(ctx, c.ep0Buf[:0])
			return err
		}
		return pkg.ErrInvalidRequest
	}

	data := c.ep0Buf[:0]
	if n > 0 {
		read, err := c.hal.ReadEP0(ctx, c.ep0Buf[:n])
		if err != nil {
			return err
		}
		data = c.ep0Buf[:read]
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, h := range handlers {
		switch h.ControlOut(cctx, setup, data) {
		case Ignored:
			continue
		case Rejected:
			return errRejected
		}
		return c.hal.AckEP0()
	}
	return pkg.ErrInvalidRequest
}
