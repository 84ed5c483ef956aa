//go:build !linux || mips || mipsle || mips64 || mips64le || ppc64 || ppc64le

package usbfs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/protocol"
)

// ErrDisconnected is returned once the badge has been unplugged.
var ErrDisconnected = errors.New("badge disconnected")

// DefaultTimeout is the transfer timeout used without WithTimeout.
const DefaultTimeout = time.Second

// Device is unavailable on this platform.
type Device struct{ badge Badge }

// Option configures a Device.
type Option func(*Device)

// WithTimeout bounds every transfer that has no earlier context deadline.
func WithTimeout(time.Duration) Option { return func(*Device) {} }

// Open fails: usbfs exists only on Linux.
func Open(b Badge, _ ...Option) (*Device, error) {
	return nil, fmt.Errorf("usbfs on %s/%s: %w", runtime.GOOS, runtime.GOARCH, errors.ErrUnsupported)
}

func (d *Device) Badge() Badge { return d.badge }
func (d *Device) Close() error { return nil }

func (d *Device) ControlIn(context.Context, protocol.Request, uint16, []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (d *Device) ControlOut(context.Context, protocol.Request, uint16, []byte) error {
	return errors.ErrUnsupported
}

func (d *Device) Control(context.Context, hal.SetupPacket, []byte) (int, error) {
	return 0, errors.ErrUnsupported
}
