//go:build linux && !(mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package usbfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// ctrlTransfer mirrors struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32 // milliseconds
	data        unsafe.Pointer
}

// ioctl numbers from include/uapi/linux/usbdevice_fs.h, encoded the
// asm-generic way: dir<<30 | size<<16 | type<<8 | nr.
const (
	iocWrite = 1
	iocRead  = 2

	usbdevfsType = 'U'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | usbdevfsType<<8 | nr
}

var (
	ioctlControl          = ioc(iocRead|iocWrite, 0, unsafe.Sizeof(ctrlTransfer{}))
	ioctlClaimInterface   = ioc(iocRead, 15, unsafe.Sizeof(uint32(0)))
	ioctlReleaseInterface = ioc(iocRead, 16, unsafe.Sizeof(uint32(0)))
)

// ErrDisconnected is returned once the badge has been unplugged.
var ErrDisconnected = errors.New("badge disconnected")

// Device is an open badge. It satisfies host.Transport and host.Pipe, and
// is safe for concurrent use; transfers are serialized.
type Device struct {
	badge   Badge
	timeout time.Duration

	mutex sync.Mutex
	fd    int
}

// Option configures a Device.
type Option func(*Device)

// WithTimeout bounds every transfer that has no earlier context deadline.
func WithTimeout(d time.Duration) Option {
	return func(dev *Device) { dev.timeout = d }
}

// DefaultTimeout is the transfer timeout used without WithTimeout.
const DefaultTimeout = time.Second

// Open opens b's usbfs node and claims its vendor interface.
func Open(b Badge, opts ...Option) (*Device, error) {
	d := &Device{badge: b, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(d)
	}

	fd, err := unix.Open(b.DevPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b.DevPath, err)
	}
	iface := uint32(b.Interface)
	if err := ioctl(fd, ioctlClaimInterface, unsafe.Pointer(&iface)); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EBUSY) {
			err = fmt.Errorf("%w: %w", pkg.ErrBusy, err)
		}
		return nil, fmt.Errorf("claim interface %d: %w", b.Interface, err)
	}
	d.fd = fd

	pkg.LogDebug(pkg.ComponentHost, "badge opened", "path", b.DevPath, "interface", b.Interface)
	return d, nil
}

// Badge returns the sysfs description the device was opened from.
func (d *Device) Badge() Badge {
	return d.badge
}

// Close releases the interface and closes the node.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.fd < 0 {
		return nil
	}
	iface := uint32(d.badge.Interface)
	releaseErr := ioctl(d.fd, ioctlReleaseInterface, unsafe.Pointer(&iface))
	err := unix.Close(d.fd)
	d.fd = -1
	if releaseErr != nil && !errors.Is(releaseErr, unix.ENODEV) {
		return releaseErr
	}
	return err
}

// ControlIn issues a vendor IN request to the badge's interface.
func (d *Device) ControlIn(ctx context.Context, req protocol.Request, value uint16, buf []byte) (int, error) {
	return d.Control(ctx, hal.VendorInterfaceRequest(true, uint8(req), value, uint16(d.badge.Interface), 0), buf)
}

// ControlOut issues a vendor OUT request to the badge's interface.
func (d *Device) ControlOut(ctx context.Context, req protocol.Request, value uint16, data []byte) error {
	_, err := d.Control(ctx, hal.VendorInterfaceRequest(false, uint8(req), value, uint16(d.badge.Interface), 0), data)
	return err
}

// Control issues setup with wLength len(data) on the default pipe.
func (d *Device) Control(ctx context.Context, setup hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.fd < 0 {
		return 0, ErrDisconnected
	}

	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}

	ctrl := ctrlTransfer{
		requestType: setup.RequestType,
		request:     setup.Request,
		value:       setup.Value,
		index:       setup.Index,
		length:      uint16(len(data)),
		timeout:     uint32(max(timeout.Milliseconds(), 1)),
	}
	if len(data) > 0 {
		ctrl.data = unsafe.Pointer(&data[0])
	}

	n, err := ioctlRetval(d.fd, ioctlControl, unsafe.Pointer(&ctrl))
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, unix.EPIPE):
		return 0, pkg.ErrStall
	case errors.Is(err, unix.ENODEV):
		return 0, ErrDisconnected
	case errors.Is(err, unix.ETIMEDOUT):
		return 0, fmt.Errorf("%s: %w", setup.String(), context.DeadlineExceeded)
	}
	return 0, fmt.Errorf("%s: %w", setup.String(), err)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, err := ioctlRetval(fd, req, arg)
	return err
}

func ioctlRetval(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}
