// Package loopback connects a device-side control HAL to a host-side control
// transport inside one process.
//
// The device end implements hal.ControlHAL and is served by device.Control.
// The host end issues vendor requests to a fixed interface number and
// satisfies host.Transport, so the host client can drive the badge firmware
// without hardware:
//
//	dev, h := loopback.New(0)
//	ctl := device.NewControl(dev)
//	ctl.Register(handler)
//	go ctl.Run(ctx)
//	client := host.New(h)
//
// Each transfer carries a sequence number so a response belonging to a
// transfer the host gave up on is never delivered to the next one.
package loopback

import (
	"context"
	"sync"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

type setup struct {
	seq    uint64
	packet hal.SetupPacket
}

type response struct {
	seq   uint64
	data  []byte
	stall bool
}

type link struct {
	setup chan setup
	out   chan []byte
	resp  chan response
}

// Device is the device end of a loopback link.
type Device struct {
	link *link
	seq  uint64
}

// Host is the host end of a loopback link. It is safe for concurrent use;
// transfers are serialized as on a real control pipe.
type Host struct {
	link  *link
	iface uint16

	mutex sync.Mutex
	seq   uint64
}

// New returns both ends of a link whose host end addresses interface iface.
func New(iface uint8) (*Device, *Host) {
	l := &link{
		setup: make(chan setup),
		out:   make(chan []byte),
		resp:  make(chan response, 1),
	}
	return &Device{link: l}, &Host{link: l, iface: uint16(iface)}
}

// ReadSetup blocks until the host starts a transfer.
func (d *Device) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case s := <-d.link.setup:
		d.seq = s.seq
		*out = s.packet
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadEP0 receives the OUT data stage. A zero-length buf is the status stage
// of an IN transfer, which the host end completes implicitly.
func (d *Device) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	select {
	case data := <-d.link.out:
		return copy(buf, data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WriteEP0 sends the IN data stage.
func (d *Device) WriteEP0(_ context.Context, data []byte) error {
	d.respond(response{seq: d.seq, data: append([]byte(nil), data...)})
	return nil
}

// StallEP0 rejects the current transfer.
func (d *Device) StallEP0() error {
	d.respond(response{seq: d.seq, stall: true})
	return nil
}

// AckEP0 completes the current OUT transfer.
func (d *Device) AckEP0() error {
	d.respond(response{seq: d.seq})
	return nil
}

// respond never blocks; an unread response from an abandoned transfer is
// replaced.
func (d *Device) respond(r response) {
	for {
		select {
		case d.link.resp <- r:
			return
		default:
			select {
			case <-d.link.resp:
			default:
			}
		}
	}
}

// ControlIn issues a vendor IN request and copies the data stage into buf.
func (h *Host) ControlIn(ctx context.Context, req protocol.Request, value uint16, buf []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	r, err := h.transfer(ctx, hal.VendorInterfaceRequest(true, uint8(req), value, h.iface, uint16(len(buf))), nil)
	if err != nil {
		return 0, err
	}
	return copy(buf, r.data), nil
}

// ControlOut issues a vendor OUT request with data as its data stage.
func (h *Host) ControlOut(ctx context.Context, req protocol.Request, value uint16, data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, err := h.transfer(ctx, hal.VendorInterfaceRequest(false, uint8(req), value, h.iface, uint16(len(data))), data)
	return err
}

// Control issues an arbitrary request. For an IN request data receives the
// data stage; for an OUT request it is sent as the data stage. wLength is
// taken from len(data).
func (h *Host) Control(ctx context.Context, setup hal.SetupPacket, data []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	setup.Length = uint16(len(data))
	if setup.IsDeviceToHost() {
		r, err := h.transfer(ctx, setup, nil)
		if err != nil {
			return 0, err
		}
		return copy(data, r.data), nil
	}
	if _, err := h.transfer(ctx, setup, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (h *Host) transfer(ctx context.Context, packet hal.SetupPacket, data []byte) (response, error) {
	h.seq++
	seq := h.seq

	select {
	case h.link.setup <- setup{seq: seq, packet: packet}:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	if len(data) > 0 {
		select {
		case h.link.out <- data:
		case r := <-h.link.resp:
			// Stalled before the data stage was taken.
			if r.seq == seq {
				return r, r.err()
			}
			return h.await(ctx, seq, data)
		case <-ctx.Done():
			return response{}, ctx.Err()
		}
	}
	return h.await(ctx, seq, nil)
}

func (h *Host) await(ctx context.Context, seq uint64, pending []byte) (response, error) {
	out := h.link.out
	if pending == nil {
		out = nil
	}
	for {
		select {
		case out <- pending:
			out = nil
		case r := <-h.link.resp:
			if r.seq != seq {
				pkg.LogDebug(pkg.ComponentStack, "dropping stale response", "seq", r.seq, "want", seq)
				continue
			}
			return r, r.err()
		case <-ctx.Done():
			return response{}, ctx.Err()
		}
	}
}

func (r response) err() error {
	if r.stall {
		return pkg.ErrStall
	}
	return nil
}
