package loopback

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// echo serves one transfer at a time on the device end: IN requests return
// wValue bytes of 0xAB, OUT requests with data are acked, OUT requests
// without data stall.
func echo(ctx context.Context, d *Device, seen chan<- hal.SetupPacket) {
	var setup hal.SetupPacket
	buf := make([]byte, 64)
	for {
		if err := d.ReadSetup(ctx, &setup); err != nil {
			return
		}
		seen <- setup
		if setup.IsDeviceToHost() {
			d.WriteEP0(ctx, bytes.Repeat([]byte{0xab}, int(setup.Value)))
			d.ReadEP0(ctx, buf[:0])
			continue
		}
		if setup.Length == 0 {
			d.StallEP0()
			continue
		}
		n, _ := d.ReadEP0(ctx, buf[:setup.Length])
		if n != int(setup.Length) {
			d.StallEP0()
			continue
		}
		d.AckEP0()
	}
}

func startEcho(t *testing.T) (*Host, chan hal.SetupPacket) {
	t.Helper()
	d, h := New(3)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	seen := make(chan hal.SetupPacket, 16)
	go echo(ctx, d, seen)
	return h, seen
}

func TestControlIn(t *testing.T) {
	h, seen := startEcho(t)
	ctx := context.Background()

	buf := make([]byte, 8)
	n, err := h.ControlIn(ctx, protocol.RequestGetState, 5, buf)
	if err != nil {
		t.Fatalf("ControlIn() error = %v", err)
	}
	if n != 5 || !bytes.Equal(buf[:n], bytes.Repeat([]byte{0xab}, 5)) {
		t.Errorf("ControlIn() = %x, want 5 bytes of ab", buf[:n])
	}

	setup := <-seen
	if !setup.IsVendor() || !setup.IsInterfaceRecipient() || setup.InterfaceNumber() != 3 {
		t.Errorf("setup = %v, want vendor request to interface 3", setup.String())
	}
	if setup.Request != uint8(protocol.RequestGetState) || setup.Length != 8 {
		t.Errorf("setup = %v, want GetState with length 8", setup.String())
	}
}

func TestControlOut(t *testing.T) {
	h, _ := startEcho(t)
	ctx := context.Background()

	if err := h.ControlOut(ctx, protocol.RequestSetState, 0, []byte{1, 2, 3}); err != nil {
		t.Errorf("ControlOut() error = %v", err)
	}
	if err := h.ControlOut(ctx, protocol.RequestUpdateDisplay, 0, nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("ControlOut() error = %v, want %v", err, pkg.ErrStall)
	}
	// The link recovers after a stall.
	if err := h.ControlOut(ctx, protocol.RequestSetState, 0, []byte{1}); err != nil {
		t.Errorf("ControlOut() after stall error = %v", err)
	}
}

func TestAbandonedTransfer(t *testing.T) {
	d, h := New(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.ControlIn(ctx, protocol.RequestGetState, 0, make([]byte, 1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ControlIn() with no device error = %v, want %v", err, context.DeadlineExceeded)
	}

	// A late response to an abandoned transfer is never delivered to the next.
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		var setup hal.SetupPacket
		if d.ReadSetup(runCtx, &setup) != nil {
			return
		}
		d.seq--
		d.StallEP0()
		d.seq++
		d.WriteEP0(runCtx, []byte{7})
	}()
	buf := make([]byte, 1)
	n, err := h.ControlIn(context.Background(), protocol.RequestGetState, 0, buf)
	if err != nil || n != 1 || buf[0] != 7 {
		t.Errorf("ControlIn() = %d %x, %v, want 1 07, nil", n, buf[:n], err)
	}
}

func TestControlStandard(t *testing.T) {
	h, seen := startEcho(t)
	ctx := context.Background()

	buf := make([]byte, 4)
	setup := hal.StandardDeviceRequest(true, 0x06, 4, 0, 0)
	n, err := h.Control(ctx, setup, buf)
	if err != nil || n != 4 {
		t.Fatalf("Control(IN) = %d, %v, want 4, nil", n, err)
	}
	if got := <-seen; got.IsVendor() || got.Length != 4 || got.Index != 0 {
		t.Errorf("setup = %v, want standard request with length 4", got.String())
	}

	if _, err := h.Control(ctx, hal.StandardDeviceRequest(false, 0x09, 1, 0, 0), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Control(OUT, no data) error = %v, want %v", err, pkg.ErrStall)
	}
}
