package sysbadge

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/flash"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

// Rebooter restarts the device into a boot target. disableMask is the ROM
// bootloader mask of USB interfaces to hide; it is zero for the application.
type Rebooter interface {
	Reboot(target protocol.BootSel, disableMask uint32) error
}

// RebooterFunc adapts a function to Rebooter.
type RebooterFunc func(target protocol.BootSel, disableMask uint32) error

// Reboot calls f.
func (f RebooterFunc) Reboot(target protocol.BootSel, disableMask uint32) error {
	return f(target, disableMask)
}

// Handler serves the sysbadge vendor interface.
type Handler struct {
	iface    uint8
	badge    *badge.Badge
	buttons  *badge.Buttons
	guard    *flash.Guard
	updater  *flash.Updater
	rebooter Rebooter
	wake     func()

	drawing atomic.Bool
	redraw  atomic.Bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithInterface sets the interface number requests must be addressed to.
func WithInterface(n uint8) Option {
	return func(h *Handler) { h.iface = n }
}

// WithRebooter sets the reboot hook. Without one Reboot is accepted and only
// logged.
func WithRebooter(r Rebooter) Option {
	return func(h *Handler) { h.rebooter = r }
}

// WithWaker sets the function asking the redraw loop to repaint. It must not
// block. Without one the handler draws on its own goroutine, one draw at a
// time, folding nudges that arrive mid-draw into a single repaint.
func WithWaker(fn func()) Option {
	return func(h *Handler) { h.wake = fn }
}

// New returns a handler driving b, feeding buttons, reading identity through
// guard and writing roster updates through up.
func New(b *badge.Badge, buttons *badge.Buttons, guard *flash.Guard, up *flash.Updater, opts ...Option) *Handler {
	h := &Handler{
		badge:   b,
		buttons: buttons,
		guard:   guard,
		updater: up,
		rebooter: RebooterFunc(func(target protocol.BootSel, mask uint32) error {
			pkg.LogInfo(pkg.ComponentClass, "reboot requested", "target", target.String(), "mask", mask)
			return nil
		}),
	}
	h.wake = h.drawAsync
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) drawAsync() {
	h.redraw.Store(true)
	if !h.drawing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			for h.redraw.Swap(false) {
				if _, err := h.badge.Draw(context.Background()); err != nil {
					pkg.LogWarn(pkg.ComponentClass, "draw failed", "error", err)
				}
			}
			h.drawing.Store(false)
			// A nudge landing between the last Swap and Store is still ours.
			if !h.redraw.Load() || !h.drawing.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

var _ device.ControlHandler = (*Handler)(nil)

func (h *Handler) claims(setup *hal.SetupPacket) bool {
	return setup.IsVendor() && setup.IsInterfaceRecipient() && setup.InterfaceNumber() == h.iface
}

// ControlOut handles host-to-device requests.
func (h *Handler) ControlOut(ctx context.Context, setup *hal.SetupPacket, data []byte) device.Response {
	if !h.claims(setup) {
		return device.Ignored
	}
	req, err := protocol.ParseRequest(setup.Request)
	if err != nil {
		return h.respond(protocol.Request(setup.Request), err)
	}

	switch req {
	case protocol.RequestButtonPress:
		err = h.buttonPress(setup.Value)
	case protocol.RequestSetState:
		err = h.setState(ctx, data)
	case protocol.RequestUpdateDisplay:
		h.wake()
	case protocol.RequestReboot:
		err = h.reboot(setup.Value)
	case protocol.RequestSystemUpload:
		err = h.startUpload(ctx, setup.Value)
	case protocol.RequestSystemDNLoad:
		if len(data) == 0 {
			err = h.finalize(ctx)
		} else {
			err = h.download(ctx, setup.Value, data)
		}
	default:
		err = fmt.Errorf("%v is not an OUT request: %w", req, pkg.ErrInvalidRequest)
	}
	return h.respond(req, err)
}

// ControlIn handles device-to-host requests.
func (h *Handler) ControlIn(ctx context.Context, setup *hal.SetupPacket, buf []byte) (device.Response, int) {
	if !h.claims(setup) {
		return device.Ignored, 0
	}
	req, err := protocol.ParseRequest(setup.Request)
	if err != nil {
		return h.respond(protocol.Request(setup.Request), err), 0
	}

	var n int
	switch req {
	case protocol.RequestGetSystemName:
		n, err = h.systemName(ctx, int(setup.Value), buf)
	case protocol.RequestGetMemberCount:
		n, err = h.memberCount(ctx, buf)
	case protocol.RequestGetMemberName:
		n, err = h.member(ctx, int(setup.Value), false, buf)
	case protocol.RequestGetMemberPronouns:
		n, err = h.member(ctx, int(setup.Value), true, buf)
	case protocol.RequestGetState:
		n, err = h.state(ctx, buf)
	case protocol.RequestGetVersion:
		n, err = h.version(ctx, setup.Value, buf)
	case protocol.RequestSystemUpload:
		n, err = h.pollUpload(buf)
	default:
		err = fmt.Errorf("%v is not an IN request: %w", req, pkg.ErrInvalidRequest)
	}
	return h.respond(req, err), n
}

func (h *Handler) respond(req protocol.Request, err error) device.Response {
	if err != nil {
		pkg.LogDebug(pkg.ComponentClass, "request rejected", "request", req.String(), "error", err)
		return device.Rejected
	}
	return device.Accepted
}

func (h *Handler) buttonPress(value uint16) error {
	b, err := protocol.ParseButton(value)
	if err != nil {
		return err
	}
	return h.buttons.TrySend(b)
}

// withRoster runs fn on the active roster. Reads are refused while an update
// owns the roster region or when no valid roster is loaded.
func (h *Handler) withRoster(ctx context.Context, fn func(roster.System) error) error {
	return h.badge.Do(ctx, func(s *badge.Session) error {
		if s.Menu().Menu == badge.MenuUpdating {
			return fmt.Errorf("roster is being updated: %w", pkg.ErrInvalidState)
		}
		sys := s.System()
		if sys == nil {
			return fmt.Errorf("no valid roster: %w", pkg.ErrInvalidState)
		}
		return fn(sys)
	})
}

func (h *Handler) systemName(ctx context.Context, offset int, buf []byte) (n int, err error) {
	err = h.withRoster(ctx, func(sys roster.System) error {
		name := nameBytes(sys)
		if offset > len(name) {
			return fmt.Errorf("name offset %d past %d bytes: %w", offset, len(name), pkg.ErrIndexOutOfRange)
		}
		n = copy(buf, name[offset:])
		return nil
	})
	return n, err
}

func nameBytes(sys roster.System) []byte {
	if src, ok := sys.(roster.ByteSource); ok {
		return src.NameBytes()
	}
	return []byte(sys.Name())
}

func (h *Handler) memberCount(ctx context.Context, buf []byte) (n int, err error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("member count needs 2 bytes: %w", pkg.ErrInvalidParameter)
	}
	err = h.withRoster(ctx, func(sys roster.System) error {
		binary.LittleEndian.PutUint16(buf, uint16(min(sys.MemberCount(), 0xffff)))
		return nil
	})
	return 2, err
}

func (h *Handler) member(ctx context.Context, index int, pronouns bool, buf []byte) (n int, err error) {
	err = h.withRoster(ctx, func(sys roster.System) error {
		if src, ok := sys.(roster.ByteSource); ok {
			name, pn, err := src.MemberBytes(index)
			if err != nil {
				return err
			}
			if pronouns {
				name = pn
			}
			n, err = copyWhole(buf, name)
			return err
		}
		m, err := sys.Member(index)
		if err != nil {
			return err
		}
		str := m.Name
		if pronouns {
			str = m.Pronouns
		}
		n, err = copyWhole(buf, []byte(str))
		return err
	})
	return n, err
}

// copyWhole copies s into buf, refusing rather than cutting a string the
// host could not tell apart from a complete one.
func copyWhole(buf, s []byte) (int, error) {
	if len(s) > len(buf) {
		return 0, fmt.Errorf("%d byte string for %d byte transfer: %w", len(s), len(buf), pkg.ErrTooLarge)
	}
	return copy(buf, s), nil
}

func (h *Handler) state(ctx context.Context, buf []byte) (n int, err error) {
	if len(buf) < badge.StateSize {
		return 0, fmt.Errorf("state needs %d bytes: %w", badge.StateSize, pkg.ErrInvalidParameter)
	}
	err = h.badge.Do(ctx, func(s *badge.Session) error {
		data, err := s.Menu().AppendBinary(buf[:0])
		n = len(data)
		return err
	})
	return n, err
}

func (h *Handler) setState(ctx context.Context, data []byte) error {
	var m badge.CurrentMenu
	if err := m.UnmarshalBinary(data); err != nil {
		return err
	}
	if m.Menu == badge.MenuUpdating || m.Menu == badge.MenuInvalidSystem {
		return fmt.Errorf("state %v cannot be set: %w", m.Menu, pkg.ErrProtocolMismatch)
	}
	return h.badge.Do(ctx, func(s *badge.Session) error {
		switch s.Menu().Menu {
		case badge.MenuUpdating, badge.MenuInvalidSystem:
			return fmt.Errorf("menu %v: %w", s.Menu().Menu, pkg.ErrInvalidState)
		}
		s.SetMenu(m)
		return nil
	})
}

func (h *Handler) version(ctx context.Context, value uint16, buf []byte) (int, error) {
	kind, err := protocol.ParseVersionType(value)
	if err != nil {
		return 0, err
	}
	info := h.badge.Info()
	switch kind {
	case protocol.VersionJedec:
		if len(buf) < 4 {
			return 0, fmt.Errorf("jedec id needs 4 bytes: %w", pkg.ErrInvalidParameter)
		}
		id, err := h.guard.JEDECID(ctx)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(buf, id)
		return 4, nil
	case protocol.VersionUniqueID:
		if len(buf) < 8 {
			return 0, fmt.Errorf("unique id needs 8 bytes: %w", pkg.ErrInvalidParameter)
		}
		id, err := h.guard.UniqueID(ctx)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(buf, id)
		return 8, nil
	case protocol.VersionSerialNumber:
		if info.Serial != "" {
			return copy(buf, info.Serial), nil
		}
		id, err := h.guard.UniqueID(ctx)
		if err != nil {
			return 0, err
		}
		return copy(buf, fmt.Sprintf("%016X", id)), nil
	case protocol.VersionSemVer:
		return copy(buf, info.Version), nil
	case protocol.VersionMatrix:
		return copy(buf, info.Matrix), nil
	default:
		return copy(buf, info.Web), nil
	}
}

func (h *Handler) reboot(value uint16) error {
	target, err := protocol.ParseBootSel(value)
	if err != nil {
		return err
	}
	mask, _ := target.DisableInterfaceMask()
	return h.rebooter.Reboot(target, mask)
}

// startUpload enters the update screen and, when erase is requested, queues
// the region erase. It restarts a failed or abandoned sequence but is refused
// while a flash operation is queued or running.
func (h *Handler) startUpload(ctx context.Context, value uint16) error {
	if value > 1 {
		return fmt.Errorf("erase flag %d: %w", value, pkg.ErrInvalidParameter)
	}
	if h.updater.Busy() {
		return fmt.Errorf("update in progress: %w", pkg.ErrBusy)
	}
	err := h.badge.Do(ctx, func(s *badge.Session) error {
		s.SetMenu(badge.CurrentMenu{Menu: badge.MenuUpdating})
		return nil
	})
	if err != nil {
		return err
	}

	h.updater.Reset()
	if value == 1 {
		if err := h.updater.TryErase(); err != nil {
			return err
		}
	} else {
		h.updater.Signal(protocol.StatusReadyForUpdate)
	}
	pkg.LogInfo(pkg.ComponentClass, "update started", "erase", value == 1, "region", h.updater.Region().String())
	h.wake()
	return nil
}

func (h *Handler) pollUpload(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("status needs 1 byte: %w", pkg.ErrInvalidParameter)
	}
	buf[0] = uint8(h.updater.Poll())
	return 1, nil
}

func (h *Handler) updating(ctx context.Context) error {
	return h.badge.Do(ctx, func(s *badge.Session) error {
		if s.Menu().Menu != badge.MenuUpdating {
			return fmt.Errorf("not updating: %w", pkg.ErrInvalidState)
		}
		return nil
	})
}

func (h *Handler) download(ctx context.Context, offset uint16, data []byte) error {
	if len(data) > protocol.MaxChunk {
		return fmt.Errorf("chunk of %d bytes exceeds %d: %w", len(data), protocol.MaxChunk, pkg.ErrInvalidParameter)
	}
	if err := h.updating(ctx); err != nil {
		return err
	}
	return h.updater.TryWrite(uint32(offset), data)
}

// finalize validates the written region and swaps it in as the active roster.
// A region that does not open leaves the update screen up for a retry.
func (h *Handler) finalize(ctx context.Context) error {
	if h.updater.Busy() {
		return fmt.Errorf("write in flight: %w", pkg.ErrBusy)
	}
	region := h.updater.Region()
	err := h.badge.Do(ctx, func(s *badge.Session) error {
		if s.Menu().Menu != badge.MenuUpdating {
			return fmt.Errorf("not updating: %w", pkg.ErrInvalidState)
		}
		view, err := h.guard.Map(region)
		if err != nil {
			return err
		}
		r, err := roster.Open(view, region.Base)
		if err != nil {
			pkg.LogWarn(pkg.ComponentClass, "uploaded roster is invalid", "error", err)
			return err
		}
		s.SetSystem(r)
		pkg.LogInfo(pkg.ComponentClass, "roster updated", "name", r.Name(), "members", r.MemberCount())
		return nil
	})
	if err != nil {
		return err
	}
	h.updater.Reset()
	h.badge.Invalidate()
	h.wake()
	return nil
}
