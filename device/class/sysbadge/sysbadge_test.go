package sysbadge

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/flash"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

const (
	testIface = 2
	oldBase   = 0x20000000
)

var (
	testRegion   = flash.Region{Base: 0x10001000, Offset: 0x1000, Size: 0x2000}
	testGeometry = flash.Geometry{Size: 0x4000, SectorSize: 0x1000, PageSize: 256}
	testUUID     = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
)

type fixture struct {
	t       *testing.T
	mem     *flash.Memory
	badge   *badge.Badge
	fb      *display.Framebuffer
	buttons *badge.Buttons
	handler *Handler
	old     *roster.Reader
	reboots []protocol.BootSel
	masks   []uint32
}

func newFixture(t *testing.T, memOpts ...flash.MemoryOption) *fixture {
	t.Helper()
	f := &fixture{t: t}

	// The running roster lives apart from the update region.
	o := roster.NewOwned("Old System")
	o.AddMember("Ash", "they/them")
	o.AddMember("Birch", "")
	blob, err := o.ToBytes(oldBase)
	require.NoError(t, err)
	f.old, err = roster.Open(blob, oldBase)
	require.NoError(t, err)

	memOpts = append([]flash.MemoryOption{flash.WithUniqueID(testUUID), flash.WithJEDECID(0x001540ef)}, memOpts...)
	f.mem = flash.NewMemory(testGeometry, memOpts...)
	guard := flash.NewGuard(f.mem)
	up := flash.NewUpdater(guard, testRegion)

	f.fb = display.NewFramebuffer(display.DefaultWidth, display.DefaultHeight)
	f.badge, err = badge.New(f.fb, f.old, badge.Info{Version: "0.3.0", Matrix: "rp2040-gdew029t5", Web: "sysbadge.example"})
	require.NoError(t, err)
	f.buttons = badge.NewButtons()

	f.handler = New(f.badge, f.buttons, guard, up,
		WithInterface(testIface),
		WithWaker(func() {}),
		WithRebooter(RebooterFunc(func(target protocol.BootSel, mask uint32) error {
			f.reboots = append(f.reboots, target)
			f.masks = append(f.masks, mask)
			return nil
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go up.Run(ctx)
	return f
}

func (f *fixture) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), device.DefaultCallbackTimeout)
	f.t.Cleanup(cancel)
	return ctx
}

func (f *fixture) out(req protocol.Request, value uint16, data []byte) device.Response {
	setup := hal.VendorInterfaceRequest(false, uint8(req), value, testIface, uint16(len(data)))
	return f.handler.ControlOut(f.ctx(), &setup, data)
}

func (f *fixture) in(req protocol.Request, value uint16, length int) (device.Response, []byte) {
	setup := hal.VendorInterfaceRequest(true, uint8(req), value, testIface, uint16(length))
	buf := make([]byte, length)
	resp, n := f.handler.ControlIn(f.ctx(), &setup, buf)
	return resp, buf[:n]
}

func (f *fixture) status() protocol.SystemUpdateStatus {
	resp, data := f.in(protocol.RequestSystemUpload, 0, 1)
	require.Equal(f.t, device.Accepted, resp)
	require.Len(f.t, data, 1)
	return protocol.SystemUpdateStatus(data[0])
}

func (f *fixture) waitStatus() protocol.SystemUpdateStatus {
	var s protocol.SystemUpdateStatus
	require.Eventually(f.t, func() bool {
		s = f.status()
		return !s.Pending()
	}, time.Second, time.Millisecond)
	return s
}

func (f *fixture) upload(blob []byte) {
	for off := 0; off < len(blob); off += protocol.MaxChunk {
		end := min(off+protocol.MaxChunk, len(blob))
		require.Equal(f.t, device.Accepted, f.out(protocol.RequestSystemDNLoad, uint16(off), blob[off:end]))
		require.Equal(f.t, protocol.StatusWritten, f.waitStatus())
	}
}

func (f *fixture) menu() badge.Menu {
	var m badge.Menu
	f.badge.Do(context.Background(), func(s *badge.Session) error {
		m = s.Menu().Menu
		return nil
	})
	return m
}

func newBlob(t *testing.T, name string) []byte {
	t.Helper()
	o := roster.NewOwned(name)
	o.AddMember("Rook", "he/him")
	o.AddMember("Wren", "")
	o.AddMember("Sparrow", "she/her")
	blob, err := o.ToBytes(testRegion.Base)
	require.NoError(t, err)
	return blob
}

func TestIgnoresOtherInterfaces(t *testing.T) {
	f := newFixture(t)
	setup := hal.VendorInterfaceRequest(true, uint8(protocol.RequestGetMemberCount), 0, testIface+1, 2)
	resp, _ := f.handler.ControlIn(f.ctx(), &setup, make([]byte, 2))
	assert.Equal(t, device.Ignored, resp)

	setup = hal.SetupPacket{RequestType: hal.RequestTypeClass | hal.RequestRecipientInterface, Index: testIface}
	assert.Equal(t, device.Ignored, f.handler.ControlOut(f.ctx(), &setup, nil))
}

func TestRosterReads(t *testing.T) {
	f := newFixture(t)

	resp, data := f.in(protocol.RequestGetSystemName, 0, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "Old System", string(data))

	resp, data = f.in(protocol.RequestGetSystemName, 4, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "System", string(data))

	resp, data = f.in(protocol.RequestGetSystemName, 10, 64)
	assert.Equal(t, device.Accepted, resp)
	assert.Empty(t, data)

	resp, _ = f.in(protocol.RequestGetSystemName, 11, 64)
	assert.Equal(t, device.Rejected, resp)

	resp, data = f.in(protocol.RequestGetMemberCount, 0, 2)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data))

	resp, data = f.in(protocol.RequestGetMemberName, 0, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "Ash", string(data))

	resp, data = f.in(protocol.RequestGetMemberPronouns, 0, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "they/them", string(data))

	resp, data = f.in(protocol.RequestGetMemberPronouns, 1, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Empty(t, data)
}

func TestMemberOutOfRange(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.in(protocol.RequestGetMemberName, 999, 64)
	assert.Equal(t, device.Rejected, resp)
	resp, _ = f.in(protocol.RequestGetMemberPronouns, 2, 64)
	assert.Equal(t, device.Rejected, resp)
}

func TestUpdateDisplayCoalesces(t *testing.T) {
	f := newFixture(t)
	f.handler.wake = f.handler.drawAsync

	entered := make(chan struct{}, 8)
	unblock := make(chan struct{})
	f.fb.OnFlush(func(display.Frame) {
		entered <- struct{}{}
		<-unblock
	})

	require.Equal(t, device.Accepted, f.out(protocol.RequestUpdateDisplay, 0, nil))
	<-entered
	for range 4 {
		require.Equal(t, device.Accepted, f.out(protocol.RequestUpdateDisplay, 0, nil))
	}
	resp, data := f.in(protocol.RequestGetSystemName, 0, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "Old System", string(data))

	close(unblock)
	require.Eventually(t, func() bool { return !f.handler.drawing.Load() }, time.Second, time.Millisecond)
	// The nudges queued behind the first flush fold into one pass that
	// finds the cache current.
	assert.Equal(t, 1, f.fb.Flushes())
}

func TestMemberStringNotCut(t *testing.T) {
	long := strings.Repeat("n", 100)
	o := roster.NewOwned("Long Names")
	o.AddMember(long, long+"/"+long)
	blob, err := o.ToBytes(oldBase)
	require.NoError(t, err)
	r, err := roster.Open(blob, oldBase)
	require.NoError(t, err)

	for _, sys := range []roster.System{o, r} {
		f := newFixture(t)
		require.NoError(t, f.badge.Do(context.Background(), func(s *badge.Session) error {
			s.SetSystem(sys)
			return nil
		}))

		resp, _ := f.in(protocol.RequestGetMemberName, 0, 64)
		assert.Equal(t, device.Rejected, resp)
		resp, data := f.in(protocol.RequestGetMemberName, 0, 100)
		require.Equal(t, device.Accepted, resp)
		assert.Equal(t, long, string(data))

		resp, _ = f.in(protocol.RequestGetMemberPronouns, 0, 200)
		assert.Equal(t, device.Rejected, resp)
		resp, data = f.in(protocol.RequestGetMemberPronouns, 0, 256)
		require.Equal(t, device.Accepted, resp)
		assert.Len(t, data, 201)
	}
}

func TestButtonPressBackpressure(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, device.Accepted, f.out(protocol.RequestButtonPress, uint16(protocol.ButtonB), nil))
	assert.Equal(t, device.Rejected, f.out(protocol.RequestButtonPress, uint16(protocol.ButtonC), nil))
	assert.Equal(t, protocol.ButtonB, <-f.buttons.Presses())
	assert.Equal(t, device.Accepted, f.out(protocol.RequestButtonPress, uint16(protocol.ButtonC), nil))

	assert.Equal(t, device.Rejected, f.out(protocol.RequestButtonPress, 42, nil))
}

func TestGetSetState(t *testing.T) {
	f := newFixture(t)
	want := badge.CurrentMenu{Menu: badge.MenuMember, Members: badge.CurrentMembers{
		Cells: [badge.MaxCells]badge.MemberCell{{ID: 1}, {ID: 0}}, Len: 2,
		Cursor: badge.Cursor{Index: 1, Mode: badge.ModeEdit},
	}}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, device.Rejected, f.out(protocol.RequestSetState, 0, data[:badge.StateSize-1]))
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSetState, 0, append(data, 0)))
	assert.Equal(t, badge.MenuSystemName, f.menu())

	require.Equal(t, device.Accepted, f.out(protocol.RequestSetState, 0, data))
	resp, got := f.in(protocol.RequestGetState, 0, badge.StateSize)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, data, got)

	updating, _ := badge.CurrentMenu{Menu: badge.MenuUpdating}.MarshalBinary()
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSetState, 0, updating))
}

func TestVersion(t *testing.T) {
	f := newFixture(t)

	resp, data := f.in(protocol.RequestGetVersion, uint16(protocol.VersionJedec), 4)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, uint32(0x001540ef), binary.LittleEndian.Uint32(data))

	id, err := f.mem.UniqueID(context.Background())
	require.NoError(t, err)
	resp, data = f.in(protocol.RequestGetVersion, uint16(protocol.VersionUniqueID), 8)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, id, binary.LittleEndian.Uint64(data))

	tests := []struct {
		kind protocol.VersionType
		want string
	}{
		{protocol.VersionSemVer, "0.3.0"},
		{protocol.VersionMatrix, "rp2040-gdew029t5"},
		{protocol.VersionWeb, "sysbadge.example"},
		{protocol.VersionSerialNumber, "EB13B8D0D2792119"},
	}
	for _, tt := range tests {
		resp, data := f.in(protocol.RequestGetVersion, uint16(tt.kind), 64)
		require.Equal(t, device.Accepted, resp, tt.kind.String())
		assert.Equal(t, tt.want, string(data), tt.kind.String())
	}

	resp, _ = f.in(protocol.RequestGetVersion, 0x7f, 64)
	assert.Equal(t, device.Rejected, resp)
}

func TestReboot(t *testing.T) {
	f := newFixture(t)
	for _, target := range []protocol.BootSel{protocol.BootApplication, protocol.BootMassStorage, protocol.BootPicoBoot} {
		require.Equal(t, device.Accepted, f.out(protocol.RequestReboot, uint16(target), nil))
	}
	assert.Equal(t, []protocol.BootSel{protocol.BootApplication, protocol.BootMassStorage, protocol.BootPicoBoot}, f.reboots)
	assert.Equal(t, []uint32{0, 0x2, 0x1}, f.masks)
	assert.Equal(t, device.Rejected, f.out(protocol.RequestReboot, 9, nil))
}

func TestUpdateSequence(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, protocol.StatusNotInUpdateMode, f.status())

	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 0, nil))
	assert.Equal(t, badge.MenuUpdating, f.menu())
	assert.Equal(t, protocol.StatusReadyForUpdate, f.status())

	// Roster reads and navigation wait for the update to finish.
	resp, _ := f.in(protocol.RequestGetSystemName, 0, 64)
	assert.Equal(t, device.Rejected, resp)

	f.upload(newBlob(t, "New System"))
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemDNLoad, 0, nil))

	assert.Equal(t, badge.MenuSystemName, f.menu())
	resp, data := f.in(protocol.RequestGetSystemName, 0, 64)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, "New System", string(data))
	resp, data = f.in(protocol.RequestGetMemberCount, 0, 2)
	require.Equal(t, device.Accepted, resp)
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(data))
	assert.Equal(t, protocol.StatusNotInUpdateMode, f.status())
}

func TestUpdateWithErase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.Write(context.Background(), testRegion.Offset, []byte{0, 0, 0, 0}))

	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 1, nil))
	assert.Equal(t, protocol.StatusErasedForUpdate, f.waitStatus())

	f.upload(newBlob(t, "Erased First"))
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemDNLoad, 0, nil))
	_, data := f.in(protocol.RequestGetSystemName, 0, 64)
	assert.Equal(t, "Erased First", string(data))
}

func TestCorruptFinalizeKeepsOldRoster(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 0, nil))

	blob := newBlob(t, "Broken")
	blob[0] ^= 0xff
	f.upload(blob)
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemDNLoad, 0, nil))

	assert.Equal(t, badge.MenuUpdating, f.menu())
	f.badge.Do(context.Background(), func(s *badge.Session) error {
		assert.Same(t, f.old, s.System())
		return nil
	})

	// A fresh sequence recovers.
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 1, nil))
	require.Equal(t, protocol.StatusErasedForUpdate, f.waitStatus())
	f.upload(newBlob(t, "Recovered"))
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemDNLoad, 0, nil))
	_, data := f.in(protocol.RequestGetSystemName, 0, 64)
	assert.Equal(t, "Recovered", string(data))
}

func TestDownloadRejections(t *testing.T) {
	f := newFixture(t)
	chunk := []byte{1, 2, 3, 4}

	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemDNLoad, 0, chunk), "not updating")
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemDNLoad, 0, nil), "finalize while not updating")

	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 0, nil))
	tests := []struct {
		name   string
		offset uint16
		data   []byte
	}{
		{"oversize", 0, make([]byte, protocol.MaxChunk+4)},
		{"misaligned offset", 2, chunk},
		{"misaligned length", 0, chunk[:3]},
		{"outside region", uint16(testRegion.Size), chunk},
	}
	for _, tt := range tests {
		assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemDNLoad, tt.offset, tt.data), tt.name)
	}
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemUpload, 2, nil), "bad erase flag")
}

func TestUploadRejectedWhileBusy(t *testing.T) {
	f := newFixture(t, flash.WithLatency(50*time.Millisecond))

	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 1, nil))
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemUpload, 1, nil))
	assert.Equal(t, protocol.StatusErasing, f.status())
	assert.Equal(t, device.Rejected, f.out(protocol.RequestSystemDNLoad, 0, nil), "finalize while erasing")
	assert.Equal(t, protocol.StatusErasedForUpdate, f.waitStatus())
}

func TestFlashFailureRequiresRestart(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 0, nil))

	f.mem.FailWrite(assert.AnError)
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemDNLoad, 0, []byte{1, 2, 3, 4}))
	assert.Equal(t, protocol.StatusWriteError, f.waitStatus())

	f.mem.FailWrite(nil)
	require.Equal(t, device.Accepted, f.out(protocol.RequestSystemUpload, 1, nil))
	assert.Equal(t, protocol.StatusErasedForUpdate, f.waitStatus())
}
