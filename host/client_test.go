package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/device/class/sysbadge"
	"github.com/ardnew/sysbadge/device/hal/loopback"
	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/flash"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

var testRegion = flash.Region{Base: 0x10001000, Offset: 0x1000, Size: 0x2000}

type rig struct {
	client *Client
	pipe   *loopback.Host
	mem    *flash.Memory
	fb     *display.Framebuffer
	badge  *badge.Badge
}

// newRig boots the firmware core with sys written to its roster region and
// connects a client to it over the loopback link.
func newRig(t *testing.T, sys *roster.Owned, opts ...Option) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := flash.NewMemory(flash.Geometry{Size: 0x4000, SectorSize: 0x1000, PageSize: 256})
	guard := flash.NewGuard(mem)

	var active roster.System
	if sys != nil {
		blob, err := sys.ToBytes(testRegion.Base)
		require.NoError(t, err)
		require.NoError(t, mem.Write(ctx, testRegion.Offset, blob))
		view, err := guard.Map(testRegion)
		require.NoError(t, err)
		r, err := roster.Open(view, testRegion.Base)
		require.NoError(t, err)
		active = r
	}

	fb := display.NewFramebuffer(display.DefaultWidth, display.DefaultHeight)
	b, err := badge.New(fb, active, badge.Info{Version: "0.3.0", Serial: "SIM0001"})
	require.NoError(t, err)
	buttons := badge.NewButtons()
	runner := badge.NewRunner(b, buttons, badge.WithDebounce(5*time.Millisecond))
	up := flash.NewUpdater(guard, testRegion)

	dev, h := loopback.New(1)
	ctl := device.NewControl(dev)
	ctl.Register(device.NewStandard(device.Identity{
		Manufacturer: "Kestrel Works",
		Product:      "sysbadge",
		Serial:       "SIM0001",
		Interface:    1,
		Release:      0x0003,
	}))
	ctl.Register(sysbadge.New(b, buttons, guard, up, sysbadge.WithInterface(1), sysbadge.WithWaker(runner.Wake)))

	go runner.Run(ctx)
	go up.Run(ctx)
	go ctl.Run(ctx)

	return &rig{client: New(h, opts...), pipe: h, mem: mem, fb: fb, badge: b}
}

func sample() *roster.Owned {
	o := roster.NewOwned("Kestrel Collective")
	o.AddMember("Rook", "he/him")
	o.AddMember("Wren", "")
	return o
}

func TestReadRoster(t *testing.T) {
	r := newRig(t, sample())
	ctx := context.Background()

	name, err := r.client.SystemName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Kestrel Collective", name)

	members, err := r.client.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample().Members(), members)

	sys, err := r.client.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample().Members(), sys.Members())

	_, err = r.client.MemberName(ctx, 999)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestLongSystemName(t *testing.T) {
	// Exactly two chunks, so the end is seen by an empty read.
	long := make([]byte, 2*protocol.MaxChunk)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}
	r := newRig(t, roster.NewOwned(string(long)))

	name, err := r.client.SystemName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(long), name)
}

func TestVersionQueries(t *testing.T) {
	r := newRig(t, sample())
	ctx := context.Background()

	v, err := r.client.Version(ctx, protocol.VersionSemVer)
	require.NoError(t, err)
	assert.Equal(t, "0.3.0", v)

	serial, err := r.client.Version(ctx, protocol.VersionSerialNumber)
	require.NoError(t, err)
	assert.Equal(t, "SIM0001", serial)

	jedec, err := r.client.JEDECID(ctx)
	require.NoError(t, err)
	assert.Equal(t, flash.DefaultJEDECID, jedec)

	want, _ := r.mem.UniqueID(ctx)
	id, err := r.client.UniqueID(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, id)

	require.NoError(t, r.client.Reboot(ctx, protocol.BootApplication))
}

func TestButtonsAndState(t *testing.T) {
	r := newRig(t, sample())
	ctx := context.Background()

	press := func(b protocol.Button) {
		require.Eventually(t, func() bool {
			return r.client.PressButton(ctx, b) == nil
		}, time.Second, time.Millisecond)
	}
	press(protocol.ButtonC)
	require.Eventually(t, func() bool {
		m, err := r.client.State(ctx)
		return err == nil && m.Menu == badge.MenuMember
	}, time.Second, time.Millisecond)

	want := badge.CurrentMenu{Menu: badge.MenuMember, Members: badge.CurrentMembers{
		Cells: [badge.MaxCells]badge.MemberCell{{ID: 1}, {ID: 0}}, Len: 2,
		Cursor: badge.Cursor{Index: 0, Mode: badge.ModeSelect},
	}}
	require.NoError(t, r.client.SetState(ctx, want))
	got, err := r.client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	flushes := r.fb.Flushes()
	require.NoError(t, r.client.UpdateDisplay(ctx))
	assert.Eventually(t, func() bool { return r.fb.Flushes() > flushes }, time.Second, time.Millisecond)
}

func TestUploadSystem(t *testing.T) {
	var progress []int
	r := newRig(t, sample(), WithProgress(func(n, total int) { progress = append(progress, n) }))
	ctx := context.Background()

	next := roster.NewOwned("Heron House")
	next.AddMember("Egret", "she/her")
	next.AddMember("Bittern", "they/them")
	next.AddMember("Crane", "")
	blob, err := next.ToBytes(testRegion.Base)
	require.NoError(t, err)

	require.NoError(t, r.client.UploadSystem(ctx, blob, true))
	require.NotEmpty(t, progress)
	assert.Equal(t, len(blob), progress[len(progress)-1])

	name, err := r.client.SystemName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Heron House", name)
	count, err := r.client.MemberCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	s, err := r.client.UpdateStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusNotInUpdateMode, s)
}

func TestUploadOntoInvalidBadge(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	_, err := r.client.SystemName(ctx)
	require.ErrorIs(t, err, pkg.ErrStall)

	blob, err := sample().ToBytes(testRegion.Base)
	require.NoError(t, err)
	require.NoError(t, r.client.UploadSystem(ctx, blob, false))

	name, err := r.client.SystemName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Kestrel Collective", name)
}

func TestUploadCorruptRoster(t *testing.T) {
	r := newRig(t, sample())
	ctx := context.Background()

	blob, err := sample().ToBytes(testRegion.Base)
	require.NoError(t, err)
	blob[roster.HeaderSize-1] ^= 0x01 // checksum

	err = r.client.UploadSystem(ctx, blob, true)
	require.ErrorIs(t, err, pkg.ErrStall)

	m, err := r.client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, badge.MenuUpdating, m.Menu)

	blob[roster.HeaderSize-1] ^= 0x01
	require.NoError(t, r.client.UploadSystem(ctx, blob, true))
	m, err = r.client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, badge.MenuSystemName, m.Menu)
}

func TestUploadRejectsUnalignedBlob(t *testing.T) {
	c := New(nil)
	err := c.UploadSystem(context.Background(), []byte{1, 2, 3}, false)
	assert.ErrorIs(t, err, pkg.ErrFlashAlignment)
	err = c.WriteChunk(context.Background(), 0, make([]byte, protocol.MaxChunk+1))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

// failingTransport reports a write error on every status poll.
type failingTransport struct{}

func (failingTransport) ControlIn(_ context.Context, req protocol.Request, _ uint16, buf []byte) (int, error) {
	buf[0] = uint8(protocol.StatusWriteError)
	return 1, nil
}

func (failingTransport) ControlOut(context.Context, protocol.Request, uint16, []byte) error {
	return nil
}

func TestWaitStatusReportsFailure(t *testing.T) {
	c := New(failingTransport{})
	s, err := c.WaitStatus(context.Background())
	assert.Equal(t, protocol.StatusWriteError, s)
	assert.ErrorIs(t, err, pkg.ErrFlash)
}

// pendingTransport reports Writing a fixed number of times.
type pendingTransport struct {
	polls, pending int
}

func (p *pendingTransport) ControlIn(_ context.Context, _ protocol.Request, _ uint16, buf []byte) (int, error) {
	p.polls++
	buf[0] = uint8(protocol.StatusWritten)
	if p.polls <= p.pending {
		buf[0] = uint8(protocol.StatusWriting)
	}
	return 1, nil
}

func (p *pendingTransport) ControlOut(context.Context, protocol.Request, uint16, []byte) error {
	return nil
}

func TestWaitStatusBacksOff(t *testing.T) {
	p := &pendingTransport{pending: 4}
	c := New(p, WithPollInterval(time.Microsecond), WithMaxPollInterval(2*time.Microsecond))
	s, err := c.WaitStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusWritten, s)
	assert.Equal(t, 5, p.polls)

	p = &pendingTransport{pending: 1 << 30}
	c = New(p, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.WaitStatus(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
