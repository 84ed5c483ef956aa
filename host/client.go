package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

// Polling defaults for WaitStatus.
const (
	DefaultPollInterval    = time.Millisecond
	DefaultMaxPollInterval = 50 * time.Millisecond
)

// maxString is the largest member string requested in one transfer, the
// badge's whole control buffer. The badge stalls rather than cut a longer
// string.
const maxString = 256

// Progress is called after each uploaded chunk with the bytes written so far.
type Progress func(written, total int)

// Client talks to one badge.
type Client struct {
	t          Transport
	poll       time.Duration
	maxPoll    time.Duration
	onProgress Progress
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval sets the first status poll delay.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.poll = d }
}

// WithMaxPollInterval caps the status poll delay, which doubles after every
// pending poll.
func WithMaxPollInterval(d time.Duration) Option {
	return func(c *Client) { c.maxPoll = d }
}

// WithProgress sets an upload progress callback.
func WithProgress(fn Progress) Option {
	return func(c *Client) { c.onProgress = fn }
}

// New returns a client over t.
func New(t Transport, opts ...Option) *Client {
	c := &Client{t: t, poll: DefaultPollInterval, maxPoll: DefaultMaxPollInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) in(ctx context.Context, req protocol.Request, value uint16, buf []byte) ([]byte, error) {
	n, err := c.t.ControlIn(ctx, req, value, buf)
	if err != nil {
		return nil, fmt.Errorf("%v(%d): %w", req, value, err)
	}
	return buf[:n], nil
}

func (c *Client) out(ctx context.Context, req protocol.Request, value uint16, data []byte) error {
	if err := c.t.ControlOut(ctx, req, value, data); err != nil {
		return fmt.Errorf("%v(%d): %w", req, value, err)
	}
	return nil
}

// PressButton injects a button press. A full button queue fails with a
// stall; the press can be retried.
func (c *Client) PressButton(ctx context.Context, b protocol.Button) error {
	return c.out(ctx, protocol.RequestButtonPress, uint16(b), nil)
}

// SystemName reads the roster name in chunks until a short read.
func (c *Client) SystemName(ctx context.Context) (string, error) {
	var (
		name  []byte
		chunk [protocol.MaxChunk]byte
	)
	for {
		data, err := c.in(ctx, protocol.RequestGetSystemName, uint16(len(name)), chunk[:])
		if err != nil {
			return "", err
		}
		name = append(name, data...)
		if len(data) < len(chunk) {
			return string(name), nil
		}
		if len(name) > 0xffff {
			return "", fmt.Errorf("name longer than %d bytes: %w", 0xffff, pkg.ErrTooLarge)
		}
	}
}

// MemberCount reads the number of members.
func (c *Client) MemberCount(ctx context.Context) (int, error) {
	var buf [2]byte
	data, err := c.in(ctx, protocol.RequestGetMemberCount, 0, buf[:])
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("member count is %d bytes: %w", len(data), pkg.ErrProtocolMismatch)
	}
	return int(binary.LittleEndian.Uint16(data)), nil
}

// MemberName reads member i's name.
func (c *Client) MemberName(ctx context.Context, i int) (string, error) {
	return c.memberString(ctx, protocol.RequestGetMemberName, i)
}

// MemberPronouns reads member i's pronouns.
func (c *Client) MemberPronouns(ctx context.Context, i int) (string, error) {
	return c.memberString(ctx, protocol.RequestGetMemberPronouns, i)
}

func (c *Client) memberString(ctx context.Context, req protocol.Request, i int) (string, error) {
	if i < 0 || i > 0xffff {
		return "", fmt.Errorf("member %d: %w", i, pkg.ErrIndexOutOfRange)
	}
	var buf [maxString]byte
	data, err := c.in(ctx, req, uint16(i), buf[:])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Members reads the whole member list.
func (c *Client) Members(ctx context.Context) ([]roster.Member, error) {
	n, err := c.MemberCount(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]roster.Member, n)
	for i := range members {
		if members[i].Name, err = c.MemberName(ctx, i); err != nil {
			return nil, err
		}
		if members[i].Pronouns, err = c.MemberPronouns(ctx, i); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// System reads the roster into an editable copy.
func (c *Client) System(ctx context.Context) (*roster.Owned, error) {
	name, err := c.SystemName(ctx)
	if err != nil {
		return nil, err
	}
	members, err := c.Members(ctx)
	if err != nil {
		return nil, err
	}
	o := roster.NewOwned(name)
	for _, m := range members {
		o.AddMember(m.Name, m.Pronouns)
	}
	return o, nil
}

// State reads the current menu.
func (c *Client) State(ctx context.Context) (badge.CurrentMenu, error) {
	var (
		buf [badge.StateSize]byte
		m   badge.CurrentMenu
	)
	data, err := c.in(ctx, protocol.RequestGetState, 0, buf[:])
	if err != nil {
		return m, err
	}
	err = m.UnmarshalBinary(data)
	return m, err
}

// SetState replaces the current menu. The screen changes on the next
// UpdateDisplay.
func (c *Client) SetState(ctx context.Context, m badge.CurrentMenu) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return c.out(ctx, protocol.RequestSetState, 0, data)
}

// UpdateDisplay asks the badge to repaint if its menu changed.
func (c *Client) UpdateDisplay(ctx context.Context) error {
	return c.out(ctx, protocol.RequestUpdateDisplay, 0, nil)
}

// Version reads a version string: serial, semver, matrix or web.
func (c *Client) Version(ctx context.Context, kind protocol.VersionType) (string, error) {
	var buf [maxString]byte
	data, err := c.in(ctx, protocol.RequestGetVersion, uint16(kind), buf[:])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JEDECID reads the flash JEDEC id.
func (c *Client) JEDECID(ctx context.Context) (uint32, error) {
	var buf [4]byte
	data, err := c.in(ctx, protocol.RequestGetVersion, uint16(protocol.VersionJedec), buf[:])
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("jedec id is %d bytes: %w", len(data), pkg.ErrProtocolMismatch)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// UniqueID reads the flash unique id.
func (c *Client) UniqueID(ctx context.Context) (uint64, error) {
	var buf [8]byte
	data, err := c.in(ctx, protocol.RequestGetVersion, uint16(protocol.VersionUniqueID), buf[:])
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("unique id is %d bytes: %w", len(data), pkg.ErrProtocolMismatch)
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Reboot restarts the badge into target.
func (c *Client) Reboot(ctx context.Context, target protocol.BootSel) error {
	return c.out(ctx, protocol.RequestReboot, uint16(target), nil)
}
