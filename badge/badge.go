package badge

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

// Badge is the device UI: the active roster, the current menu and the redraw
// cache. The roster and menu sit behind a state lock taken through Do or
// TryDo; the panel has its own lock. When both are held the panel lock is
// taken first, and the state lock is dropped before the flush.
type Badge struct {
	state chan struct{}
	sys   roster.System
	menu  CurrentMenu

	panelLock chan struct{}
	panel     display.Panel
	renderer  *Renderer
	lastHash  uint16
	drawn     bool
	stale     atomic.Bool

	info Info
}

// New returns a badge showing sys on panel. A nil sys starts on the invalid
// system screen.
func New(panel display.Panel, sys roster.System, info Info) (*Badge, error) {
	r, err := NewRenderer(info)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}
	b := &Badge{
		state:     make(chan struct{}, 1),
		panelLock: make(chan struct{}, 1),
		panel:     panel,
		renderer:  r,
		info:      info,
	}
	b.setSystem(sys)
	return b, nil
}

// Info returns the static device text.
func (b *Badge) Info() Info { return b.info }

// Session is the state held under the badge's state lock. It must not be
// retained after the callback returns.
type Session struct {
	b *Badge
}

// System returns the active roster, nil when there is none.
func (s *Session) System() roster.System { return s.b.sys }

// MemberCount returns the size of the active roster.
func (s *Session) MemberCount() int {
	if s.b.sys == nil {
		return 0
	}
	return s.b.sys.MemberCount()
}

// SetSystem swaps the active roster and returns to its name screen, or to
// the invalid system screen when sys is nil.
func (s *Session) SetSystem(sys roster.System) { s.b.setSystem(sys) }

// Menu returns the current menu.
func (s *Session) Menu() CurrentMenu { return s.b.menu }

// SetMenu replaces the current menu.
func (s *Session) SetMenu(m CurrentMenu) {
	if m.Menu != MenuMember {
		m.Members = CurrentMembers{}
	}
	s.b.menu = m
}

// Press applies a button and reports whether the menu changed.
func (s *Session) Press(btn protocol.Button) bool {
	changed := s.b.menu.OnButton(btn, s.MemberCount())
	pkg.LogDebug(pkg.ComponentBadge, "button pressed",
		"button", btn.String(), "menu", s.b.menu.Menu.String(), "changed", changed)
	return changed
}

func (b *Badge) setSystem(sys roster.System) {
	b.sys = sys
	if sys == nil {
		b.menu = CurrentMenu{Menu: MenuInvalidSystem}
		return
	}
	b.menu = CurrentMenu{Menu: MenuSystemName}
}

func (b *Badge) acquire(ctx context.Context) error {
	select {
	case b.state <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("badge state: %w", pkg.ErrBusy)
	}
}

func (b *Badge) release() { <-b.state }

// Do runs fn holding the state lock, waiting for it until ctx is done.
func (b *Badge) Do(ctx context.Context, fn func(*Session) error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()
	return fn(&Session{b: b})
}

// TryDo runs fn holding the state lock, or fails with pkg.ErrBusy when the
// lock is taken.
func (b *Badge) TryDo(fn func(*Session) error) error {
	select {
	case b.state <- struct{}{}:
	default:
		return fmt.Errorf("badge state: %w", pkg.ErrBusy)
	}
	defer b.release()
	return fn(&Session{b: b})
}

// Press applies a button under the state lock.
func (b *Badge) Press(ctx context.Context, btn protocol.Button) (changed bool, err error) {
	err = b.Do(ctx, func(s *Session) error {
		changed = s.Press(btn)
		return nil
	})
	return changed, err
}

// Draw repaints and flushes the panel if the menu changed since the last
// successful draw. It reports whether the panel was flushed.
func (b *Badge) Draw(ctx context.Context) (bool, error) {
	return b.draw(ctx, false)
}

// ForceDraw repaints and flushes unconditionally and refreshes the cache.
func (b *Badge) ForceDraw(ctx context.Context) error {
	_, err := b.draw(ctx, true)
	return err
}

// Invalidate makes the next Draw repaint. It never waits on a flush.
func (b *Badge) Invalidate() {
	b.stale.Store(true)
}

func (b *Badge) draw(ctx context.Context, force bool) (bool, error) {
	select {
	case b.panelLock <- struct{}{}:
	case <-ctx.Done():
		return false, fmt.Errorf("badge panel: %w", pkg.ErrBusy)
	}
	defer func() { <-b.panelLock }()

	if err := b.acquire(ctx); err != nil {
		return false, err
	}
	hash := Hash(b.menu)
	stale := b.stale.Swap(false)
	if !force && !stale && b.drawn && hash == b.lastHash {
		b.release()
		return false, nil
	}
	b.renderer.Render(b.panel, b.menu, b.sys)
	menu := b.menu.Menu
	b.release()

	if err := b.panel.Update(ctx); err != nil {
		b.drawn = false
		pkg.LogWarn(pkg.ComponentBadge, "panel update failed", "error", err)
		return false, fmt.Errorf("panel update: %w", err)
	}
	b.lastHash = hash
	b.drawn = true
	pkg.LogDebug(pkg.ComponentBadge, "panel drawn", "menu", menu.String(), "hash", hash, "forced", force)
	return true, nil
}
