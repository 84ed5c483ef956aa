package badge

import (
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// MaxCells is the number of member cells a screen can split into.
const MaxCells = 4

// Menu is the active screen.
type Menu uint8

// Screens.
const (
	MenuSystemName Menu = iota
	MenuVersion
	MenuMember
	MenuInvalidSystem
	MenuUpdating
	numMenus
)

func (m Menu) String() string {
	switch m {
	case MenuSystemName:
		return "system-name"
	case MenuVersion:
		return "version"
	case MenuMember:
		return "member"
	case MenuInvalidSystem:
		return "invalid-system"
	case MenuUpdating:
		return "updating"
	default:
		return fmt.Sprintf("Menu(%d)", uint8(m))
	}
}

// Mode is the selection state of the cursor cell.
type Mode uint8

// Cursor modes. The outline stroke of a cell grows with its mode.
const (
	ModeNone Mode = iota
	ModeSelect
	ModeEdit
	numModes
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSelect:
		return "select"
	case ModeEdit:
		return "edit"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// StrokeWidth is the outline width of a cell in mode m.
func (m Mode) StrokeWidth() int {
	switch m {
	case ModeSelect:
		return 2
	case ModeEdit:
		return 4
	default:
		return 1
	}
}

// MemberCell shows one roster member, by index.
type MemberCell struct {
	ID uint16
}

// Cursor points at a cell.
type Cursor struct {
	Index uint8
	Mode  Mode
}

// CurrentMembers is the member screen: 1 to 4 cells and a cursor.
type CurrentMembers struct {
	Cells  [MaxCells]MemberCell
	Len    uint8
	Cursor Cursor
}

// DefaultMembers is one cell showing member 0, selected.
func DefaultMembers() CurrentMembers {
	return CurrentMembers{Len: 1, Cursor: Cursor{Index: 0, Mode: ModeSelect}}
}

// ModeFor returns the mode cell i is drawn in.
func (c *CurrentMembers) ModeFor(i uint8) Mode {
	if c.Cursor.Index == i {
		return c.Cursor.Mode
	}
	return ModeNone
}

// OnButton applies b to the member screen. memberCount is the size of the
// active roster. It reports whether the state changed.
func (c *CurrentMembers) OnButton(b protocol.Button, memberCount int) bool {
	pkg.Assert(c.Len >= 1 && c.Len <= MaxCells, "member cell count out of range", "len", c.Len)
	before := *c

	switch {
	case (b == protocol.ButtonUp || b == protocol.ButtonDown) && c.Cursor.Mode == ModeNone:
		c.Cursor.Mode = ModeSelect
		if b == protocol.ButtonUp {
			c.Cursor.Index = 0
		} else {
			c.Cursor.Index = c.Len - 1
		}

	case (b == protocol.ButtonUp || b == protocol.ButtonDown) && c.Cursor.Mode == ModeSelect:
		if b == protocol.ButtonUp {
			c.Cursor.Index = decWrapping(c.Cursor.Index, c.Len-1)
		} else {
			c.Cursor.Index = incWrapping(c.Cursor.Index, c.Len-1)
		}

	case (b == protocol.ButtonUp || b == protocol.ButtonDown) && c.Cursor.Mode == ModeEdit:
		if memberCount <= 0 {
			break
		}
		last := uint16(min(memberCount, 0x10000) - 1)
		cell := &c.Cells[c.Cursor.Index]
		if b == protocol.ButtonUp {
			cell.ID = incWrapping(cell.ID, last)
		} else {
			cell.ID = decWrapping(cell.ID, last)
		}

	case b == protocol.ButtonC && c.Cursor.Mode == ModeEdit:
		if c.Len == 1 {
			// Leaving the member screen is the caller's transition.
			break
		}
		c.Len--
		if c.Cursor.Index != c.Len {
			c.Cells[c.Cursor.Index] = c.Cells[c.Len]
		}
		c.Cells[c.Len] = MemberCell{}
		c.Cursor.Index = min(c.Cursor.Index, c.Len-1)
		c.Cursor.Mode = ModeNone

	case b == protocol.ButtonC:
		// The new cell keeps whatever id its slot last held.
		c.Cursor.Mode = ModeNone
		if c.Len < MaxCells {
			c.Len++
		}

	case b == protocol.ButtonB:
		if c.Cursor.Mode == ModeSelect {
			c.Cursor.Mode = ModeEdit
		} else {
			c.Cursor.Mode = ModeSelect
		}

	default:
		pkg.LogDebug(pkg.ComponentBadge, "unhandled member button", "button", b.String(), "mode", c.Cursor.Mode.String())
	}
	return *c != before
}

// CurrentMenu is the complete UI state. Members is meaningful only on
// MenuMember.
type CurrentMenu struct {
	Menu    Menu
	Members CurrentMembers
}

// OnButton applies b to the menu. memberCount is the size of the active
// roster. It reports whether the state changed.
func (m *CurrentMenu) OnButton(b protocol.Button, memberCount int) bool {
	switch {
	case m.Menu == MenuSystemName && b == protocol.ButtonB:
		m.Menu = MenuVersion
	case m.Menu == MenuVersion && b == protocol.ButtonB:
		m.Menu = MenuSystemName
	case m.Menu == MenuSystemName && b == protocol.ButtonC:
		if memberCount <= 0 {
			pkg.LogDebug(pkg.ComponentBadge, "no members to show")
			return false
		}
		m.Menu = MenuMember
		m.Members = DefaultMembers()
	case m.Menu == MenuMember && b == protocol.ButtonC && m.Members.Len == 1 && m.Members.Cursor.Mode == ModeEdit:
		m.Menu = MenuSystemName
		m.Members = CurrentMembers{}
	case m.Menu == MenuMember:
		return m.Members.OnButton(b, memberCount)
	case m.Menu == MenuInvalidSystem, m.Menu == MenuUpdating:
		return false
	default:
		pkg.LogDebug(pkg.ComponentBadge, "unhandled button", "button", b.String(), "menu", m.Menu.String())
		return false
	}
	return true
}

func incWrapping[T uint8 | uint16](cur, last T) T {
	if cur >= last {
		return 0
	}
	return cur + 1
}

func decWrapping[T uint8 | uint16](cur, last T) T {
	if cur == 0 || cur > last {
		return last
	}
	return cur - 1
}
