package badge

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

// StateSize is the length of a serialized CurrentMenu.
//
//	0      menu
//	1      cell count
//	2      cursor index
//	3      cursor mode
//	4..12  cell ids, u16 little endian
const StateSize = 4 + 2*MaxCells

// AppendBinary appends the fixed-size encoding of m to b.
func (m CurrentMenu) AppendBinary(b []byte) ([]byte, error) {
	var buf [StateSize]byte
	m.marshalTo(buf[:])
	return append(b, buf[:]...), nil
}

// MarshalBinary returns the fixed-size encoding of m.
func (m CurrentMenu) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, StateSize))
}

func (m *CurrentMenu) marshalTo(buf []byte) {
	buf[0] = uint8(m.Menu)
	buf[1] = m.Members.Len
	buf[2] = m.Members.Cursor.Index
	buf[3] = uint8(m.Members.Cursor.Mode)
	for i, cell := range m.Members.Cells {
		binary.LittleEndian.PutUint16(buf[4+2*i:], cell.ID)
	}
}

// UnmarshalBinary decodes a state produced by MarshalBinary, possibly by a
// different firmware build. Anything that does not describe a reachable
// state fails with pkg.ErrProtocolMismatch and leaves m untouched.
func (m *CurrentMenu) UnmarshalBinary(data []byte) error {
	if len(data) != StateSize {
		return fmt.Errorf("state is %d bytes, want %d: %w", len(data), StateSize, pkg.ErrProtocolMismatch)
	}
	var out CurrentMenu
	out.Menu = Menu(data[0])
	if out.Menu >= numMenus {
		return fmt.Errorf("menu tag %d: %w", data[0], pkg.ErrProtocolMismatch)
	}
	if out.Menu != MenuMember {
		*m = out
		return nil
	}

	c := &out.Members
	c.Len = data[1]
	c.Cursor = Cursor{Index: data[2], Mode: Mode(data[3])}
	switch {
	case c.Len < 1 || c.Len > MaxCells:
		return fmt.Errorf("cell count %d: %w", c.Len, pkg.ErrProtocolMismatch)
	case c.Cursor.Index >= c.Len:
		return fmt.Errorf("cursor %d of %d cells: %w", c.Cursor.Index, c.Len, pkg.ErrProtocolMismatch)
	case c.Cursor.Mode >= numModes:
		return fmt.Errorf("cursor mode %d: %w", data[3], pkg.ErrProtocolMismatch)
	}
	for i := range c.Cells {
		c.Cells[i].ID = binary.LittleEndian.Uint16(data[4+2*i:])
	}
	*m = out
	return nil
}

// Hash is the redraw cache key of m: the roster checksum of its encoding.
func Hash(m CurrentMenu) uint16 {
	var buf [StateSize]byte
	m.marshalTo(buf[:])
	return roster.Checksum(buf[:])
}
