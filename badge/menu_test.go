package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

func press(m *CurrentMenu, memberCount int, buttons ...protocol.Button) {
	for _, b := range buttons {
		m.OnButton(b, memberCount)
	}
}

func TestSystemNameVersionToggle(t *testing.T) {
	m := CurrentMenu{Menu: MenuSystemName}
	assert.True(t, m.OnButton(protocol.ButtonB, 2))
	assert.Equal(t, MenuVersion, m.Menu)
	assert.True(t, m.OnButton(protocol.ButtonB, 2))
	assert.Equal(t, MenuSystemName, m.Menu)
}

func TestEnterMemberScreen(t *testing.T) {
	m := CurrentMenu{Menu: MenuSystemName}
	require.True(t, m.OnButton(protocol.ButtonC, 3))
	assert.Equal(t, MenuMember, m.Menu)
	assert.Equal(t, uint8(1), m.Members.Len)
	assert.Equal(t, Cursor{Index: 0, Mode: ModeSelect}, m.Members.Cursor)
	assert.Equal(t, DefaultMembers(), m.Members)
}

func TestEnterMemberScreenEmptyRoster(t *testing.T) {
	m := CurrentMenu{Menu: MenuSystemName}
	assert.False(t, m.OnButton(protocol.ButtonC, 0))
	assert.Equal(t, MenuSystemName, m.Menu)
}

func TestLeaveMemberScreen(t *testing.T) {
	m := CurrentMenu{Menu: MenuSystemName}
	press(&m, 3, protocol.ButtonC, protocol.ButtonB)
	require.Equal(t, ModeEdit, m.Members.Cursor.Mode)

	assert.True(t, m.OnButton(protocol.ButtonC, 3))
	assert.Equal(t, CurrentMenu{Menu: MenuSystemName}, m)
}

func TestAbsorbingMenus(t *testing.T) {
	all := []protocol.Button{
		protocol.ButtonA, protocol.ButtonB, protocol.ButtonC, protocol.ButtonD,
		protocol.ButtonUp, protocol.ButtonDown, protocol.ButtonUser,
	}
	for _, menu := range []Menu{MenuInvalidSystem, MenuUpdating} {
		t.Run(menu.String(), func(t *testing.T) {
			m := CurrentMenu{Menu: menu}
			for _, b := range all {
				assert.False(t, m.OnButton(b, 5))
			}
			assert.Equal(t, CurrentMenu{Menu: menu}, m)
		})
	}
}

func TestUnhandledButtons(t *testing.T) {
	tests := []struct {
		name string
		menu CurrentMenu
		b    protocol.Button
	}{
		{"A on name", CurrentMenu{Menu: MenuSystemName}, protocol.ButtonA},
		{"Up on name", CurrentMenu{Menu: MenuSystemName}, protocol.ButtonUp},
		{"C on version", CurrentMenu{Menu: MenuVersion}, protocol.ButtonC},
		{"D on members", CurrentMenu{Menu: MenuMember, Members: DefaultMembers()}, protocol.ButtonD},
		{"USER on members", CurrentMenu{Menu: MenuMember, Members: DefaultMembers()}, protocol.ButtonUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.menu
			assert.False(t, m.OnButton(tt.b, 3))
			assert.Equal(t, tt.menu, m)
		})
	}
}

func TestCursorFromNone(t *testing.T) {
	c := CurrentMembers{Len: 3, Cursor: Cursor{Index: 1, Mode: ModeNone}}
	c.OnButton(protocol.ButtonUp, 5)
	assert.Equal(t, Cursor{Index: 0, Mode: ModeSelect}, c.Cursor)

	c.Cursor = Cursor{Index: 1, Mode: ModeNone}
	c.OnButton(protocol.ButtonDown, 5)
	assert.Equal(t, Cursor{Index: 2, Mode: ModeSelect}, c.Cursor)
}

func TestCursorWraparound(t *testing.T) {
	c := CurrentMembers{Len: 3, Cursor: Cursor{Index: 0, Mode: ModeSelect}}
	c.OnButton(protocol.ButtonUp, 5)
	assert.Equal(t, uint8(2), c.Cursor.Index)
	c.OnButton(protocol.ButtonDown, 5)
	assert.Equal(t, uint8(0), c.Cursor.Index)
	c.OnButton(protocol.ButtonDown, 5)
	assert.Equal(t, uint8(1), c.Cursor.Index)
}

func TestEditCyclesMembers(t *testing.T) {
	c := CurrentMembers{Len: 1, Cursor: Cursor{Index: 0, Mode: ModeEdit}}
	var seen []uint16
	for range 5 {
		c.OnButton(protocol.ButtonUp, 5)
		seen = append(seen, c.Cells[0].ID)
	}
	assert.Equal(t, []uint16{1, 2, 3, 4, 0}, seen)

	c.OnButton(protocol.ButtonDown, 5)
	assert.Equal(t, uint16(4), c.Cells[0].ID)
}

func TestEditWithoutMembers(t *testing.T) {
	c := CurrentMembers{Len: 1, Cursor: Cursor{Index: 0, Mode: ModeEdit}}
	assert.False(t, c.OnButton(protocol.ButtonUp, 0))
	assert.False(t, c.OnButton(protocol.ButtonDown, 0))
	assert.Equal(t, uint16(0), c.Cells[0].ID)
}

func TestRemoveCell(t *testing.T) {
	c := CurrentMembers{
		Cells:  [MaxCells]MemberCell{{ID: 10}, {ID: 11}, {ID: 12}},
		Len:    3,
		Cursor: Cursor{Index: 1, Mode: ModeEdit},
	}
	require.True(t, c.OnButton(protocol.ButtonC, 20))
	assert.Equal(t, uint8(2), c.Len)
	assert.Equal(t, uint16(12), c.Cells[1].ID)
	assert.Equal(t, ModeNone, c.Cursor.Mode)
	assert.Equal(t, uint8(1), c.Cursor.Index)
}

func TestRemoveLastCell(t *testing.T) {
	c := CurrentMembers{
		Cells:  [MaxCells]MemberCell{{ID: 10}, {ID: 11}, {ID: 12}},
		Len:    3,
		Cursor: Cursor{Index: 2, Mode: ModeEdit},
	}
	require.True(t, c.OnButton(protocol.ButtonC, 20))
	assert.Equal(t, uint8(2), c.Len)
	assert.Equal(t, []MemberCell{{ID: 10}, {ID: 11}}, c.Cells[:c.Len])
	assert.Equal(t, Cursor{Index: 1, Mode: ModeNone}, c.Cursor, "cursor stays on a live cell")
}

func TestGrowCell(t *testing.T) {
	c := DefaultMembers()
	for want := uint8(2); want <= MaxCells; want++ {
		c.OnButton(protocol.ButtonC, 5)
		assert.Equal(t, want, c.Len)
		assert.Equal(t, ModeNone, c.Cursor.Mode)
	}
	assert.False(t, c.OnButton(protocol.ButtonC, 5), "growth is capped")
	assert.Equal(t, uint8(MaxCells), c.Len)
}

func TestToggleMode(t *testing.T) {
	c := DefaultMembers()
	c.OnButton(protocol.ButtonB, 5)
	assert.Equal(t, ModeEdit, c.Cursor.Mode)
	c.OnButton(protocol.ButtonB, 5)
	assert.Equal(t, ModeSelect, c.Cursor.Mode)
	c.Cursor.Mode = ModeNone
	c.OnButton(protocol.ButtonB, 5)
	assert.Equal(t, ModeSelect, c.Cursor.Mode)
}

func TestStateRoundTrip(t *testing.T) {
	m := CurrentMenu{Menu: MenuMember, Members: CurrentMembers{
		Cells:  [MaxCells]MemberCell{{ID: 1}, {ID: 0x0203}, {ID: 7}},
		Len:    3,
		Cursor: Cursor{Index: 2, Mode: ModeEdit},
	}}
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 2, 2, 1, 0, 3, 2, 7, 0, 0, 0}, data)

	var got CurrentMenu
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, m, got)
	assert.Equal(t, Hash(m), Hash(got))
}

func TestStateRejectsMismatch(t *testing.T) {
	valid := []byte{2, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:StateSize-1] }},
		{"long", func(b []byte) []byte { return append(b, 0) }},
		{"menu tag", func(b []byte) []byte { b[0] = 9; return b }},
		{"no cells", func(b []byte) []byte { b[1] = 0; return b }},
		{"too many cells", func(b []byte) []byte { b[1] = 5; return b }},
		{"cursor past cells", func(b []byte) []byte { b[2] = 1; return b }},
		{"mode", func(b []byte) []byte { b[3] = 3; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := CurrentMenu{Menu: MenuVersion}
			err := m.UnmarshalBinary(tt.mutate(append([]byte(nil), valid...)))
			assert.ErrorIs(t, err, pkg.ErrProtocolMismatch)
			assert.Equal(t, CurrentMenu{Menu: MenuVersion}, m)
		})
	}
}

func TestStateIgnoresCellsOffMemberScreen(t *testing.T) {
	var m CurrentMenu
	require.NoError(t, m.UnmarshalBinary([]byte{1, 9, 9, 9, 1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, CurrentMenu{Menu: MenuVersion}, m)
}

func TestHashTracksState(t *testing.T) {
	a := CurrentMenu{Menu: MenuSystemName}
	b := CurrentMenu{Menu: MenuVersion}
	assert.NotEqual(t, Hash(a), Hash(b))
	assert.Equal(t, Hash(a), Hash(CurrentMenu{Menu: MenuSystemName}))
}
