package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Foreground(lipgloss.Color("232")).
			Background(lipgloss.Color("255"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

const help = "a b c d: buttons  ↑ ↓: up/down  u: user  r: re-upload  s: status  q: quit"

var keyButtons = map[string]protocol.Button{
	"a":    protocol.ButtonA,
	"b":    protocol.ButtonB,
	"c":    protocol.ButtonC,
	"d":    protocol.ButtonD,
	"up":   protocol.ButtonUp,
	"down": protocol.ButtonDown,
	"u":    protocol.ButtonUser,
}

type (
	frameMsg    display.Frame
	statusMsg   string
	errMsg      struct{ err error }
	progressMsg struct{ written, total int }
	uploadMsg   struct{ err error }
	rebootMsg   protocol.BootSel
)

// model is the simulator screen: the last flushed panel frame above a status
// line.
type model struct {
	ctx       context.Context
	sim       *sim
	sys       *roster.Owned
	frame     display.Frame
	status    string
	err       error
	uploading bool
}

func newModel(ctx context.Context, s *sim, sys *roster.Owned) model {
	return model{
		ctx:    ctx,
		sim:    s,
		sys:    sys,
		frame:  s.fb.Snapshot(),
		status: "booted",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.enumerate(), waitReboot(m.ctx, m.sim.reboots))
}

func (m model) enumerate() tea.Cmd {
	return func() tea.Msg {
		info, err := m.sim.enumerate(m.ctx)
		if err != nil {
			return errMsg{fmt.Errorf("enumerate: %w", err)}
		}
		return statusMsg("attached " + info.String())
	}
}

func waitReboot(ctx context.Context, reboots <-chan protocol.BootSel) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case target := <-reboots:
			return rebootMsg(target)
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case frameMsg:
		m.frame = display.Frame(msg)
		return m, nil

	case statusMsg:
		m.status, m.err = string(msg), nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case progressMsg:
		m.status = fmt.Sprintf("uploading %d/%d bytes", msg.written, msg.total)
		return m, nil

	case uploadMsg:
		m.uploading = false
		if msg.err != nil {
			m.err = fmt.Errorf("upload: %w", msg.err)
			return m, nil
		}
		m.status, m.err = "roster uploaded", nil
		return m, nil

	case rebootMsg:
		m.status = fmt.Sprintf("reboot into %v requested", protocol.BootSel(msg))
		return m, waitReboot(m.ctx, m.sim.reboots)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if b, ok := keyButtons[key]; ok {
		if err := m.sim.buttons.TrySend(b); err != nil {
			m.err = fmt.Errorf("button %v: %w", b, err)
		} else {
			m.err = nil
		}
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "s":
		return m, func() tea.Msg {
			return statusMsg(m.sim.status(m.ctx))
		}

	case "r":
		if m.sys == nil {
			m.err = errors.New("no roster loaded, start with --roster")
			return m, nil
		}
		if m.uploading {
			return m, nil
		}
		m.uploading = true
		m.status = "uploading"
		return m, func() tea.Msg {
			return uploadMsg{err: m.sim.upload(m.ctx, m.sys)}
		}
	}
	pkg.LogDebug(component, "unbound key", "key", key)
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(panelStyle.Render(halfBlocks(m.frame)))
	b.WriteByte('\n')
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
	} else {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteByte('\n')
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

// halfBlocks draws f with one character cell per two pixel rows.
func halfBlocks(f display.Frame) string {
	var b strings.Builder
	b.Grow((f.Width*3 + 1) * (f.Height + 1) / 2)
	for y := 0; y < f.Height; y += 2 {
		if y > 0 {
			b.WriteByte('\n')
		}
		for x := 0; x < f.Width; x++ {
			top, bottom := f.At(x, y), f.At(x, y+1)
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}
