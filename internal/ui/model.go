// Package ui renders the debugger: registers on the left, the page-table
// walk on the right, the memory dump along the bottom, and a one-line
// command input. Session actions run in command goroutines (only Close on
// quit is called directly), and rendering uses a copied view of its state.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ehrlich-b/qvhd/internal/session"
	"github.com/ehrlich-b/qvhd/internal/target"
)

// viewState is the session state copied after each completed action. View
// reads only this, never the live session, so an in-flight command cannot
// race the renderer.
type viewState struct {
	regs     target.Snapshot
	prevRegs target.Snapshot
	page     *session.PageInfo
	prevPage *session.PageInfo
	dump     []string
	status   string
	mode     session.InspectMode
	running  bool
}

type actionDoneMsg struct{}

type Model struct {
	sess  *session.Session
	theme Theme

	width  int
	height int

	input  textinput.Model
	typing bool

	busy   bool
	cancel context.CancelFunc

	view viewState
}

func NewModel(sess *session.Session) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "va <addr> | va rip | dump <addr> [size]"
	ti.CharLimit = 64

	return Model{
		sess:  sess,
		theme: DefaultTheme(),
		input: ti,
		busy:  true, // connecting
		view: viewState{
			regs:     target.NewSnapshot(),
			prevRegs: target.NewSnapshot(),
			status:   "connecting...",
			mode:     session.ModeRIP,
		},
	}
}

func (m Model) Init() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		sess.Connect(context.Background())
		return actionDoneMsg{}
	}
}

func (m *Model) syncView() {
	m.view = viewState{
		regs:     m.sess.Regs(),
		prevRegs: m.sess.PrevRegs(),
		page:     m.sess.PageInfo(),
		prevPage: m.sess.PrevPageInfo(),
		dump:     m.sess.MemDumpLines(),
		status:   m.sess.Status(),
		mode:     m.sess.InspectMode(),
		running:  m.sess.IsRunning(),
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case actionDoneMsg:
		m.busy = false
		m.cancel = nil
		m.syncView()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.typing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			m.input.Blur()
			m.typing = false
			return m.dispatchCommand(line)
		case "esc", "ctrl+c":
			m.input.Reset()
			m.input.Blur()
			m.typing = false
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		m.sess.Close()
		return m, tea.Quit

	case "p":
		// Pause must stay reachable while a command is blocked on the
		// backend: cancel the in-flight call; it returns with a CANCEL
		// status, and a later p runs the pause itself.
		if m.busy {
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m.startAction(func(ctx context.Context) { m.sess.Pause(ctx) })

	case "n":
		return m.startAction(func(ctx context.Context) { m.sess.Step(ctx) })

	case "c":
		return m.startAction(func(ctx context.Context) { m.sess.Continue(ctx) })

	case "r":
		return m.startAction(func(ctx context.Context) { m.sess.Refresh(ctx) })

	case ":", "v", "d":
		m.typing = true
		return m, m.input.Focus()
	}
	return m, nil
}

// startAction runs one session call in a goroutine. The session is
// single-caller, so a second action is refused while one is in flight.
func (m Model) startAction(fn func(ctx context.Context)) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.busy = true
	m.cancel = cancel
	return m, func() tea.Msg {
		defer cancel()
		fn(ctx)
		return actionDoneMsg{}
	}
}

func (m Model) dispatchCommand(line string) (tea.Model, tea.Cmd) {
	if line == "" {
		return m, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "q", "quit":
		m.sess.Close()
		return m, tea.Quit

	case "va":
		if len(fields) != 2 {
			m.view.status = "usage: va <addr> | va rip"
			return m, nil
		}
		if fields[1] == "rip" {
			return m.startAction(func(ctx context.Context) { m.sess.SetInspectRIP(ctx) })
		}
		va, err := parseAddr(fields[1])
		if err != nil {
			m.view.status = fmt.Sprintf("invalid va %q", fields[1])
			return m, nil
		}
		return m.startAction(func(ctx context.Context) { m.sess.SetInspectVA(ctx, va) })

	case "dump":
		if len(fields) < 2 || len(fields) > 3 {
			m.view.status = "usage: dump <addr> [size]"
			return m, nil
		}
		va, err := parseAddr(fields[1])
		if err != nil {
			m.view.status = fmt.Sprintf("invalid va %q", fields[1])
			return m, nil
		}
		size := 64
		if len(fields) == 3 {
			size, err = strconv.Atoi(fields[2])
			if err != nil || size <= 0 || size > 4096 {
				m.view.status = fmt.Sprintf("invalid size %q", fields[2])
				return m, nil
			}
		}
		return m.startAction(func(ctx context.Context) { m.sess.MemDump(ctx, va, size) })
	}

	m.view.status = fmt.Sprintf("unknown command %q", fields[0])
	return m, nil
}

// parseAddr accepts 0x-prefixed or bare hex.
func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}
