// Package tui is a terminal presentation layer for the chat widget built on bubbletea. It
// renders the session controller's signals and forwards user input as controller commands.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/go-go-golems/cmr-widget/pkg/session"
)

// Controller is the part of *session.Controller the UI drives.
type Controller interface {
	Start(ctx context.Context, form session.Form) error
	Send(ctx context.Context, text string) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

var _ Controller = &session.Controller{}

const (
	fieldName = iota
	fieldEmail
	fieldMessage
)

type errMsg struct{ err error }

type snapshotMsg struct{ snap session.Snapshot }

type signalsClosedMsg struct{}

type Option func(*Model)

// WithClipboard replaces the system clipboard writer used by ctrl+y.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		if write != nil {
			m.copy = write
		}
	}
}

type Model struct {
	ctx     context.Context
	ctl     Controller
	signals <-chan session.Signal
	copy    func(string) error

	state          session.State
	sessionID      string
	agent          string
	connected      bool
	startEnabled   bool
	sendEnabled    bool
	restartOffered bool
	lines          []line
	alert          string
	info           string

	fields   []textinput.Model
	focus    int
	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
}

// New builds the model from the controller's current snapshot; a persisted customer name
// prefills the form.
func New(ctx context.Context, ctl Controller, signals <-chan session.Signal, initial session.Snapshot, opts ...Option) Model {
	name := textinput.New()
	name.Placeholder = "Your name"
	name.SetValue(initial.CustomerName)
	name.Focus()
	email := textinput.New()
	email.Placeholder = "Email (optional)"
	msg := textinput.New()
	msg.Placeholder = "How can we help?"

	input := textinput.New()
	input.Placeholder = "Type a message..."

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = labelStyle

	m := Model{
		ctx:          ctx,
		ctl:          ctl,
		signals:      signals,
		copy:         clipboard.WriteAll,
		state:        initial.State,
		sessionID:    initial.SessionID,
		agent:        initial.AgentName,
		connected:    initial.Connected,
		startEnabled: initial.StartEnabled,
		sendEnabled:  initial.SendEnabled,
		lines:        linesFromMessages(initial.Messages),
		fields:       []textinput.Model{name, email, msg},
		input:        input,
		spinner:      sp,
		viewport:     viewport.New(80, 12),
	}
	if m.state == "" {
		m.state = session.StateNoSession
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.state.Identified() {
		m.input.Focus()
	}
	m.refresh()
	return m
}

func waitForSignal(ch <-chan session.Signal) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return signalsClosedMsg{}
		}
		return s
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForSignal(m.signals))
}

func (m Model) startCmd(form session.Form) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctl.Start(m.ctx, form); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctl.Send(m.ctx, text); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) resetCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctl.Reset(m.ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) snapshotCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.ctl.Snapshot(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{snap}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = ev.Width
		if h := ev.Height - 8; h > 3 {
			m.viewport.Height = h
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(ev)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		return m, cmd
	case errMsg:
		m.alert = describeError(ev.err)
		return m, nil
	case snapshotMsg:
		m.agent = ev.snap.AgentName
		m.sessionID = ev.snap.SessionID
		if m.state == session.StateNoSession && m.fields[fieldName].Value() == "" {
			m.fields[fieldName].SetValue(ev.snap.CustomerName)
		}
		return m, nil
	case signalsClosedMsg:
		return m, tea.Quit
	case session.Signal:
		cmd := m.applySignal(ev)
		return m, tea.Batch(cmd, waitForSignal(m.signals))
	}
	return m, nil
}

func (m *Model) applySignal(sig session.Signal) tea.Cmd {
	switch s := sig.(type) {
	case session.StateChanged:
		m.state = s.To
		m.sessionID = s.SessionID
		if s.To != session.StateClosed {
			m.restartOffered = false
		}
		if s.To == session.StateNoSession {
			m.agent = ""
			m.fields[fieldMessage].SetValue("")
			m.focusField(fieldName)
		}
		if s.To.Identified() {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		return m.snapshotCmd()
	case session.ControlsChanged:
		m.startEnabled = s.StartEnabled
		m.sendEnabled = s.SendEnabled
	case session.HistoryReplaced:
		m.lines = linesFromMessages(s.Messages)
		m.refresh()
	case session.MessageAppended:
		msg := s.Message
		m.lines = append(m.lines, line{msg: &msg})
		m.refresh()
	case session.SystemNotice:
		m.lines = append(m.lines, line{notice: s.Text})
		m.refresh()
		if s.Kind == session.NoticeAgentJoined {
			return m.snapshotCmd()
		}
	case session.AlertRaised:
		m.alert = s.Text
	case session.RestartOffered:
		m.restartOffered = true
	case session.ConnectionChanged:
		m.connected = s.Connected
	}
	return nil
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+y":
		if err := m.copy(transcript(m.lines)); err != nil {
			m.alert = "Could not copy transcript: " + err.Error()
		} else {
			m.info = "Transcript copied to clipboard."
		}
		return m, nil
	case "ctrl+r":
		m.alert = ""
		return m, m.resetCmd()
	}
	if m.alert != "" {
		m.alert = ""
		return m, nil
	}
	m.info = ""

	switch m.state {
	case session.StateNoSession:
		return m.handleFormKey(k)
	case session.StateQueued, session.StateActive:
		if k.Type == tea.KeyEnter {
			text := m.input.Value()
			if strings.TrimSpace(text) == "" || !m.sendEnabled {
				return m, nil
			}
			m.input.Reset()
			return m, m.sendCmd(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(k)
		return m, cmd
	case session.StateClosed:
		if k.Type == tea.KeyEnter && m.restartOffered {
			return m, m.resetCmd()
		}
	}
	return m, nil
}

func (m Model) handleFormKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyTab, tea.KeyDown:
		m.focusField((m.focus + 1) % len(m.fields))
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.focusField((m.focus + len(m.fields) - 1) % len(m.fields))
		return m, nil
	case tea.KeyEnter:
		if m.focus < fieldMessage {
			m.focusField(m.focus + 1)
			return m, nil
		}
		if !m.startEnabled {
			return m, nil
		}
		return m, m.startCmd(session.Form{
			Name:    m.fields[fieldName].Value(),
			Email:   m.fields[fieldEmail].Value(),
			Message: m.fields[fieldMessage].Value(),
		})
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(k)
	return m, cmd
}

func (m *Model) focusField(i int) {
	for j := range m.fields {
		if j == i {
			m.fields[j].Focus()
		} else {
			m.fields[j].Blur()
		}
	}
	m.focus = i
}

func (m *Model) refresh() {
	rows := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		rows = append(rows, l.render())
	}
	m.viewport.SetContent(strings.Join(rows, "\n"))
	m.viewport.GotoBottom()
}

func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrNameRequired), errors.Is(err, session.ErrMessageRequired):
		return "Please fill name and message."
	case errors.Is(err, session.ErrNoSession):
		return "There is no open chat."
	default:
		return "Error: " + err.Error()
	}
}

func (m Model) statusLine() string {
	conn := "offline"
	if m.connected {
		conn = "online"
	}
	parts := []string{conn, strings.ReplaceAll(m.state.String(), "_", " ")}
	if m.sessionID != "" {
		parts = append(parts, "chat #"+m.sessionID)
	}
	if m.agent != "" {
		parts = append(parts, "agent "+m.agent)
	}
	return statusStyle.Render(strings.Join(parts, " · "))
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Support chat"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	switch m.state {
	case session.StateNoSession:
		labels := []string{"Name", "Email", "Message"}
		for i, f := range m.fields {
			fmt.Fprintf(&b, "%s\n%s\n", labelStyle.Render(labels[i]), f.View())
		}
	case session.StateStarting:
		fmt.Fprintf(&b, "%s Starting...\n", m.spinner.View())
	default:
		b.WriteString(m.viewport.View())
		b.WriteString("\n\n")
		switch {
		case m.state == session.StateClosed:
			b.WriteString(noticeStyle.Render("Chat closed."))
			if m.restartOffered {
				b.WriteString(" Press enter to start a new chat.")
			}
		default:
			b.WriteString(m.input.View())
		}
		b.WriteString("\n")
	}

	if m.alert != "" {
		b.WriteString("\n" + errorStyle.Render(m.alert) + "\n")
	} else if m.info != "" {
		b.WriteString("\n" + statusStyle.Render(m.info) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) help() string {
	switch m.state {
	case session.StateNoSession:
		return "tab: next field • enter: start chat • ctrl+c: quit"
	case session.StateClosed:
		return "enter: new chat • ctrl+y: copy transcript • ctrl+c: quit"
	default:
		return "enter: send • ctrl+r: end chat • ctrl+y: copy transcript • ctrl+c: quit"
	}
}
