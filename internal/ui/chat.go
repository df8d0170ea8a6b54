package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/warproom/internal/session"
	"github.com/BioHazard786/warproom/internal/transfer"
	"github.com/BioHazard786/warproom/internal/utils"
)

// Driver is the part of a session the chat view talks to.
type Driver interface {
	Events() <-chan session.Event
	Done() <-chan struct{}
	Execute(ctx context.Context, cmd session.Command) error
}

type eventMsg struct{ ev session.Event }

type sessionClosedMsg struct{}

type commandDoneMsg struct {
	cmd session.Command
	err error
}

type activeTransfer struct {
	meta     transfer.FileMeta
	outbound bool
	progress transfer.Progress
}

// ChatModel is the bubbletea model for a room.
type ChatModel struct {
	ctx    context.Context
	driver Driver
	room   string

	input   textinput.Model
	log     viewport.Model
	lines   []string
	spinner spinner.Model
	bar     progress.Model

	active   *activeTransfer
	ready    bool
	status   string
	stats    Stats
	quitting bool
}

func NewChatModel(ctx context.Context, d Driver, room string) *ChatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.CharLimit = 4096
	ti.Width = 60
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &ChatModel{
		ctx:     ctx,
		driver:  d,
		room:    room,
		input:   ti,
		log:     viewport.New(80, 15),
		spinner: s,
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		status: "Waiting for peer",
		stats:  Stats{Started: time.Now()},
	}
}

// Stats returns the counters collected so far.
func (m *ChatModel) Stats() Stats {
	return m.stats
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForEvent())
}

func (m *ChatModel) waitForEvent() tea.Cmd {
	events, done := m.driver.Events(), m.driver.Done()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg{ev: ev}
		case <-done:
			return sessionClosedMsg{}
		}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m.quit()
		case "enter":
			return m, m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.log.Width = msg.Width
		m.log.Height = max(3, msg.Height-8)
		m.input.Width = max(10, msg.Width-6)
		m.bar.Width = min(30, max(10, msg.Width-50))
		m.refresh()
		return m, nil

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, m.waitForEvent()

	case sessionClosedMsg:
		return m.quit()

	case commandDoneMsg:
		m.handleCommandDone(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.stats.Ended = time.Now()
	return m, tea.Quit
}

func (m *ChatModel) submit() tea.Cmd {
	line := m.input.Value()
	m.input.SetValue("")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	cmd, err := session.ParseCommand(line)
	if err != nil {
		m.appendLine(FormatError(err))
		return nil
	}
	switch cmd.Kind {
	case session.CmdQuit:
		_, quit := m.quit()
		return quit
	case session.CmdHelp:
		m.appendLine(MutedStyle.Render(session.HelpText))
		return nil
	}

	ctx, d := m.ctx, m.driver
	return func() tea.Msg {
		return commandDoneMsg{cmd: cmd, err: d.Execute(ctx, cmd)}
	}
}

func (m *ChatModel) handleCommandDone(msg commandDoneMsg) {
	if msg.err != nil {
		m.appendLine(FormatError(msg.err))
		if m.active != nil && m.active.outbound {
			m.active = nil
		}
		return
	}
	if msg.cmd.Kind == session.CmdText {
		m.stats.MessagesSent++
		m.appendLine(SelfStyle.Render("you:") + " " + msg.cmd.Arg)
	}
}

func (m *ChatModel) handleEvent(ev session.Event) {
	switch e := ev.(type) {
	case session.StatusEvent:
		m.status = e.Text
		m.appendLine(MutedStyle.Render(e.Text))

	case session.PeerJoinedEvent:
		m.appendLine(fmt.Sprintf("%s %s", IconPeer, MutedStyle.Render("peer joined, connecting")))

	case session.StateEvent:
		if !m.ready {
			m.status = "Negotiating: " + e.State.String()
		}

	case session.ReadyEvent:
		m.ready = true
		m.status = "Connected"
		m.appendLine(fmt.Sprintf("%s %s", IconConnect, SuccessStyle.Render("connected, say hi")))

	case session.ChatEvent:
		m.stats.MessagesReceived++
		m.appendLine(PeerStyle.Render("peer:") + " " + e.Text)

	case session.FileStartEvent:
		m.active = &activeTransfer{
			meta:     e.Meta,
			outbound: e.Outbound,
			progress: transfer.Progress{Name: e.Meta.Name, Total: e.Meta.Size},
		}
		icon, verb := IconReceive, "receiving"
		if e.Outbound {
			icon, verb = IconSend, "sending"
		}
		m.appendLine(fmt.Sprintf("%s %s %s (%s)", icon, verb, e.Meta.Name, utils.FormatSize(e.Meta.Size)))

	case session.ProgressEvent:
		if m.active != nil && m.active.meta.Name == e.Progress.Name && m.active.outbound == e.Outbound {
			m.active.progress = e.Progress
		}

	case session.FileDoneEvent:
		m.active = nil
		if e.Outbound {
			m.stats.FilesSent++
			m.stats.BytesSent += e.Meta.Size
			m.appendLine(fmt.Sprintf("%s sent %s", IconSuccess, e.Meta.Name))
		} else {
			m.stats.FilesReceived++
			m.stats.BytesReceived += e.Meta.Size
			m.appendLine(fmt.Sprintf("%s saved %s", IconSuccess, e.Path))
		}

	case session.TrackEvent:
		m.appendLine(fmt.Sprintf("%s %s", IconMedia, MutedStyle.Render("remote "+e.Kind+" track")))

	case session.ErrorEvent:
		m.appendLine(FormatError(e.Err))

	case session.PeerLeftEvent:
		m.ready = false
		m.active = nil
		m.status = "Peer left"
		m.appendLine(WarningStyle.Render(IconWarning + " peer left the room"))
	}
}

func (m *ChatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *ChatModel) refresh() {
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s warproom · room %s", IconRoom, m.room)))
	b.WriteString("\n")
	if m.ready {
		b.WriteString(SuccessStyle.Render("● ") + m.status)
	} else {
		b.WriteString(m.spinner.View() + " " + m.status)
	}
	b.WriteString("\n\n")
	b.WriteString(m.log.View())
	b.WriteString("\n")

	if t := m.active; t != nil {
		b.WriteString(fmt.Sprintf("%s %s %s %5.1f%% %s\n",
			IconFile,
			truncate(t.meta.Name, 24),
			m.bar.ViewAs(t.progress.Fraction()),
			t.progress.Fraction()*100,
			MutedStyle.Render(utils.FormatSpeed(t.progress.Speed)),
		))
	}

	b.WriteString(InputBoxStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter send · /help commands · pgup/pgdown scroll · ctrl+c quit"))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
