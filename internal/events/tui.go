package events

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	roleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// liveModel is a bubbletea renderer for a ChannelSink's event stream,
// modeled on the teacher's chatTuiState/readLLMResponse split between a
// scrolling viewport and a one-shot "wait for the next item" tea.Cmd.
type liveModel struct {
	events  <-chan Event
	spinner spinner.Model
	vp      viewport.Model
	lines   []string
	running bool
	width   int
	height  int
}

type eventMsg Event
type streamClosedMsg struct{}

func waitForEvent(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func newLiveModel(ch <-chan Event) liveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("171"))
	return liveModel{
		events:  ch,
		spinner: sp,
		vp:      viewport.New(80, 20),
		running: true,
	}
}

func (m liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 2
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case eventMsg:
		m.lines = append(m.lines, renderEvent(Event(msg)))
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.running = false
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m liveModel) View() string {
	footer := statusStyle.Render("waiting")
	if m.running {
		footer = m.spinner.View() + " " + statusStyle.Render("running — ctrl+c to detach")
	}
	return m.vp.View() + "\n" + footer
}

// renderEvent turns one agent/ptysession event into a single
// display line, styling by the event kind embedded in its key
// ("agent:<kind>:<session_id>" or "terminal:output:<session_id>").
func renderEvent(ev Event) string {
	switch {
	case strings.Contains(ev.Key, ":error:"), strings.HasPrefix(ev.Key, "agent:error:"):
		return errorStyle.Render(fmt.Sprintf("[error] %v", ev.Payload))
	case strings.HasPrefix(ev.Key, "agent:tool_start:"):
		return toolStyle.Render(fmt.Sprintf("→ tool: %v", ev.Payload))
	case strings.HasPrefix(ev.Key, "agent:tool_output:"):
		return toolStyle.Render(fmt.Sprintf("%v", ev.Payload))
	case strings.HasPrefix(ev.Key, "agent:debug:role:"):
		return roleStyle.Render(fmt.Sprintf("[role] %v", ev.Payload))
	case strings.HasPrefix(ev.Key, "agent:status:"):
		return statusStyle.Render(fmt.Sprintf("[status] %v", ev.Payload))
	case strings.HasPrefix(ev.Key, "terminal:output:"):
		return fmt.Sprintf("%v", ev.Payload)
	default:
		return fmt.Sprintf("%v", ev.Payload)
	}
}

// RunLive drives an interactive terminal renderer over a ChannelSink's
// event stream until the user detaches (ctrl+c/esc) or the stream closes.
func RunLive(sink *ChannelSink) error {
	p := tea.NewProgram(newLiveModel(sink.Events()), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
