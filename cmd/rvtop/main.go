// Command rvtop is a terminal dashboard over a running Scheduler: the
// current task and the FIFO ready queue, refreshed on a tick. Grounded
// on dh-cli's internal/tui ServersScreen (bubbletea Model shape, bubbles
// key.Binding help bar, lipgloss styling), adapted from a one-shot list
// screen to a ticking live poller since there is no external event
// source to react to — this core's own scheduler state is the feed.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rvkernel/sched"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#2F71F2", Dark: "#4A90FF"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}
	colorRunning = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}

	styleTitle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).MarginBottom(1)
	styleRunning = lipgloss.NewStyle().Foreground(colorRunning).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
)

const pollInterval = 250 * time.Millisecond

type keyMap struct {
	Help key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Help, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Help, k.Quit}} }

func defaultKeyMap() keyMap {
	return keyMap{
		Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type tickMsg struct{ snap sched.Snapshot }

type model struct {
	s    *sched.Scheduler
	keys keyMap
	help help.Model
	snap sched.Snapshot
}

// NewApp returns the bubbletea model rvtop drives, polling s on a fixed
// interval.
func NewApp(s *sched.Scheduler) tea.Model {
	return model{s: s, keys: defaultKeyMap(), help: help.New()}
}

func (m model) Init() tea.Cmd {
	return poll(m.s)
}

func poll(s *sched.Scheduler) tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{snap: s.Snapshot()}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = msg.snap
		return m, poll(m.s)
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("rvtop — scheduler state"))
	b.WriteString("\n")

	if m.snap.Current == nil {
		b.WriteString(styleDim.Render("  scheduler not started\n"))
	} else {
		c := m.snap.Current
		b.WriteString(styleRunning.Render(fmt.Sprintf("  * pid %d tid %d  %s", c.Pid, c.Tid, c.State)))
		b.WriteString("\n")
	}

	b.WriteString("\n  ready queue:\n")
	if len(m.snap.Ready) == 0 {
		b.WriteString(styleDim.Render("    (empty)\n"))
	}
	for _, t := range m.snap.Ready {
		b.WriteString(fmt.Sprintf("    pid %d tid %d  %s\n", t.Pid, t.Tid, t.State))
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func main() {
	// rvtop has no IPC channel to an already-running rvkernel process in
	// this core (spec Non-goals: no cross-process scheduler export), so
	// standalone invocation demonstrates the dashboard against an empty,
	// freshly constructed Scheduler. A future front end that embeds both
	// in one process passes its live *sched.Scheduler to NewApp directly.
	p := tea.NewProgram(NewApp(sched.New()))
	if _, err := p.Run(); err != nil {
		fmt.Println("rvtop:", err)
	}
}
