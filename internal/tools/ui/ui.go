package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

var frames = []string{"|", "/", "-", "\\"}

type Task func(ctx context.Context) ([]string, error)

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Init() tea.Cmd { return tick() }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
		return m, nil
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", frames[m.frame], titleStyle.Render(m.title), dimStyle.Render(time.Since(m.started).Round(time.Second).String()))
	}
	return Summary(m.title, m.details, m.err)
}

// Summary renders a finished task the same way the interactive view does.
func Summary(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("FAIL") + " " + titleStyle.Render(title) + "\n")
	} else {
		b.WriteString(okStyle.Render("OK") + " " + titleStyle.Render(title) + "\n")
	}
	for _, d := range details {
		b.WriteString(dimStyle.Render("  - "+d) + "\n")
	}
	if err != nil {
		b.WriteString(failStyle.Render("  error: "+err.Error()) + "\n")
	}
	return b.String()
}

// Run executes fn behind a spinner and returns its result once it finishes.
func Run(title string, fn Task) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &model{title: title, started: time.Now(), cancel: cancel}
	p := tea.NewProgram(m)
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	if _, err := p.Run(); err != nil {
		return nil, err
	}
	return m.details, m.err
}
