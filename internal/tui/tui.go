// Package tui renders a live terminal view of one analysis task.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pulse/internal/core"
)

// Source is where the watcher reads task state from
type Source interface {
	Status(ctx context.Context, id string) (*core.AnalysisTask, error)
	Result(ctx context.Context, id string) (*core.AnalysisResult, error)
	Logs(ctx context.Context, id string) ([]core.TaskLog, error)
}

type statusMsg struct {
	task *core.AnalysisTask
	logs []core.TaskLog
	err  error
}

type resultMsg struct {
	result *core.AnalysisResult
	err    error
}

type tickMsg time.Time

// model is the state of the watcher
type model struct {
	source   Source
	taskID   string
	interval time.Duration

	task        *core.AnalysisTask
	logs        []core.TaskLog
	result      *core.AnalysisResult
	err         error
	selectedIdx int // Selected persona once the result arrives
	width       int
	quitting    bool
}

func newModel(source Source, taskID string, interval time.Duration) model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return model{source: source, taskID: taskID, interval: interval, width: 100}
}

// Init fetches the first status immediately
func (m model) Init() tea.Cmd {
	return m.fetchStatus
}

func (m model) fetchStatus() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task, err := m.source.Status(ctx, m.taskID)
	if err != nil {
		return statusMsg{err: err}
	}
	logs, err := m.source.Logs(ctx, m.taskID)
	return statusMsg{task: task, logs: logs, err: err}
}

func (m model) fetchResult() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := m.source.Result(ctx, m.taskID)
	return resultMsg{result: result, err: err}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages and updates the model accordingly.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.result != nil && m.selectedIdx < len(m.result.Personas)-1 {
				m.selectedIdx++
			}
		}

	case tickMsg:
		return m, m.fetchStatus

	case statusMsg:
		m.err = msg.err
		if msg.task != nil {
			m.task = msg.task
		}
		if msg.logs != nil {
			m.logs = msg.logs
		}
		switch {
		case m.task != nil && m.task.State == core.StateCompleted:
			return m, m.fetchResult
		case m.task != nil && m.task.State == core.StateFailed:
			return m, nil
		}
		return m, m.tick()

	case resultMsg:
		m.err = msg.err
		m.result = msg.result
	}

	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
)

// View renders the TUI.
func (m model) View() string {
	if m.quitting {
		return ""
	}

	docStyle := lipgloss.NewStyle().Margin(1, 2)
	paneWidth := m.width/2 - 5
	if paneWidth < 20 {
		paneWidth = 20
	}
	paneStyle := lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(0, 1).Width(paneWidth)

	var b strings.Builder
	b.WriteString(titleStyle.Render("pulse · "+m.taskID) + "\n\n")

	if m.task == nil {
		if m.err != nil {
			b.WriteString(errorStyle.Render(m.err.Error()))
		} else {
			b.WriteString("Loading task...")
		}
		return docStyle.Render(b.String() + "\n\n[q] Quit")
	}

	target := m.task.Target
	if m.task.StoreName != "" {
		target = m.task.StoreName
	}
	if target != "" {
		b.WriteString(labelStyle.Render("store  ") + target + "\n")
	}
	b.WriteString(labelStyle.Render("state  ") + string(m.task.State) + "  " + m.task.Stage + "\n")
	b.WriteString(progressBar(m.task.Percent, paneWidth*2) + "\n")
	if m.task.Error != "" {
		b.WriteString(errorStyle.Render(m.task.Error) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n")

	left := paneStyle.Render(m.renderLogs(8))
	if m.result == nil {
		b.WriteString(left)
		return docStyle.Render(b.String() + "\n\n[q] Quit")
	}

	list, detail := m.renderPersonas()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, paneStyle.Render(list), paneStyle.Render(detail)))
	return docStyle.Render(b.String() + "\n\n[↑/k] Up | [↓/j] Down | [q] Quit")
}

func (m model) renderLogs(limit int) string {
	if len(m.logs) == 0 {
		return "No log entries yet."
	}
	logs := m.logs
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, fmt.Sprintf("%s %-5s %s", l.Time.Local().Format("15:04:05"), l.Level, l.Message))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderPersonas() (string, string) {
	r := m.result
	var list strings.Builder
	fmt.Fprintf(&list, "%d reviews · %s\n\n", r.ReviewCount, r.Strategy)
	if len(r.Personas) == 0 {
		return list.String() + "No personas.", ""
	}
	for i, p := range r.Personas {
		line := fmt.Sprintf("%s (%.0f%%)", p.Label, p.Share)
		if i == m.selectedIdx {
			line = activeStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		list.WriteString(line + "\n")
	}

	p := r.Personas[m.selectedIdx]
	var detail strings.Builder
	detail.WriteString(titleStyle.Render(p.Label) + "\n")
	if p.Summary != "" {
		detail.WriteString(p.Summary + "\n")
	}
	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		detail.WriteString("\n" + labelStyle.Render(name) + "\n")
		for _, item := range items {
			detail.WriteString("• " + item + "\n")
		}
	}
	section("characteristics", p.Characteristics)
	section("preferences", p.Preferences)
	section("goals", p.Goals)
	section("pain points", p.PainPoints)
	return list.String(), detail.String()
}

func progressBar(percent, width int) string {
	if width > 60 {
		width = 60
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := width * percent / 100
	return activeStyle.Render(strings.Repeat("█", filled)) +
		labelStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", percent)
}

// Watch polls the task every interval until it is terminal or the user quits.
func Watch(source Source, taskID string, interval time.Duration) error {
	p := tea.NewProgram(newModel(source, taskID, interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
