// Package tui provides the live transfer view for otalink run --watch.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	outcomeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ProgressMsg reports one accepted write to the view.
type ProgressMsg struct {
	// Version is the version being downloaded.
	Version string
	// Offset is the session offset after the write.
	Offset uint32
	// Written is the payload length of the write.
	Written int
}

// DoneMsg reports the terminal session outcome to the view.
type DoneMsg struct {
	Outcome string
	Err     error
}

// TransferModel is a Bubble Tea model rendering firmware transfer progress.
type TransferModel struct {
	bar    progress.Model
	total  uint32 // 0 when the image size is unknown
	offset uint32
	chunks int
	target string

	done    bool
	outcome string
	err     error

	width    int
	quitting bool
}

// NewTransferModel creates a transfer view. total is the expected image
// size in bytes; pass 0 when unknown, which hides the percentage bar.
func NewTransferModel(total uint32) TransferModel {
	return TransferModel{
		bar:   progress.New(progress.WithDefaultGradient()),
		total: total,
	}
}

// Init implements tea.Model.
func (m TransferModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 8
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case ProgressMsg:
		m.target = msg.Version
		m.offset = msg.Offset
		m.chunks++
		return m, nil

	case DoneMsg:
		m.done = true
		m.outcome = msg.Outcome
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m TransferModel) View() string {
	if m.quitting && !m.done {
		return ""
	}

	view := titleStyle.Render("otalink · firmware transfer") + "\n\n"

	if m.target != "" {
		view += labelStyle.Render("target ") + valueStyle.Render(m.target) + "\n"
	}
	view += labelStyle.Render("written ") +
		valueStyle.Render(fmt.Sprintf("%d bytes in %d chunks", m.offset, m.chunks)) + "\n"

	if m.total > 0 {
		pct := float64(m.offset) / float64(m.total)
		if pct > 1 {
			pct = 1
		}
		view += "\n" + m.bar.ViewAs(pct) + "\n"
	}

	if m.done {
		view += "\n"
		if m.err != nil {
			view += errorStyle.Render(fmt.Sprintf("session failed: %v", m.err)) + "\n"
		} else {
			view += outcomeStyle.Render("outcome: "+m.outcome) + "\n"
		}
	}

	return view
}
