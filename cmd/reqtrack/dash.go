package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/reqtrack/reqtrack/internal/client"
	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Interactive position dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		m := newDashModel(client.NewMirror(c))
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

const dashTimeout = 10 * time.Second

type dashMode int

const (
	modeBrowse dashMode = iota
	modeCreateTitle
	modeCreateDept
	modeFilter
)

type refreshedMsg struct{ err error }
type mutatedMsg struct{ err error }

var (
	dashTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dashMetricStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dashHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dashInputStyle  = lipgloss.NewStyle().PaddingLeft(2)
)

type dashModel struct {
	mirror *client.Mirror

	tbl         table.Model
	titleInput  textinput.Model
	deptInput   textinput.Model
	filterInput textinput.Model

	mode    dashMode
	filter  string
	loading bool
	errNote string
	width   int
}

func newDashModel(mirror *client.Mirror) *dashModel {
	columns := []table.Column{
		{Title: "Code", Width: 14},
		{Title: "Title", Width: 28},
		{Title: "Dept", Width: 14},
		{Title: "Location", Width: 12},
		{Title: "Status", Width: 12},
		{Title: "Budget", Width: 12},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(14),
	)

	titleInput := textinput.New()
	titleInput.Placeholder = "Role title"
	titleInput.CharLimit = 80

	deptInput := textinput.New()
	deptInput.Placeholder = "Department"
	deptInput.CharLimit = 40

	filterInput := textinput.New()
	filterInput.Placeholder = "Department, title or code"
	filterInput.CharLimit = 60

	return &dashModel{
		mirror:      mirror,
		tbl:         tbl,
		titleInput:  titleInput,
		deptInput:   deptInput,
		filterInput: filterInput,
		loading:     true,
	}
}

func (m *dashModel) Init() tea.Cmd {
	return m.refreshCmd()
}

func (m *dashModel) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dashTimeout)
		defer cancel()
		return refreshedMsg{err: m.mirror.Load(ctx)}
	}
}

func (m *dashModel) createCmd(title, dept string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dashTimeout)
		defer cancel()
		fields := normalize.Row{"title": title}
		if dept != "" {
			fields["department"] = dept
		}
		_, err := m.mirror.Create(ctx, fields)
		return mutatedMsg{err: err}
	}
}

func (m *dashModel) fillCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dashTimeout)
		defer cancel()
		_, err := m.mirror.SetStatus(ctx, id, position.StatusFilled)
		return mutatedMsg{err: err}
	}
}

func (m *dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case refreshedMsg:
		m.loading = false
		if msg.err != nil {
			// Keep whatever we already have; stale data beats a blank table.
			m.errNote = fmt.Sprintf("Could not load positions: %v", msg.err)
		} else {
			m.errNote = ""
		}
		m.syncRows()
		return m, nil

	case mutatedMsg:
		if msg.err != nil {
			m.errNote = fmt.Sprintf("Change failed: %v", msg.err)
		} else {
			m.errNote = ""
		}
		m.syncRows()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

func (m *dashModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeCreateTitle:
		switch msg.String() {
		case "esc":
			m.mode = modeBrowse
			return m, nil
		case "enter":
			if m.titleInput.Value() == "" {
				return m, nil
			}
			m.mode = modeCreateDept
			m.titleInput.Blur()
			m.deptInput.Focus()
			return m, textinput.Blink
		}
		var cmd tea.Cmd
		m.titleInput, cmd = m.titleInput.Update(msg)
		return m, cmd

	case modeCreateDept:
		switch msg.String() {
		case "esc":
			m.mode = modeBrowse
			return m, nil
		case "enter":
			title := m.titleInput.Value()
			dept := m.deptInput.Value()
			m.mode = modeBrowse
			m.deptInput.Blur()
			m.titleInput.SetValue("")
			m.deptInput.SetValue("")
			return m, m.createCmd(title, dept)
		}
		var cmd tea.Cmd
		m.deptInput, cmd = m.deptInput.Update(msg)
		return m, cmd

	case modeFilter:
		switch msg.String() {
		case "esc":
			m.filter = ""
			m.filterInput.SetValue("")
			m.filterInput.Blur()
			m.mode = modeBrowse
			m.syncRows()
			return m, nil
		case "enter":
			m.filter = m.filterInput.Value()
			m.filterInput.Blur()
			m.mode = modeBrowse
			m.syncRows()
			return m, nil
		}
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.loading = true
		return m, m.refreshCmd()
	case "c":
		m.mode = modeCreateTitle
		m.titleInput.Focus()
		return m, textinput.Blink
	case "/":
		m.mode = modeFilter
		m.filterInput.SetValue(m.filter)
		m.filterInput.Focus()
		return m, textinput.Blink
	case "esc":
		if m.filter != "" {
			m.filter = ""
			m.filterInput.SetValue("")
			m.syncRows()
		}
		return m, nil
	case "f":
		row := m.tbl.SelectedRow()
		if row == nil {
			return m, nil
		}
		id := m.selectedID()
		if id == "" {
			return m, nil
		}
		return m, m.fillCmd(id)
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

// visible applies the active filter to the mirror snapshot: case-insensitive
// substring match on department, title, or code.
func (m *dashModel) visible() []position.Position {
	positions := m.mirror.Positions()
	q := strings.ToLower(strings.TrimSpace(m.filter))
	if q == "" {
		return positions
	}
	var out []position.Position
	for _, p := range positions {
		if strings.Contains(strings.ToLower(p.Department), q) ||
			strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.Code), q) {
			out = append(out, p)
		}
	}
	return out
}

// selectedID maps the table cursor back to a position id. Rows and the
// filtered snapshot share ordering, so the cursor index is the lookup.
func (m *dashModel) selectedID() string {
	positions := m.visible()
	idx := m.tbl.Cursor()
	if idx < 0 || idx >= len(positions) {
		return ""
	}
	return positions[idx].ID
}

func (m *dashModel) syncRows() {
	positions := m.visible()
	rows := make([]table.Row, len(positions))
	for i, p := range positions {
		budget := "-"
		if p.Budget != nil {
			budget = fmt.Sprintf("%.0f", *p.Budget)
		}
		title := p.Title
		if m.mirror.State(p.ID) == client.StateOptimistic {
			title += " …"
		}
		rows[i] = table.Row{p.Code, title, p.Department, p.Location, p.Status, budget}
	}
	m.tbl.SetRows(rows)
}

func (m *dashModel) metrics() string {
	positions := m.mirror.Positions()
	total := len(positions)
	filled, vacant, open := 0, 0, 0
	for _, p := range positions {
		switch p.Status {
		case position.StatusFilled:
			filled++
		case position.StatusVacant:
			vacant++
		}
		if p.Status != position.StatusFilled && p.Status != position.StatusRetired {
			open++
		}
	}
	return fmt.Sprintf("Total %d   Open %d   Filled %d   Vacant %d", total, open, filled, vacant)
}

func (m *dashModel) View() string {
	var b []string
	b = append(b, dashTitleStyle.Render("reqtrack — Position Management"))
	b = append(b, dashMetricStyle.Render(m.metrics()))

	if m.filter != "" && m.mode == modeBrowse {
		b = append(b, dashMetricStyle.Render(fmt.Sprintf("Filter: %s (%d shown, esc clears)", m.filter, len(m.tbl.Rows()))))
	}
	if m.errNote != "" {
		b = append(b, dashErrorStyle.Render(m.errNote))
	}
	if m.loading {
		b = append(b, dashMetricStyle.Render("Loading positions..."))
	}

	b = append(b, m.tbl.View())

	switch m.mode {
	case modeCreateTitle:
		b = append(b, dashInputStyle.Render("New position title: "+m.titleInput.View()))
	case modeCreateDept:
		b = append(b, dashInputStyle.Render("Department: "+m.deptInput.View()))
	case modeFilter:
		b = append(b, dashInputStyle.Render("Filter: "+m.filterInput.View()))
	default:
		b = append(b, dashHelpStyle.Render("c create · f mark filled · / filter · r refresh · q quit"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, b...)
}
