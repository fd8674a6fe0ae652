package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-devirt/internal/devirt"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// summaryModel renders the post-rewrite fastcall/slowcall/devirtualized
// counts, plus a scrollable per-call-site table when the engine resolved a
// profile, in place of the wizard-style model the teacher's
// cmd/run/interactive.go drives a component instantiation with.
type summaryModel struct {
	outputPath string
	summary    devirt.Summary
	table      table.Model
	hasTable   bool
}

func newSummaryModel(summary devirt.Summary, outputPath string) *summaryModel {
	m := &summaryModel{outputPath: outputPath, summary: summary}
	if len(summary.Sites) > 0 {
		m.table = buildSiteTable(summary.Sites)
		m.hasTable = true
	}
	return m
}

func buildSiteTable(sites []devirt.SiteSummary) table.Model {
	columns := []table.Column{
		{Title: "site", Width: 8},
		{Title: "func", Width: 8},
		{Title: "disposition", Width: 14},
		{Title: "callees", Width: 8},
	}
	rows := make([]table.Row, len(sites))
	for i, s := range sites {
		rows[i] = table.Row{
			strconv.FormatUint(s.Index, 10),
			strconv.FormatUint(uint64(s.FuncIdx), 10),
			dispositionLabel(s.Kind),
			strconv.Itoa(s.CalleeLen),
		}
	}

	height := len(rows)
	if height > 12 {
		height = 12
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(styles)
	return t
}

func dispositionLabel(k devirt.MapKind) string {
	switch k {
	case devirt.MapDirect:
		return "devirtualized"
	case devirt.MapRetain:
		return "retained"
	case devirt.MapUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

func (m *summaryModel) Init() tea.Cmd { return nil }

func (m *summaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	}
	if m.hasTable {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "enter" {
		return m, tea.Quit
	}
	return m, nil
}

func (m *summaryModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmdevirt"))
	b.WriteString(" ")
	b.WriteString(m.outputPath)
	b.WriteString("\n\n")

	row := func(label string, value any) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-20s", label)))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%v", value)))
		b.WriteString("\n")
	}

	row("call sites", m.summary.CallSiteCount)
	row("fastcall", m.summary.FastcallCount)
	row("slowcall", m.summary.SlowcallCount)
	if m.hasTable {
		row("devirtualized", m.summary.DevirtualizedCount)
		row("retained", m.summary.RetainedCount)
		row("unreachable", m.summary.UnreachableCount)
		b.WriteString("\n")
		b.WriteString(m.table.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc/q quit"))
	} else {
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/q quit"))
	}

	return b.String()
}

func runInteractive(summary devirt.Summary, outputPath string) error {
	p := tea.NewProgram(newSummaryModel(summary, outputPath), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
