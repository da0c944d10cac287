package tui

import (
	"io"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

// MenuItem is one entry of the interactive menu. Key is returned on
// selection; Hint is shown dimmed next to the label.
type MenuItem struct {
	Key   string
	Label string
	Hint  string
}

func (m MenuItem) Title() string       { return m.Label }
func (m MenuItem) Description() string { return m.Hint }
func (m MenuItem) FilterValue() string { return m.Label }

// compactDelegate renders one line per item with no spacing.
type compactDelegate struct{ list.DefaultDelegate }

func (d compactDelegate) Height() int  { return 1 }
func (d compactDelegate) Spacing() int { return 0 }

func (d compactDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it := listItem.(MenuItem)
	title, desc := d.Styles.NormalTitle, d.Styles.NormalDesc
	prefix := "  "
	if index == m.Index() {
		title, desc = d.Styles.SelectedTitle, d.Styles.SelectedDesc
		prefix = "> "
	}
	line := title.Render(prefix + it.Label)
	if it.Hint != "" {
		line += " " + desc.Render(it.Hint)
	}
	_, _ = io.WriteString(w, line)
}

func newMenu(items []MenuItem, title string) *menuModel {
	lItems := make([]list.Item, 0, len(items))
	for _, it := range items {
		lItems = append(lItems, it)
	}

	delegate := compactDelegate{list.NewDefaultDelegate()}
	delegate.Styles.SelectedTitle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff79c6")).Bold(true)
	delegate.Styles.SelectedDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("#8be9fd"))
	delegate.Styles.NormalTitle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f8f8f2"))
	delegate.Styles.NormalDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))

	l := list.New(lItems, delegate, 60, len(items)+4)
	l.Title = title
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowPagination(false)

	return &menuModel{list: l}
}
