package tui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// Cancelled is returned by ShowMenu when the user leaves without choosing.
const Cancelled = "cancelled"

type menuModel struct {
	list   list.Model
	choice string
}

func (m *menuModel) Init() tea.Cmd { return nil }

func (m *menuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			if itm := m.list.SelectedItem(); itm != nil {
				m.choice = itm.(MenuItem).Key
			}
			return m, tea.Quit
		case "esc", "q", "ctrl+c":
			m.choice = Cancelled
			return m, tea.Quit
		case "up", "k":
			m.list.CursorUp()
			return m, nil
		case "down", "j":
			m.list.CursorDown()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *menuModel) View() string {
	if m.choice != "" {
		return ""
	}
	return m.list.View()
}

// ShowMenu blocks and returns the selected item's Key (or Cancelled).
func ShowMenu(items []MenuItem, title string) (string, error) {
	m := newMenu(items, title)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return "", err
	}
	return m.choice, nil
}
