package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"mpy-sync/internal/remotefs"
)

var (
	dirStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8be9fd")).Bold(true)
	fileStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f8f8f2"))
	sizeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	lineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#44475a"))
)

// RenderTree draws n and its descendants. depth < 0 means unlimited;
// depth 1 lists only direct children.
func RenderTree(n *remotefs.Node, depth int) string {
	var b strings.Builder
	b.WriteString(label(n, n.DisplayPath()))
	b.WriteByte('\n')
	renderChildren(&b, n, "", depth)
	return b.String()
}

func renderChildren(b *strings.Builder, n *remotefs.Node, indent string, depth int) {
	if !n.IsDir() || depth == 0 {
		return
	}
	children := n.Children()
	for i, c := range children {
		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}
		b.WriteString(lineStyle.Render(indent + branch))
		b.WriteString(label(c, c.Name()))
		b.WriteByte('\n')
		renderChildren(b, c, indent+next, depth-1)
	}
}

func label(n *remotefs.Node, name string) string {
	if n.IsDir() {
		if !strings.HasSuffix(name, "/") {
			name += "/"
		}
		return dirStyle.Render(name)
	}
	return fileStyle.Render(name) + "  " + sizeStyle.Render(humanize.IBytes(uint64(n.Len())))
}
