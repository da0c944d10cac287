package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"

	"mpy-sync/internal/upload"
	"mpy-sync/internal/util"
)

// UploadProgress prints one status line per uploaded file with a bar for
// the whole batch.
type UploadProgress struct {
	bar     progress.Model
	printer *util.SafePrinter
}

func NewUploadProgress(printer *util.SafePrinter) *UploadProgress {
	return &UploadProgress{
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		printer: printer,
	}
}

// Report matches upload.Runner's Progress callback.
func (p *UploadProgress) Report(label string, index, total int, action string) {
	pct := 1.0
	if total > 0 {
		pct = float64(index) / float64(total)
	}
	mark := "⬆"
	switch action {
	case upload.ActionSkip:
		mark = "="
	case upload.ActionFail:
		mark = "✗"
	}
	line := fmt.Sprintf("%s %d/%d %s %s", p.bar.ViewAs(pct), index, total, mark, label)
	if index < total {
		p.printer.Status(line)
		return
	}
	p.printer.PrintBlock(line, true)
}
