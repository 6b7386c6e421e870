package cmd

import (
	"fmt"
	"io"

	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/session"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch model.Phase(status) {
	case model.PhaseCompleted:
		return colorGreen + "✓" + colorReset
	case model.PhaseFailed:
		return colorRed + "✗" + colorReset
	case model.PhaseProcessing:
		return colorYellow + "⏳" + colorReset
	case model.PhaseQueued:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch model.Phase(status) {
	case model.PhaseCompleted:
		return icon + " " + colorGreen + status + colorReset
	case model.PhaseFailed:
		return icon + " " + colorRed + status + colorReset
	case model.PhaseProcessing:
		return icon + " " + colorYellow + status + colorReset
	case model.PhaseQueued:
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

// viewPrinter writes what changed between successive views: phase
// transitions, new log entries and slides as they complete.
type viewPrinter struct {
	out    io.Writer
	phase  model.Phase
	logs   map[string]bool
	slides map[int]bool
	failed bool
}

func newViewPrinter(out io.Writer) *viewPrinter {
	return &viewPrinter{out: out, logs: make(map[string]bool), slides: make(map[int]bool)}
}

func (p *viewPrinter) render(v session.View) {
	if v.Phase != "" && v.Phase != p.phase {
		p.phase = v.Phase
		fmt.Fprintf(p.out, "%s %sphase%s %s\n", statusIcon(string(v.Phase)), colorBold, colorReset, v.Phase)
	}
	for _, entry := range v.Logs {
		key := entry.Key()
		if p.logs[key] {
			continue
		}
		p.logs[key] = true
		fmt.Fprintf(p.out, "%s[%s]%s %s\n", colorDim, entry.Author, colorReset, entry.Content)
	}
	for _, slide := range v.Slides {
		if !slide.IsComplete || p.slides[slide.SlideNumber] {
			continue
		}
		p.slides[slide.SlideNumber] = true
		size := 0
		if slide.HTMLContent != nil {
			size = len(*slide.HTMLContent)
		}
		fmt.Fprintf(p.out, "%s■%s slide %d ready (%d bytes)\n", colorCyan, colorReset, slide.SlideNumber, size)
	}
	if v.Phase == model.PhaseFailed && v.Error != "" && !p.failed {
		p.failed = true
		fmt.Fprintf(p.out, "%serror:%s %s\n", colorRed, colorReset, v.Error)
	}
}
