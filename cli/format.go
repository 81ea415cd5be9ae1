package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-runewidth"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

// formatSize formats file size in a human-readable format
func formatSize(size int64) string {
	if size == 0 {
		return "N/A"
	}

	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// formatMaxContext formats max context length in human-readable format
func formatMaxContext(maxContext int) string {
	if maxContext == 0 {
		return "N/A"
	}
	if maxContext >= 1000 {
		return fmt.Sprintf("%dk", maxContext/1000)
	}
	return fmt.Sprintf("%d", maxContext)
}

// modelFormat returns the model format, inferred from the path when the
// server does not report it.
func modelFormat(m lmstudio.Model) string {
	if m.Format != "" {
		return m.Format
	}
	path := strings.ToLower(m.Path)
	switch {
	case strings.Contains(path, "gguf"):
		return "GGUF"
	case strings.Contains(path, "mlx"):
		return "MLX"
	case strings.Contains(path, "safetensors"):
		return "safetensors"
	default:
		return "N/A"
	}
}

// table writes aligned columns. Widths are measured in terminal cells so
// wide characters in model names keep the columns straight.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) write(w io.Writer, maxWidth int) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], min(runewidth.StringWidth(cell), maxWidth))
		}
	}

	line := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			cell = runewidth.Truncate(cell, widths[i], "...")
			if i < len(cells)-1 {
				cell = runewidth.FillRight(cell, widths[i])
			}
			parts[i] = cell
		}
		fmt.Fprintln(w, strings.Join(parts, "  "))
	}

	line(t.header)
	for _, row := range t.rows {
		line(row)
	}
}

const maxColumnWidth = 60

// printModels prints models in a table or as JSON.
func printModels(w io.Writer, models []lmstudio.Model, title string, jsonOutput bool) error {
	if jsonOutput {
		if models == nil {
			models = []lmstudio.Model{}
		}
		data, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal models: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	if len(models) == 0 {
		fmt.Fprintf(w, "No %s found\n", strings.ToLower(title))
		return nil
	}

	fmt.Fprintf(w, "%s:\n\n", title)
	t := &table{header: []string{"NAME", "TYPE", "FORMAT", "SIZE", "CONTEXT", "PATH"}}
	for _, m := range models {
		typ := m.Type
		if typ == "" {
			typ = "N/A"
		}
		ctxLen := formatMaxContext(m.MaxContextLength)
		if m.IsLoaded && m.ContextLength > 0 {
			ctxLen = formatMaxContext(m.ContextLength)
		}
		t.add(m.Name(), typ, modelFormat(m), formatSize(m.Size), ctxLen, m.Path)
	}
	t.write(w, maxColumnWidth)
	return nil
}

// progressPrinter redraws a single progress line on w.
type progressPrinter struct {
	w    io.Writer
	bar  progress.Model
	last string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	return &progressPrinter{w: w, bar: bar}
}

// update draws fraction with an optional suffix. Identical lines are not
// redrawn.
func (p *progressPrinter) update(fraction float64, suffix string) {
	line := p.bar.ViewAs(fraction)
	if suffix != "" {
		line += " " + suffix
	}
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintf(p.w, "\r%s", line)
}

// done ends the progress line.
func (p *progressPrinter) done() {
	if p.last != "" {
		fmt.Fprintln(p.w)
		p.last = ""
	}
}
