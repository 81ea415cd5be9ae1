package chatui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/hypernetix/lms/pkg/chatinput"
)

var (
	promptStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	noteStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	spinnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	pasteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	pasteFocusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14"))
	cursorStyle     = lipgloss.NewStyle().Reverse(true)
	suggestionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

const prompt = "> "

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.generating && m.partial != "" {
		b.WriteString(m.partial)
		b.WriteString("\n\n")
	}

	if m.generating {
		b.WriteString(m.spinner.View())
		b.WriteString(statusStyle.Render(" generating, esc to stop"))
	} else {
		b.WriteString(statusStyle.Render(m.opts.Model + "  " + helpLine(m.keys.ShortHelp())))
	}
	b.WriteString("\n")

	for i, c := range m.suggestions {
		line := "  " + c.name
		if c.args != "" {
			line += " " + c.args
		}
		line += "  " + c.help
		if i == m.selected {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(suggestionStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(promptStyle.Render(prompt))
	b.WriteString(renderInput(m.input.Render()))
	return b.String()
}

func helpLine(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// renderInput styles placeholders and draws the cursor. The cursor on a
// placeholder highlights the whole placeholder; elsewhere it covers one
// character, or a trailing space at the end of the buffer.
func renderInput(r chatinput.Rendered) string {
	text := []rune(r.Text)

	var b strings.Builder
	pos := 0
	for i, h := range r.Highlights {
		b.WriteString(renderPlain(text, pos, h.Start, r.Cursor, r.Focus < 0))
		span := string(text[h.Start:h.End])
		if i == r.Focus {
			b.WriteString(pasteFocusStyle.Render(span))
		} else {
			b.WriteString(pasteStyle.Render(span))
		}
		pos = h.End
	}
	b.WriteString(renderPlain(text, pos, len(text), r.Cursor, r.Focus < 0))

	if r.Focus < 0 && r.Cursor >= len(text) {
		b.WriteString(cursorStyle.Render(" "))
	}
	return b.String()
}

// renderPlain renders text[from:to], drawing the cursor if it falls inside.
func renderPlain(text []rune, from, to, cursor int, showCursor bool) string {
	if !showCursor || cursor < from || cursor >= to {
		return string(text[from:to])
	}
	if text[cursor] == '\n' {
		return string(text[from:cursor]) + cursorStyle.Render(" ") + string(text[cursor:to])
	}
	return string(text[from:cursor]) + cursorStyle.Render(string(text[cursor])) + string(text[cursor+1:to])
}

// renderEntry formats a finished transcript entry for the scrollback.
func (m Model) renderEntry(e entry) string {
	switch e.role {
	case roleUser:
		return userStyle.Render(prompt) + e.text
	case roleAssistant:
		return renderMarkdown(e.text, m.width)
	case roleError:
		return errorStyle.Render(e.text)
	default:
		return noteStyle.Render(e.text)
	}
}

// renderMarkdown renders an assistant reply, falling back to the raw text.
func renderMarkdown(text string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
