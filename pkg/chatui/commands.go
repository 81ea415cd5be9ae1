package chatui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hypernetix/lms/pkg/chatinput"
)

type command struct {
	name    string
	args    string
	help    string
	hasArgs bool
}

var commands = []command{
	{name: "/help", help: "show commands and keys"},
	{name: "/clear", help: "start a new conversation"},
	{name: "/model", args: "<key>", help: "switch model", hasArgs: true},
	{name: "/system", args: "<prompt>", help: "set the system prompt", hasArgs: true},
	{name: "/exit", help: "quit"},
}

// suggestions returns the commands completing the buffer. The buffer must
// be a single slash-word without pastes.
func suggestions(input chatinput.State) []command {
	if input.HasPaste() {
		return nil
	}
	text := input.Content()
	if !strings.HasPrefix(text, "/") || strings.ContainsAny(text, " \t\n") {
		return nil
	}
	var out []command
	for _, c := range commands {
		if strings.HasPrefix(c.name, text) {
			out = append(out, c)
		}
	}
	// An exact match of a command without arguments needs no completion.
	if len(out) == 1 && out[0].name == text && !out[0].hasArgs {
		return nil
	}
	return out
}

// completion is the buffer text after accepting c.
func (c command) completion() string {
	if c.hasArgs {
		return c.name + " "
	}
	return c.name
}

// parseCommand splits "/name arg..." into the command and its argument.
func parseCommand(text string) (cmd command, arg string, ok bool) {
	name, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	for _, c := range commands {
		if c.name == name {
			return c, strings.TrimSpace(arg), true
		}
	}
	return command{}, "", false
}

// runCommand executes a parsed slash command.
func (m *Model) runCommand(c command, arg string) tea.Cmd {
	switch c.name {
	case "/help":
		return m.cmdHelp()
	case "/clear":
		return m.cmdClear()
	case "/model":
		return m.cmdModel(arg)
	case "/system":
		return m.cmdSystem(arg)
	case "/exit":
		m.quitting = true
		return tea.Quit
	}
	return m.note(fmt.Sprintf("Unknown command %s.", c.name))
}

func (m *Model) cmdHelp() tea.Cmd {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range commands {
		usage := c.name
		if c.args != "" {
			usage += " " + c.args
		}
		fmt.Fprintf(&b, "  %-18s %s\n", usage, c.help)
	}
	b.WriteString("Keys:\n")
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		fmt.Fprintf(&b, "  %-18s %s\n", h.Key, h.Desc)
	}
	fmt.Fprintf(&b, "Pastes of %d characters or more are kept as one [Pasted N characters] block.", m.opts.LargePasteThreshold)
	return m.note(b.String())
}

func (m *Model) cmdClear() tea.Cmd {
	m.history = nil
	return m.note("Conversation cleared.")
}

func (m *Model) cmdModel(arg string) tea.Cmd {
	if arg == "" {
		return m.note(fmt.Sprintf("Current model: %s", m.opts.Model))
	}
	m.opts.Model = arg
	return m.note(fmt.Sprintf("Switched to %s.", arg))
}

func (m *Model) cmdSystem(arg string) tea.Cmd {
	m.opts.SystemPrompt = arg
	if arg == "" {
		return m.note("System prompt cleared.")
	}
	return m.note("System prompt set.")
}
