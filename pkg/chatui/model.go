// Package chatui is the interactive chat session of lms chat. It hosts a
// chatinput buffer, detects pastes, runs slash commands and streams model
// replies.
package chatui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hypernetix/lms/pkg/chatinput"
	"github.com/hypernetix/lms/pkg/lmstudio"
)

// Chatter streams a chat reply. *lmstudio.LMStudioClient implements it.
type Chatter interface {
	Chat(ctx context.Context, req lmstudio.ChatRequest, onFragment func(string)) (*lmstudio.ChatResult, error)
}

// Options configure a chat session.
type Options struct {
	Client       Chatter
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// LargePasteThreshold is the paste length from which a paste is kept
	// as one placeholder segment.
	LargePasteThreshold int
	// PasteWindow groups keystrokes arriving closer together than this
	// into one paste. Zero disables grouping; bracketed paste still works.
	PasteWindow time.Duration

	Logger lmstudio.Logger
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleNote
	roleError
)

type entry struct {
	role role
	text string
}

// Model is the bubbletea model of a chat session.
type Model struct {
	opts  Options
	keys  KeyMap
	input chatinput.State

	history    []lmstudio.ChatMessage
	transcript []entry

	// Keystrokes of a suspected paste, flushed by pasteFlushMsg.
	burst     string
	burstKeys int
	burstSeq  int

	suggestions []command
	selected    int

	generating bool
	partial    string
	stream     chan tea.Msg
	cancel     context.CancelFunc
	spinner    spinner.Model

	width    int
	quitting bool
}

type pasteFlushMsg struct{ seq int }

type streamFragmentMsg struct{ text string }

type streamDoneMsg struct {
	result *lmstudio.ChatResult
	err    error
}

// New creates a chat session.
func New(opts Options) Model {
	if opts.LargePasteThreshold < 1 {
		opts.LargePasteThreshold = 500
	}
	if opts.Logger == nil {
		opts.Logger = lmstudio.NewLoggerTo(io.Discard, lmstudio.LogLevelError)
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		opts:    opts,
		keys:    DefaultKeyMap(),
		input:   chatinput.Empty(),
		spinner: sp,
		width:   80,
	}
}

// Run runs an interactive session until the user quits.
func Run(opts Options) error {
	_, err := tea.NewProgram(New(opts)).Run()
	return err
}

// Input returns the current input buffer.
func (m Model) Input() chatinput.State {
	return m.input
}

// History returns the conversation sent with the next message.
func (m Model) History() []lmstudio.ChatMessage {
	return m.history
}

func (m Model) Init() tea.Cmd {
	return m.note(fmt.Sprintf("Chatting with %s. Type /help for commands.", m.opts.Model))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case pasteFlushMsg:
		if msg.seq != m.burstSeq {
			return m, nil
		}
		m.flushBurst()
		return m, nil

	case streamFragmentMsg:
		m.partial += msg.text
		return m, m.waitForStream()

	case streamDoneMsg:
		return m.finishStream(msg)

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.stopStream()
		m.quitting = true
		return m, tea.Quit
	}

	// Bracketed paste delivers the whole payload in one message.
	if msg.Paste {
		m.flushBurst()
		m.insertPaste(normalizeNewlines(string(msg.Runes)))
		return m, nil
	}

	if isTyped(msg) && m.opts.PasteWindow > 0 {
		cmd := m.addToBurst(string(msg.Runes), len(msg.Runes))
		return m, cmd
	}

	// Enter or Tab inside a burst belong to the pasted text.
	if m.burst != "" {
		switch msg.Type {
		case tea.KeyEnter, tea.KeyCtrlJ:
			cmd := m.addToBurst("\n", 1)
			return m, cmd
		case tea.KeyTab:
			cmd := m.addToBurst("\t", 1)
			return m, cmd
		}
		m.flushBurst()
	}

	if isTyped(msg) {
		m.setInput(m.input.InsertText(string(msg.Runes)))
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Cancel):
		if m.generating {
			m.stopStream()
			return m, nil
		}
		m.suggestions = nil
		return m, nil

	case key.Matches(msg, m.keys.Newline):
		m.setInput(m.input.InsertText("\n"))
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Complete):
		if len(m.suggestions) > 0 {
			m.setInput(m.input.InsertSuggestion(m.suggestions[m.selected].completion()))
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevSuggestion):
		if n := len(m.suggestions); n > 0 {
			m.selected = (m.selected - 1 + n) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.NextSuggestion):
		if n := len(m.suggestions); n > 0 {
			m.selected = (m.selected + 1) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.WordLeft):
		m.setInput(m.input.MoveWordLeft())
	case key.Matches(msg, m.keys.WordRight):
		m.setInput(m.input.MoveWordRight())
	case key.Matches(msg, m.keys.Left):
		m.setInput(m.input.MoveLeft())
	case key.Matches(msg, m.keys.Right):
		m.setInput(m.input.MoveRight())
	case key.Matches(msg, m.keys.LineStart):
		m.setInput(m.input.MoveToLineStart())
	case key.Matches(msg, m.keys.LineEnd):
		m.setInput(m.input.MoveToLineEnd())

	case key.Matches(msg, m.keys.DeleteWordBackward):
		m.setInput(m.input.DeleteWordBackward())
	case key.Matches(msg, m.keys.DeleteWordForward):
		m.setInput(m.input.DeleteWordForward())
	case key.Matches(msg, m.keys.DeleteBefore):
		m.setInput(m.input.DeleteBefore())
	case key.Matches(msg, m.keys.DeleteAfter):
		m.setInput(m.input.DeleteAfter())

	case key.Matches(msg, m.keys.ClearInput):
		m.setInput(chatinput.Empty())
	}
	return m, nil
}

// isTyped reports whether msg carries literal characters.
func isTyped(msg tea.KeyMsg) bool {
	return (msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace) && !msg.Alt && len(msg.Runes) > 0
}

// addToBurst buffers keystrokes and schedules a flush after the paste
// window. Every new keystroke postpones the flush.
func (m *Model) addToBurst(text string, keys int) tea.Cmd {
	m.burst += text
	m.burstKeys += keys
	m.burstSeq++
	seq := m.burstSeq
	return tea.Tick(m.opts.PasteWindow, func(time.Time) tea.Msg {
		return pasteFlushMsg{seq: seq}
	})
}

// flushBurst inserts buffered keystrokes. A single keystroke is typing;
// more than one arriving within the window is a paste.
func (m *Model) flushBurst() {
	if m.burst == "" {
		return
	}
	text := m.burst
	keys := m.burstKeys
	m.burst = ""
	m.burstKeys = 0
	m.burstSeq++

	if keys <= 1 {
		m.setInput(m.input.InsertText(text))
		return
	}
	m.insertPaste(normalizeNewlines(text))
}

func (m *Model) insertPaste(content string) {
	m.opts.Logger.Debug("Paste of %d characters", len([]rune(content)))
	m.setInput(m.input.InsertPaste(content, m.opts.LargePasteThreshold))
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// setInput replaces the buffer and refreshes command suggestions.
func (m *Model) setInput(s chatinput.State) {
	prev := len(m.suggestions)
	m.input = s
	m.suggestions = suggestions(s)
	if len(m.suggestions) != prev || m.selected >= len(m.suggestions) {
		m.selected = 0
	}
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.input.IsEmpty() {
		return m, nil
	}
	text := m.input.Content()

	if strings.HasPrefix(text, "/") && !m.input.HasPaste() {
		// Enter on a partial command accepts the selected suggestion.
		if len(m.suggestions) > 0 && !strings.Contains(text, " ") {
			c := m.suggestions[m.selected]
			if c.hasArgs {
				m.setInput(m.input.InsertSuggestion(c.completion()))
				return m, nil
			}
			text = c.name
		}
		if c, arg, ok := parseCommand(text); ok {
			m.setInput(chatinput.Empty())
			cmd := m.runCommand(c, arg)
			return m, cmd
		}
	}

	if m.generating {
		return m, nil
	}
	if m.opts.Client == nil {
		cmd := m.errorNote(errors.New("not connected to LM Studio"))
		return m, cmd
	}

	m.setInput(chatinput.Empty())
	m.history = append(m.history, lmstudio.ChatMessage{Role: lmstudio.RoleUser, Content: text})
	echo := m.record(roleUser, text)
	stream := m.startStream()
	return m, tea.Batch(echo, stream, m.spinner.Tick)
}

// startStream runs the prediction in a goroutine that feeds m.stream.
func (m *Model) startStream() tea.Cmd {
	messages := make([]lmstudio.ChatMessage, 0, len(m.history)+1)
	if m.opts.SystemPrompt != "" {
		messages = append(messages, lmstudio.ChatMessage{Role: lmstudio.RoleSystem, Content: m.opts.SystemPrompt})
	}
	messages = append(messages, m.history...)

	req := lmstudio.ChatRequest{
		Model:       m.opts.Model,
		Messages:    messages,
		Temperature: m.opts.Temperature,
		MaxTokens:   m.opts.MaxTokens,
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := make(chan tea.Msg, 64)
	m.cancel = cancel
	m.stream = stream
	m.generating = true
	m.partial = ""

	client := m.opts.Client
	go func() {
		defer close(stream)
		result, err := client.Chat(ctx, req, func(fragment string) {
			select {
			case stream <- streamFragmentMsg{text: fragment}:
			case <-ctx.Done():
			}
		})
		stream <- streamDoneMsg{result: result, err: err}
	}()

	return m.waitForStream()
}

func (m Model) waitForStream() tea.Cmd {
	stream := m.stream
	if stream == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-stream
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) stopStream() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m Model) finishStream(msg streamDoneMsg) (tea.Model, tea.Cmd) {
	m.stopStream()
	m.generating = false
	m.stream = nil
	m.cancel = nil

	reply := m.partial
	if msg.result != nil && msg.result.Content != "" {
		reply = msg.result.Content
	}
	m.partial = ""

	var cmds []tea.Cmd
	if reply != "" {
		m.history = append(m.history, lmstudio.ChatMessage{Role: lmstudio.RoleAssistant, Content: reply})
		cmds = append(cmds, m.record(roleAssistant, reply))
	}

	switch {
	case msg.err == nil:
		if msg.result != nil && msg.result.Stats.TokensPerSecond > 0 {
			s := msg.result.Stats
			cmds = append(cmds, m.note(fmt.Sprintf("%d tokens, %.1f tok/s", s.PredictedTokensCount, s.TokensPerSecond)))
		}
	case errors.Is(msg.err, context.Canceled):
		cmds = append(cmds, m.note("Generation stopped."))
	default:
		m.opts.Logger.Error("Chat failed: %v", msg.err)
		cmds = append(cmds, m.errorNote(msg.err))
	}
	return m, tea.Batch(cmds...)
}

// record appends to the transcript and prints the entry above the input.
func (m *Model) record(r role, text string) tea.Cmd {
	m.transcript = append(m.transcript, entry{role: r, text: text})
	return tea.Println(m.renderEntry(entry{role: r, text: text}))
}

func (m *Model) note(text string) tea.Cmd {
	return m.record(roleNote, text)
}

func (m *Model) errorNote(err error) tea.Cmd {
	return m.record(roleError, "Error: "+err.Error())
}
