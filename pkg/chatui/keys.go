package chatui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the chat session.
type KeyMap struct {
	Submit         key.Binding
	Newline        key.Binding
	Complete       key.Binding
	PrevSuggestion key.Binding
	NextSuggestion key.Binding

	Left      key.Binding
	Right     key.Binding
	WordLeft  key.Binding
	WordRight key.Binding
	LineStart key.Binding
	LineEnd   key.Binding

	DeleteBefore       key.Binding
	DeleteAfter        key.Binding
	DeleteWordBackward key.Binding
	DeleteWordForward  key.Binding

	ClearInput key.Binding
	Cancel     key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default bindings. Word and line motions accept
// both the arrow-key and the readline forms.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Newline: key.NewBinding(
			key.WithKeys("alt+enter", "ctrl+j"),
			key.WithHelp("alt+enter", "newline"),
		),
		Complete: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "complete command"),
		),
		PrevSuggestion: key.NewBinding(key.WithKeys("up")),
		NextSuggestion: key.NewBinding(key.WithKeys("down")),

		Left:      key.NewBinding(key.WithKeys("left", "ctrl+b")),
		Right:     key.NewBinding(key.WithKeys("right", "ctrl+f")),
		WordLeft:  key.NewBinding(key.WithKeys("ctrl+left", "alt+left", "alt+b")),
		WordRight: key.NewBinding(key.WithKeys("ctrl+right", "alt+right", "alt+f")),
		LineStart: key.NewBinding(key.WithKeys("home", "ctrl+a")),
		LineEnd:   key.NewBinding(key.WithKeys("end", "ctrl+e")),

		DeleteBefore:       key.NewBinding(key.WithKeys("backspace", "ctrl+h")),
		DeleteAfter:        key.NewBinding(key.WithKeys("delete", "ctrl+d")),
		DeleteWordBackward: key.NewBinding(key.WithKeys("ctrl+w", "alt+backspace")),
		DeleteWordForward:  key.NewBinding(key.WithKeys("alt+d", "alt+delete")),

		ClearInput: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "clear input"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "stop generating"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Newline, k.Cancel, k.Quit}
}
