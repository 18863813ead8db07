package main

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the console key bindings.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	CheckIn  key.Binding
	CheckOut key.Binding
	Stop     key.Binding

	SetMax  key.Binding
	Reset   key.Binding
	Members key.Binding

	// Mock mode only.
	Simulate key.Binding
	Remove   key.Binding

	Submit key.Binding
	Cancel key.Binding
	Quit   key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "previous station"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next station"),
	),
	CheckIn: key.NewBinding(
		key.WithKeys("i"),
		key.WithHelp("i", "check-in"),
	),
	CheckOut: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "check-out"),
	),
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop"),
	),
	SetMax: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "max occupancy"),
	),
	Reset: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "reset (twice)"),
	),
	Members: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "cards inside"),
	),
	Simulate: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "insert card"),
	),
	Remove: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "remove card"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "submit"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
