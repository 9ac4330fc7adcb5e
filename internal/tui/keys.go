package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Open       key.Binding
	Refresh    key.Binding
	SwitchPane key.Binding
	Back       key.Binding
	Send       key.Binding
	Older      key.Binding
	Newer      key.Binding
	Quit       key.Binding
	ForceQuit  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		SwitchPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Older:      key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "older")),
		Newer:      key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "newer")),
		Quit:       key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		ForceQuit:  key.NewBinding(key.WithKeys("ctrl+c")),
	}
}

// listHelp returns the bindings shown while the conversation list is focused.
func (k keyMap) listHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.SwitchPane, k.Refresh, k.Quit}
}

// chatHelp returns the bindings shown while the composer is focused.
func (k keyMap) chatHelp() []key.Binding {
	return []key.Binding{k.Send, k.Older, k.Newer, k.Back}
}
