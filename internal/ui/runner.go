package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// RunChat shows the chat view until the user quits or the session ends,
// then returns the collected stats.
func RunChat(ctx context.Context, d Driver, room string) (Stats, error) {
	m := NewChatModel(ctx, d, room)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return m.Stats(), fmt.Errorf("chat view: %w", err)
	}
	if cm, ok := final.(*ChatModel); ok {
		return cm.Stats(), nil
	}
	return m.Stats(), nil
}
