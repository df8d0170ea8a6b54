package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/warproom/internal/utils"
)

// Stats summarizes what happened during a chat session.
type Stats struct {
	Started          time.Time
	Ended            time.Time
	MessagesSent     int
	MessagesReceived int
	FilesSent        int
	FilesReceived    int
	BytesSent        int64
	BytesReceived    int64
}

func (s Stats) Duration() time.Duration {
	end := s.Ended
	if end.IsZero() {
		end = time.Now()
	}
	if s.Started.IsZero() || end.Before(s.Started) {
		return 0
	}
	return end.Sub(s.Started)
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// SummaryView renders the end-of-session table.
func SummaryView(s Stats) string {
	rows := [][]string{
		{"Duration", utils.FormatTimeDuration(s.Duration())},
		{"Messages", fmt.Sprintf("%d sent / %d received", s.MessagesSent, s.MessagesReceived)},
		{"Files", fmt.Sprintf("%d sent / %d received", s.FilesSent, s.FilesReceived)},
		{"Data", fmt.Sprintf("%s sent / %s received", utils.FormatSize(s.BytesSent), utils.FormatSize(s.BytesReceived))},
	}
	return newTable([]string{"Session", "Total"}, rows).Render()
}

func RenderSummary(s Stats) {
	fmt.Fprintln(Output, SummaryView(s))
}

// RoomInfoView renders the room code and how the peer joins it.
func RoomInfoView(code string) string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room Code:  %s\n%s Peer runs:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(code),
		IconPeer, MutedStyle.Render("warproom join "+code),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(code string) {
	fmt.Fprintln(Output, RoomInfoView(code))
}
