package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dkeye/VoiceMesh/internal/app/mesh"
	"github.com/dkeye/VoiceMesh/internal/core/presence"
)

// NoticeView renders one orchestrator notice as a single line.
func NoticeView(n mesh.Notice) string {
	text := n.Text
	if n.Err != nil {
		text = fmt.Sprintf("%s: %v", text, n.Err)
	}
	switch n.Kind {
	case mesh.NoticeChat:
		return ChatNameStyle.Render(n.From+":") + " " + text
	case mesh.NoticeError:
		return ErrorStyle.Render(IconError + " " + text)
	case mesh.NoticeWarn:
		return WarningStyle.Render(IconWarning + " " + text)
	}
	if n.From != "" {
		return MutedStyle.Render(IconPeer + " " + n.From + " " + text)
	}
	return MutedStyle.Render(IconInfo + " " + text)
}

// PeerRow is one participant as the client sees it.
type PeerRow struct {
	Name    string
	State   presence.State
	Detail  string
}

func flags(s presence.State) string {
	var out []string
	if s.Voice {
		if s.Mic {
			out = append(out, IconMuted)
		} else {
			out = append(out, IconMic)
		}
	}
	if s.Speaker {
		out = append(out, "deaf")
	}
	if s.Sharing {
		out = append(out, IconScreen)
	}
	return strings.Join(out, " ")
}

// RosterView renders the room as a table.
func RosterView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here")
	}
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{r.Name, flags(r.State), r.Detail})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "Status", "Detail").
		Rows(data...).
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
	return tbl.Render()
}
