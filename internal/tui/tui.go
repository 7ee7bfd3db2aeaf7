package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trivia-pot/internal/config"
	"trivia-pot/internal/round"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const participantColumns = 3

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// fit truncates s to width display cells, marking the cut with "...".
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return padToWidth(s, width)
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return padToWidth(runewidth.Truncate(s, width, "..."), width)
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + fit(text, width-2) + "│"
}

// StatusMsg carries a new engine snapshot into the program.
type StatusMsg struct {
	Status round.Status
}

// Model holds the TUI state
type Model struct {
	pot    string
	status round.Status
	now    func() time.Time
	width  int
	height int
}

// NewModel creates a dashboard for the pot at address pot.
func NewModel(pot string) Model {
	return Model{pot: pot, now: time.Now}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	title := titleStyle.Render("trivia pot") + " (q to quit)"
	return lipgloss.JoinVertical(lipgloss.Left, title, m.renderHeader(), m.renderParticipants())
}

// renderHeader renders three columns: round, pot and claim.
func (m Model) renderHeader() string {
	st := m.status
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	roundID := st.RoundID
	if roundID == "" {
		roundID = "-"
	} else if len(roundID) > 8 {
		roundID = roundID[:8]
	}
	question := st.Question
	if question == "" {
		question = "-"
	}
	leftLines := []string{
		fmt.Sprintf("state: %s", st.State),
		fmt.Sprintf("round: %s", roundID),
		fmt.Sprintf("question: %s", question),
		fmt.Sprintf("answers: %d", st.Answers),
	}

	middleLines := []string{
		fmt.Sprintf("pot: %s", m.pot),
		fmt.Sprintf("pool: %s SOL", config.FormatSOL(st.Pool)),
		fmt.Sprintf("prize: %s SOL", config.FormatSOL(st.Prize)),
		fmt.Sprintf("biggest payout: %s SOL", config.FormatSOL(st.Highest)),
	}

	winner := st.Winner
	if winner == "" {
		winner = "-"
	}
	claim := "-"
	if st.Winner != "" && !st.ClaimDeadline.IsZero() {
		left := st.ClaimDeadline.Sub(m.now()).Truncate(time.Second)
		if left < 0 {
			left = 0
		}
		claim = left.String()
	}
	updated := "-"
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.Format("15:04:05")
	}
	rightLines := []string{
		fmt.Sprintf("winner: %s", winner),
		fmt.Sprintf("claim window: %s", claim),
		fmt.Sprintf("waiting players: %d", st.Lobby),
		fmt.Sprintf("updated: %s", updated),
	}

	rows := make([]string, 0, len(leftLines))
	for i := range leftLines {
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │",
			fit(leftLines[i], colWidth-2),
			fit(middleLines[i], colWidth-2),
			fit(rightLines[i], rightColWidth-2)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

// renderParticipants renders the players of the current round in columns.
func (m Model) renderParticipants() string {
	players := m.status.Participants
	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	if len(players) == 0 {
		return formatInfoLine("no round in progress", m.width) + "\n" + bottomBorder
	}

	// Title and header take seven lines, the legend and borders three more.
	maxRows := m.height - 10
	if maxRows <= 0 {
		return bottomBorder
	}

	cols := participantColumns
	colWidth := (m.width - 2 - (cols - 1)) / cols
	if colWidth < 12 {
		colWidth = 12
	}

	rows := (len(players) + cols - 1) / cols
	if rows > maxRows {
		rows = maxRows
	}

	lines := make([]string, 0, rows)
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, cols)
		for col := 0; col < cols; col++ {
			idx := row*cols + col
			if idx >= len(players) {
				cells = append(cells, strings.Repeat(" ", colWidth))
				continue
			}
			cells = append(cells, fit(fmt.Sprintf("%3d %s", idx+1, players[idx]), colWidth))
		}
		lines = append(lines, formatInfoLine(strings.Join(cells, "│"), m.width))
	}

	legend := fmt.Sprintf("ID, Participant address (%d players)", len(players))
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" + formatInfoLine(legend, m.width) + "\n" + bottomBorder
}

// Run starts the dashboard and feeds it engine snapshots until updates is
// closed, ctx is done or the user quits.
func Run(ctx context.Context, pot string, updates <-chan round.Status) error {
	p := tea.NewProgram(NewModel(pot), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-updates:
				if !ok {
					p.Quit()
					return
				}
				p.Send(StatusMsg{Status: st})
			}
		}
	}()

	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
