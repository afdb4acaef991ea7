package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/maigret-api/internal/client"
	"github.com/raphaelgruber/maigret-api/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the session status
type tickMsg time.Time

// statusMsg carries the polled status
type statusMsg struct {
	view *models.StatusView
	err  error
}

// statusFetcher is the part of the API client the progress view needs.
type statusFetcher interface {
	Status(ctx context.Context, id string) (*models.StatusView, error)
}

// progressModel is the bubbletea model for a running search.
type progressModel struct {
	client    statusFetcher
	sessionID string
	usernames []string
	view      *models.StatusView
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

func newProgressModel(c statusFetcher, sess *models.Session) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:    c,
		sessionID: sess.ID,
		usernames: sess.Usernames,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch search status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.view = msg.view

		switch m.view.Status {
		case models.StatusCompleted:
			m.done = true
			return m, tea.Quit
		case models.StatusFailed:
			m.done = true
			m.err = fmt.Errorf("search failed (see 'maigretctl status %s')", m.sessionID)
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.view == nil {
		return fmt.Sprintf("Starting search for %s...\n", strings.Join(m.usernames, ", "))
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.view.Status))
	bar := m.progress.ViewAs(float64(m.view.Progress) / 100)

	counts := fmt.Sprintf("%3d%%", m.view.Progress)
	if m.view.TotalSites > 0 {
		counts += fmt.Sprintf("  %d/%d sites", m.view.SitesChecked, m.view.TotalSites)
	}
	if m.view.ResultsFound > 0 {
		counts += fmt.Sprintf("  %d found", m.view.ResultsFound)
	}

	site := ""
	if m.view.CurrentSite != nil {
		site = "  " + *m.view.CurrentSite
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, bar, counts, site, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nSearch %s continues in background.\nUse 'maigretctl status %s' to check status.\n",
			m.sessionID, m.sessionID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	found := 0
	if m.view != nil {
		found = m.view.ResultsFound
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("✓ Completed, %d accounts found\n", found))
}

// fetchStatus polls the server in a command to avoid blocking Update().
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		view, err := m.client.Status(ctx, m.sessionID)
		return statusMsg{view: view, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunSearchProgress runs the interactive progress UI for a session.
// It reports whether the search completed. Ctrl+C leaves it running and
// returns (false, nil); a failed search returns an error.
func RunSearchProgress(c *client.Client, sess *models.Session) (bool, error) {
	model := newProgressModel(c, sess)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok || m.quitting {
		return false, nil
	}
	if m.err != nil {
		return false, m.err
	}
	return m.done, nil
}
