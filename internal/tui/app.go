// Package tui provides the interactive terminal UI for conductor.
package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/scheduler"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// Screens
const (
	modeList    = "list"
	modeDetail  = "detail"
	modeReview  = "review"
	modeStats   = "stats"
	modeWorkers = "workers"
)

const reviewPageSize = 50

// App is the main TUI application model.
type App struct {
	client       *Client
	campaigns    *CampaignListModel
	detail       *CampaignDetailModel
	input        textinput.Model
	suggestions  *Suggestions
	width        int
	height       int
	mode         string
	message      string
	daemonOnline bool

	pending   []models.AgentLog
	reviewIdx int
	stats     map[string]*models.FeedbackStats
	workers   *scheduler.Stats
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: start <niche> | cancel | review | score <0-5> | decide <niche> | / for commands"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	client := NewClient(apiAddr)
	return &App{
		client:      client,
		campaigns:   NewCampaignListModel(client),
		detail:      NewCampaignDetailModel(client),
		input:       ti,
		suggestions: NewSuggestions(),
		mode:        modeList,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.campaigns.Refresh(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.campaigns.SetSize(msg.Width, a.contentHeight()-1)
		a.detail.SetSize(msg.Width, a.contentHeight())

	case campaignsLoadedMsg:
		cmds = append(cmds, a.campaigns.Update(msg))

	case campaignDetailLoadedMsg:
		cmds = append(cmds, a.detail.Update(msg))

	case pendingLoadedMsg:
		a.pending = msg.logs
		if a.reviewIdx >= len(a.pending) {
			a.reviewIdx = max(0, len(a.pending)-1)
		}

	case statsLoadedMsg:
		a.stats = msg.stats

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case workersFetchedMsg:
		a.workers = msg.stats
		if a.mode == modeWorkers {
			// Schedule the next tick only after the current fetch is complete.
			cmds = append(cmds, a.tickCmd())
		}

	case tickMsg:
		if a.mode == modeWorkers {
			return a, a.fetchWorkers()
		}

	case commandResultMsg:
		a.message = msg.message
		cmds = append(cmds, a.refreshCurrent())
		if msg.openID != "" {
			a.mode = modeDetail
			cmds = append(cmds, a.detail.SetCampaign(msg.openID))
		}

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		cmds = append(cmds, a.campaigns.Update(msg))
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		a.suggestions.SetReferences(a.campaigns.IDs(), a.knownNiches())
	}

	return a, tea.Batch(cmds...)
}

// handleKey processes navigation keys. Single-letter shortcuts only apply
// while the input is empty so they never swallow typed commands.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	typing := a.input.Value() != ""

	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "esc":
		if a.mode != modeList {
			a.mode = modeList
			return a.campaigns.Refresh(), true
		}

	case "up", "down", "pgup", "pgdown":
		if a.suggestions.IsVisible() {
			if msg.String() == "up" {
				a.suggestions.Prev()
			} else {
				a.suggestions.Next()
			}
			return nil, true
		}
		switch a.mode {
		case modeList:
			return a.campaigns.Update(msg), true
		case modeDetail:
			return a.detail.Update(msg), true
		case modeReview:
			if msg.String() == "up" && a.reviewIdx > 0 {
				a.reviewIdx--
			}
			if msg.String() == "down" && a.reviewIdx < len(a.pending)-1 {
				a.reviewIdx++
			}
			return nil, true
		}

	case "tab", "enter":
		if a.suggestions.IsVisible() {
			if selected := a.suggestions.Selected(); selected != nil {
				a.input.SetValue(selected.Text + " ")
				a.input.CursorEnd()
				a.suggestions.Update("")
			}
			return nil, true
		}
		if msg.String() == "tab" {
			if a.mode == modeList {
				return a.campaigns.CycleFilter(), true
			}
			return nil, true
		}
		if cmd := strings.TrimSpace(a.input.Value()); cmd != "" {
			a.input.SetValue("")
			return a.executeCommand(cmd), true
		}
		if a.mode == modeList {
			if c := a.campaigns.Selected(); c != nil {
				a.mode = modeDetail
				return a.detail.SetCampaign(c.ID), true
			}
		}
		return nil, true

	case "r":
		if !typing {
			return a.refreshCurrent(), true
		}

	case "v":
		if !typing {
			a.mode = modeReview
			return a.fetchPending(), true
		}

	case "s":
		if !typing {
			a.mode = modeStats
			return a.fetchStats(), true
		}

	case "w":
		if !typing {
			a.mode = modeWorkers
			return a.fetchWorkers(), true
		}
	}
	return nil, false
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("Conductor") + "  " + daemonStatus
	if len(a.pending) > 0 {
		header += "  " + lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("[%d to review]", len(a.pending)))
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	height := a.contentHeight()
	switch a.mode {
	case modeList:
		b.WriteString(a.campaigns.View())
	case modeDetail:
		b.WriteString(a.detail.View())
	case modeReview:
		b.WriteString(a.renderReviewPanel(height))
	case modeStats:
		b.WriteString(a.renderStatsPanel())
	case modeWorkers:
		b.WriteString(a.renderWorkersPanel())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Campaigns: %d | ↑↓:nav | Enter:open | Tab:filter | v:review | s:stats | w:workers | r:refresh | Ctrl+C:quit", a.campaigns.Len())
	case modeReview:
		status = fmt.Sprintf(" Pending: %d | ↑↓:nav | score <0-5> [comment] | Esc:back", len(a.pending))
	case modeWorkers:
		active := 0
		if a.workers != nil {
			active = a.workers.ActiveWorkers
		}
		status = fmt.Sprintf(" Workers: %d | Esc:back", active)
	default:
		status = " Esc:back | r:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) contentHeight() int {
	h := a.height - 8
	if h < 5 {
		h = 5
	}
	return h
}

func (a *App) knownNiches() []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range a.campaigns.list.Items() {
		n := item.(CampaignItem).Niche
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (a *App) renderReviewPanel(height int) string {
	var b strings.Builder
	b.WriteString("\n  Decisions awaiting feedback\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n\n")

	if len(a.pending) == 0 {
		b.WriteString("  Nothing to review.\n")
		return b.String()
	}

	start := 0
	if visible := height - 6; visible > 0 && a.reviewIdx >= visible {
		start = a.reviewIdx - visible + 1
	}
	for i := start; i < len(a.pending); i++ {
		l := a.pending[i]
		line := fmt.Sprintf("%-10s %s  %s", l.UnitID, shortID(l.CampaignID), truncate(l.Output, 60))
		if i == a.reviewIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + "\n")
			b.WriteString(helpStyle.Render("      "+truncate(l.InputSummary, 90)) + "\n")
		} else {
			b.WriteString(itemStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

func (a *App) renderStatsPanel() string {
	var b strings.Builder
	b.WriteString("\n  Feedback statistics\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n\n")

	if a.stats == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	units := make([]string, 0, len(a.stats))
	for u := range a.stats {
		units = append(units, u)
	}
	sort.Strings(units)
	for _, u := range units {
		s := a.stats[u]
		label := u
		if label == "" {
			label = "all units"
		}
		avgStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
		if s.AverageScore < 2.5 {
			avgStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
		}
		b.WriteString(fmt.Sprintf("  %-12s %s over %d (%d validated)\n", label,
			avgStyle.Render(fmt.Sprintf("%.2f", s.AverageScore)), s.TotalFeedbacks, s.Validated))
		d := s.Distribution
		b.WriteString(helpStyle.Render(fmt.Sprintf("               excellent %d  good %d  average %d  poor %d  bad %d",
			d.Excellent, d.Good, d.Average, d.Poor, d.Bad)) + "\n")
	}
	return b.String()
}

func (a *App) renderWorkersPanel() string {
	var b strings.Builder
	b.WriteString("\n  Worker pool\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n\n")

	if a.workers == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	stats := a.workers
	activeStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
	b.WriteString(fmt.Sprintf("  Active: %s / %d   Dispatched: %d\n\n",
		activeStyle.Render(strconv.Itoa(stats.ActiveWorkers)), stats.GlobalMax, stats.Dispatched))

	if len(stats.NicheCounts) > 0 {
		b.WriteString("  By niche:\n")
		niches := make([]string, 0, len(stats.NicheCounts))
		for n := range stats.NicheCounts {
			niches = append(niches, n)
		}
		sort.Strings(niches)
		for _, n := range niches {
			b.WriteString(fmt.Sprintf("    • %s: %d\n", n, stats.NicheCounts[n]))
		}
		b.WriteString("\n")
	}
	if len(stats.InFlight) == 0 {
		b.WriteString("  " + helpStyle.Render("No campaigns running") + "\n")
	}
	for _, id := range stats.InFlight {
		b.WriteString(fmt.Sprintf("    ◑ %s\n", id))
	}
	return b.String()
}

func (a *App) refreshCurrent() tea.Cmd {
	switch a.mode {
	case modeDetail:
		return a.detail.Refresh()
	case modeReview:
		return a.fetchPending()
	case modeStats:
		return a.fetchStats()
	case modeWorkers:
		return a.fetchWorkers()
	default:
		return a.campaigns.Refresh()
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, _ := a.client.CheckHealth()
		return daemonStatusMsg{online: ok}
	}
}

func (a *App) fetchPending() tea.Cmd {
	return func() tea.Msg {
		logs, err := a.client.PendingLogs(reviewPageSize)
		if err != nil {
			return errMsg{err}
		}
		return pendingLoadedMsg{logs}
	}
}

func (a *App) fetchStats() tea.Cmd {
	return func() tea.Msg {
		out := map[string]*models.FeedbackStats{}
		for _, unit := range []string{"", models.UnitClassifier, models.UnitDecider, models.UnitAnalyzer, models.UnitPivot} {
			s, err := a.client.FeedbackStats(unit)
			if err != nil {
				return errMsg{err}
			}
			out[unit] = s
		}
		return statsLoadedMsg{out}
	}
}

func (a *App) fetchWorkers() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.GetWorkers()
		if err != nil {
			return errMsg{err}
		}
		return workersFetchedMsg{stats}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) selectedCampaign() *models.Campaign {
	if a.mode == modeDetail && a.detail.campaign != nil {
		return a.detail.campaign
	}
	return a.campaigns.Selected()
}

func (a *App) selectedLog() *models.AgentLog {
	if len(a.pending) == 0 || a.reviewIdx >= len(a.pending) {
		return nil
	}
	return &a.pending[a.reviewIdx]
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	// Capture selection now; the command runs off the update loop.
	selected := a.selectedCampaign()
	log := a.selectedLog()
	known := a.campaigns.IDs()

	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit
	case "filter":
		return a.campaigns.CycleFilter()
	case "review":
		a.mode = modeReview
		return a.fetchPending()
	case "stats":
		a.mode = modeStats
		return a.fetchStats()
	case "workers":
		a.mode = modeWorkers
		return a.fetchWorkers()
	}

	return func() tea.Msg {
		switch cmd {
		case "start":
			niche, target := "", 0
			if len(args) > 0 {
				niche = args[0]
			}
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return commandResultMsg{message: "Usage: start [niche] [target]"}
				}
				target = n
			}
			c, err := a.client.StartCampaign(niche, target)
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ Queued %s campaign %s", c.Niche, shortID(c.ID))}

		case "cancel":
			if selected == nil {
				return commandResultMsg{message: "No campaign selected"}
			}
			if err := a.client.CancelCampaign(selected.ID); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: "✓ Cancel requested for " + shortID(selected.ID)}

		case "open":
			if len(args) < 1 {
				return commandResultMsg{message: "Usage: open <campaign-id>"}
			}
			return commandResultMsg{openID: args[0]}

		case "score":
			if log == nil {
				return commandResultMsg{message: "No decision selected (open review first)"}
			}
			if len(args) < 1 {
				return commandResultMsg{message: "Usage: score <0-5> [comment]"}
			}
			score, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return commandResultMsg{message: "Error: score must be a number"}
			}
			if err := a.client.AttachFeedback(log.ID, score, strings.Join(args[1:], " ")); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ Scored %s decision %.1f", log.UnitID, score)}

		case "decide":
			if len(args) < 1 {
				return commandResultMsg{message: "Usage: decide <niche> [apply]"}
			}
			apply := len(args) > 1 && args[1] == "apply"
			resp, err := a.client.Decide(args[0], apply)
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			msg := fmt.Sprintf("%s: %s (%s)", resp.Decision.Niche, resp.Decision.Action, resp.Decision.Justification)
			if resp.Queued != nil {
				msg += " → queued " + resp.Queued.Niche
			}
			return commandResultMsg{message: msg}

		default:
			for _, id := range known {
				if id == cmd {
					return commandResultMsg{openID: id}
				}
			}
			return commandResultMsg{message: fmt.Sprintf("Unknown: %s (try: start, cancel, review, score, decide)", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
	openID  string
}

type errMsg struct {
	err error
}

type pendingLoadedMsg struct {
	logs []models.AgentLog
}

type statsLoadedMsg struct {
	stats map[string]*models.FeedbackStats
}

type daemonStatusMsg struct {
	online bool
}

type workersFetchedMsg struct {
	stats *scheduler.Stats
}

type tickMsg time.Time
