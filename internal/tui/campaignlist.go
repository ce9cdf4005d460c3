package tui

import (
	"fmt"

	"github.com/berinia/conductor/internal/models"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	statusPending   = lipgloss.NewStyle().Foreground(warningColor)
	statusRunning   = lipgloss.NewStyle().Foreground(cyanColor)
	statusCompleted = lipgloss.NewStyle().Foreground(successColor)
	statusFailed    = lipgloss.NewStyle().Foreground(errorColor)
)

// CampaignItem implements list.Item for the campaign list
type CampaignItem struct {
	models.Campaign
}

func (i CampaignItem) FilterValue() string { return i.Niche }

func (i CampaignItem) Title() string {
	if i.Location == "" {
		return i.Niche
	}
	return fmt.Sprintf("%s @ %s", i.Niche, i.Location)
}

func (i CampaignItem) Description() string {
	return fmt.Sprintf("%s  %s  %d/%d exported", formatStatus(i.Status), shortID(i.ID), i.Counts.Exported, i.Counts.Collected)
}

func formatStatus(status models.CampaignStatus) string {
	switch status {
	case models.CampaignStatusPending:
		return statusPending.Render("○ pending")
	case models.CampaignStatusRunning:
		return statusRunning.Render("◑ running")
	case models.CampaignStatusCompleted:
		return statusCompleted.Render("● done")
	case models.CampaignStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return string(status)
	}
}

var filters = []models.CampaignStatus{"", models.CampaignStatusPending, models.CampaignStatusRunning, models.CampaignStatusCompleted, models.CampaignStatusFailed}
var filterLabels = []string{"all", "pending", "running", "completed", "failed"}

// CampaignListModel manages the campaign list screen
type CampaignListModel struct {
	client      *Client
	list        list.Model
	filterIndex int
	loading     bool
}

// NewCampaignListModel creates a new campaign list model
func NewCampaignListModel(client *Client) *CampaignListModel {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 80, 20)
	l.Title = "Campaigns [all]"
	l.SetShowStatusBar(true)
	// The command input owns the keyboard; the list only navigates.
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = listTitleStyle

	return &CampaignListModel{
		client: client,
		list:   l,
	}
}

// SetSize sets the list dimensions
func (m *CampaignListModel) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// Len is the number of loaded campaigns
func (m *CampaignListModel) Len() int {
	return len(m.list.Items())
}

// Selected returns the currently selected campaign
func (m *CampaignListModel) Selected() *models.Campaign {
	if item, ok := m.list.SelectedItem().(CampaignItem); ok {
		return &item.Campaign
	}
	return nil
}

// IDs lists the loaded campaign IDs
func (m *CampaignListModel) IDs() []string {
	items := m.list.Items()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.(CampaignItem).ID)
	}
	return ids
}

// CycleFilter cycles through status filters
func (m *CampaignListModel) CycleFilter() tea.Cmd {
	m.filterIndex = (m.filterIndex + 1) % len(filters)
	m.list.Title = fmt.Sprintf("Campaigns [%s]", filterLabels[m.filterIndex])
	return m.Refresh()
}

// Refresh fetches campaigns from the API
func (m *CampaignListModel) Refresh() tea.Cmd {
	m.loading = true
	status := string(filters[m.filterIndex])
	return func() tea.Msg {
		campaigns, err := m.client.ListCampaigns(status)
		if err != nil {
			return errMsg{err}
		}
		return campaignsLoadedMsg{campaigns}
	}
}

// Update handles messages
func (m *CampaignListModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case campaignsLoadedMsg:
		m.loading = false
		items := make([]list.Item, len(msg.campaigns))
		for i, c := range msg.campaigns {
			items[i] = CampaignItem{c}
		}
		return m.list.SetItems(items)
	case errMsg:
		m.loading = false
		return nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

// View renders the campaign list
func (m *CampaignListModel) View() string {
	if m.loading && m.Len() == 0 {
		return "\n  Loading campaigns...\n"
	}
	if m.Len() == 0 {
		return "\n  No campaigns found. Type: start <niche> to queue one.\n"
	}
	return m.list.View()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

type campaignsLoadedMsg struct {
	campaigns []models.Campaign
}
