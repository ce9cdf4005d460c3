package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			MarginTop(1)
)

// CampaignDetailModel manages the campaign detail screen
type CampaignDetailModel struct {
	client     *Client
	campaignID string
	campaign   *models.Campaign
	viewport   viewport.Model
}

// NewCampaignDetailModel creates a new campaign detail model
func NewCampaignDetailModel(client *Client) *CampaignDetailModel {
	return &CampaignDetailModel{
		client:   client,
		viewport: viewport.New(80, 20),
	}
}

// SetCampaign sets the campaign ID to display
func (m *CampaignDetailModel) SetCampaign(id string) tea.Cmd {
	m.campaignID = id
	m.campaign = nil
	m.viewport.GotoTop()
	return m.Refresh()
}

// SetSize sets the dimensions
func (m *CampaignDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
}

// Refresh fetches campaign details
func (m *CampaignDetailModel) Refresh() tea.Cmd {
	id := m.campaignID
	return func() tea.Msg {
		c, err := m.client.GetCampaign(id)
		if err != nil {
			return errMsg{err}
		}
		return campaignDetailLoadedMsg{c}
	}
}

// Update handles messages
func (m *CampaignDetailModel) Update(msg tea.Msg) tea.Cmd {
	if loaded, ok := msg.(campaignDetailLoadedMsg); ok {
		if loaded.campaign.ID != m.campaignID {
			return nil
		}
		m.campaign = loaded.campaign
		m.viewport.SetContent(renderCampaign(m.campaign))
		return nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

// View renders the campaign detail
func (m *CampaignDetailModel) View() string {
	if m.campaign == nil {
		return "\n  Loading campaign details...\n"
	}
	return m.viewport.View()
}

func renderCampaign(c *models.Campaign) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s", c.Niche, c.Location)))
	b.WriteString("\n\n")

	b.WriteString(renderField("ID", c.ID))
	b.WriteString(renderField("Status", formatStatus(c.Status)))
	b.WriteString(renderField("Target", fmt.Sprintf("%d leads", c.TargetLeadCount)))
	if c.ParentID != "" {
		b.WriteString(renderField("Follows", c.ParentID))
	}
	b.WriteString(renderField("Created", c.CreatedAt.Local().Format(time.DateTime)))
	if c.StartedAt != nil && c.CompletedAt != nil {
		b.WriteString(renderField("Duration", c.CompletedAt.Sub(*c.StartedAt).Round(time.Millisecond).String()))
	}
	b.WriteString(renderField("Export rate", fmt.Sprintf("%.1f%%", c.ExportRate()*100)))

	b.WriteString(sectionStyle.Render("Stages"))
	b.WriteString("\n")
	for _, st := range c.Stages {
		if st.Skipped {
			b.WriteString(fmt.Sprintf("  %-9s %s\n", st.Stage, labelStyle.Render("skipped")))
			continue
		}
		b.WriteString(fmt.Sprintf("  %-9s in %-4d kept %-4d dropped %-4d errored %-4d %dms\n",
			st.Stage, st.Input, st.Kept, st.Dropped, st.Errored, st.DurationMS))
		reasons := make([]string, 0, len(st.Reasons))
		for r := range st.Reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			b.WriteString(labelStyle.Render(fmt.Sprintf("            %d × %s", st.Reasons[r], r)))
			b.WriteString("\n")
		}
	}

	if len(c.ErrorSummary) > 0 {
		b.WriteString(sectionStyle.Render("Errors"))
		b.WriteString("\n")
		for _, e := range c.ErrorSummary {
			b.WriteString(statusFailed.Render(fmt.Sprintf("  [%s] %s", e.Stage, e.Reason)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

type campaignDetailLoadedMsg struct {
	campaign *models.Campaign
}
