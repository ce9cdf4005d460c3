package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const maxVisibleSuggestions = 5

// SuggestionItem is one completion candidate.
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "campaign" or "niche"
}

var commandSuggestions = []SuggestionItem{
	{Text: "start", Description: "Queue a campaign: start [niche] [target]", Type: "command"},
	{Text: "cancel", Description: "Cancel the selected campaign", Type: "command"},
	{Text: "open", Description: "Open a campaign by ID", Type: "command"},
	{Text: "review", Description: "Review decisions awaiting feedback", Type: "command"},
	{Text: "score", Description: "Score the selected decision: score <0-5> [comment]", Type: "command"},
	{Text: "stats", Description: "Show feedback statistics", Type: "command"},
	{Text: "decide", Description: "Evaluate a niche: decide <niche> [apply]", Type: "command"},
	{Text: "workers", Description: "Show the worker pool", Type: "command"},
	{Text: "filter", Description: "Cycle the campaign status filter", Type: "command"},
	{Text: "quit", Description: "Leave the TUI", Type: "command"},
}

var (
	suggestionBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(secondaryColor).Padding(0, 1)
	suggestionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	suggestionDescStyle   = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
)

// Suggestions completes "/" commands and "@" references typed in the input.
type Suggestions struct {
	trigger byte // 0 when closed
	query   string
	refs    []SuggestionItem
	matches []SuggestionItem
	cursor  int
	offset  int
}

// NewSuggestions returns a closed completion popup.
func NewSuggestions() *Suggestions {
	return &Suggestions{}
}

// Update recomputes the matches for the current input value.
func (s *Suggestions) Update(input string) {
	if input == "" || (input[0] != '/' && input[0] != '@') {
		*s = Suggestions{refs: s.refs}
		return
	}
	if input[0] != s.trigger {
		s.refs = nil
	}
	s.trigger = input[0]
	s.query = strings.ToLower(input[1:])
	s.match()
}

// SetReferences supplies the campaign IDs and niches offered after "@".
func (s *Suggestions) SetReferences(campaignIDs, niches []string) {
	if s.trigger != '@' {
		return
	}
	s.refs = s.refs[:0]
	for _, n := range niches {
		s.refs = append(s.refs, SuggestionItem{Text: n, Description: "Niche", Type: "niche"})
	}
	for _, id := range campaignIDs {
		s.refs = append(s.refs, SuggestionItem{Text: id, Description: "Campaign", Type: "campaign"})
	}
	s.match()
}

// match keeps candidates containing the query, prefix matches first.
func (s *Suggestions) match() {
	candidates := commandSuggestions
	if s.trigger == '@' {
		candidates = s.refs
	}

	s.matches = s.matches[:0]
	for _, item := range candidates {
		if strings.Contains(strings.ToLower(item.Text), s.query) {
			s.matches = append(s.matches, item)
		}
	}
	sort.SliceStable(s.matches, func(i, j int) bool {
		return strings.HasPrefix(strings.ToLower(s.matches[i].Text), s.query) &&
			!strings.HasPrefix(strings.ToLower(s.matches[j].Text), s.query)
	})
	s.cursor, s.offset = 0, 0
}

// Next moves the cursor down, wrapping at the end.
func (s *Suggestions) Next() { s.move(1) }

// Prev moves the cursor up, wrapping at the start.
func (s *Suggestions) Prev() { s.move(-1) }

func (s *Suggestions) move(delta int) {
	n := len(s.matches)
	if n == 0 {
		return
	}
	s.cursor = (s.cursor + delta + n) % n
	switch {
	case s.cursor < s.offset:
		s.offset = s.cursor
	case s.cursor >= s.offset+maxVisibleSuggestions:
		s.offset = s.cursor - maxVisibleSuggestions + 1
	}
}

// Selected returns the highlighted candidate, or nil when nothing is shown.
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.IsVisible() {
		return nil
	}
	return &s.matches[s.cursor]
}

func (s *Suggestions) IsVisible() bool {
	return s.trigger != 0 && len(s.matches) > 0
}

// Render draws the popup, scrolled so the cursor is always in view.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	header := "Commands"
	if s.trigger == '@' {
		header = "References"
	}
	lines := []string{suggestionHeaderStyle.Render(header)}

	end := s.offset + maxVisibleSuggestions
	if end > len(s.matches) {
		end = len(s.matches)
	}
	for i := s.offset; i < end; i++ {
		item := s.matches[i]
		if i == s.cursor {
			lines = append(lines, selectedStyle.Render(item.Text+"  "+item.Description))
			continue
		}
		lines = append(lines, itemStyle.Render(item.Text)+"  "+suggestionDescStyle.Render(item.Description))
	}
	if hidden := len(s.matches) - (end - s.offset); hidden > 0 {
		lines = append(lines, suggestionDescStyle.Render(fmt.Sprintf("  %d more", hidden)))
	}

	return suggestionBoxStyle.Width(width - 4).Render(strings.Join(lines, "\n"))
}
