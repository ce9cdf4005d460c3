package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berinia/conductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientListAndScore(t *testing.T) {
	var scored models.Feedback
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/campaigns":
			assert.Equal(t, "running", r.URL.Query().Get("status"))
			json.NewEncoder(w).Encode([]models.Campaign{{ID: "c1", Niche: "bakery", Status: models.CampaignStatusRunning}})
		case "/logs/log-1/feedback":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&scored))
			json.NewEncoder(w).Encode(models.AgentLog{ID: "log-1"})
		case "/logs/missing/feedback":
			http.Error(w, "not found", http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	campaigns, err := c.ListCampaigns("running")
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "bakery", campaigns[0].Niche)

	require.NoError(t, c.AttachFeedback("log-1", 4, "solid"))
	assert.Equal(t, 4.0, scored.Score)
	assert.Equal(t, models.FeedbackSourceHuman, scored.Source)

	err = c.AttachFeedback("missing", 1, "")
	assert.ErrorContains(t, err, "not found")
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("/sc")
	require.True(t, s.IsVisible())
	assert.Equal(t, "score", s.Selected().Text)

	s.Update("@bak")
	s.SetReferences([]string{"c1"}, []string{"bakery", "florist"})
	require.True(t, s.IsVisible())
	assert.Equal(t, "bakery", s.Selected().Text)

	s.Update("plain text")
	assert.False(t, s.IsVisible())
}

func TestSuggestionsRankPrefixMatchesFirst(t *testing.T) {
	s := NewSuggestions()

	s.Update("/s")
	require.True(t, s.IsVisible())
	var got []string
	for range commandSuggestions {
		if item := s.Selected(); item != nil && !contains(got, item.Text) {
			got = append(got, item.Text)
		}
		s.Next()
	}
	assert.Equal(t, []string{"start", "score", "stats", "workers"}, got)
}

func TestSuggestionsScrollKeepsCursorVisible(t *testing.T) {
	s := NewSuggestions()
	s.Update("/")
	require.Len(t, s.matches, len(commandSuggestions))

	s.Prev()
	assert.Equal(t, "quit", s.Selected().Text)
	assert.Contains(t, s.Render(80), "quit")
	assert.NotContains(t, s.Render(80), "start")

	s.Next()
	assert.Equal(t, "start", s.Selected().Text)
	assert.Contains(t, s.Render(80), "start")
	assert.Contains(t, s.Render(80), "5 more")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCampaignItem(t *testing.T) {
	item := CampaignItem{models.Campaign{ID: "0123456789", Niche: "bakery", Location: "Paris"}}
	assert.Equal(t, "bakery @ Paris", item.Title())
	assert.Contains(t, item.Description(), "01234567")
	assert.Equal(t, "bakery", item.FilterValue())
}
