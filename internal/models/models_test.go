package models

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionCampaign_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Campaign{ID: "c1", Status: CampaignStatusPending}

	require.NoError(t, TransitionCampaign(c, CampaignStatusRunning, now))
	require.NotNil(t, c.StartedAt)
	assert.Nil(t, c.CompletedAt)

	require.NoError(t, TransitionCampaign(c, CampaignStatusCompleted, now.Add(time.Minute)))
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, now.Add(time.Minute), *c.CompletedAt)

	err := TransitionCampaign(c, CampaignStatusRunning, now)
	require.Error(t, err)
	assert.Equal(t, CampaignStatusCompleted, c.Status)
}

func TestFail_AppendsSummary(t *testing.T) {
	c := &Campaign{ID: "c1", Status: CampaignStatusRunning}
	require.NoError(t, Fail(c, StageClassify, "classifier unreachable", time.Now()))

	assert.Equal(t, CampaignStatusFailed, c.Status)
	assert.Equal(t, []StageError{{Stage: StageClassify, Reason: "classifier unreachable"}}, c.ErrorSummary)
	assert.NotNil(t, c.CompletedAt)
}

func TestCampaignFilter_Matches(t *testing.T) {
	active := true
	inactive := false
	c := &Campaign{Niche: "Dentists", Status: CampaignStatusRunning}

	tests := []struct {
		name   string
		filter CampaignFilter
		want   bool
	}{
		{"empty", CampaignFilter{}, true},
		{"niche case-insensitive", CampaignFilter{Niche: "dentists"}, true},
		{"other niche", CampaignFilter{Niche: "plumbers"}, false},
		{"status", CampaignFilter{Status: CampaignStatusRunning}, true},
		{"wrong status", CampaignFilter{Status: CampaignStatusFailed}, false},
		{"active", CampaignFilter{Active: &active}, true},
		{"inactive", CampaignFilter{Active: &inactive}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(c))
		})
	}
}

func TestLeadValidateForExport(t *testing.T) {
	good := Lead{Name: "Ada", Email: "ada@example.com", CampaignID: "c1"}
	require.NoError(t, good.ValidateForExport())

	noCampaign := good
	noCampaign.CampaignID = ""
	assert.True(t, errors.Is(noCampaign.ValidateForExport(), ErrValidation))

	badEmail := good
	badEmail.Email = "ada@localhost"
	assert.True(t, errors.Is(badEmail.ValidateForExport(), ErrValidation))

	noName := good
	noName.Name = "  "
	assert.True(t, errors.Is(noName.ValidateForExport(), ErrValidation))
}

func TestExportRate(t *testing.T) {
	assert.Zero(t, (&Campaign{}).ExportRate())
	c := &Campaign{Counts: StageCounts{Collected: 10, Exported: 4}}
	assert.InDelta(t, 0.4, c.ExportRate(), 1e-9)
}

func TestTerminalStatesAreAbsorbing_Property(t *testing.T) {
	statuses := []CampaignStatus{
		CampaignStatusPending, CampaignStatusRunning, CampaignStatusCompleted, CampaignStatusFailed,
	}
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("no transition leaves a terminal state", prop.ForAll(
		func(path []int) bool {
			c := &Campaign{ID: "p", Status: CampaignStatusPending}
			reachedTerminal := false
			for _, i := range path {
				err := TransitionCampaign(c, statuses[i], time.Now())
				if reachedTerminal && err == nil {
					return false
				}
				if c.Status.IsTerminal() {
					reachedTerminal = true
				}
				if (c.CompletedAt != nil) != c.Status.IsTerminal() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(statuses)-1)),
	))

	properties.TestingRun(t)
}
