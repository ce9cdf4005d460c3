// Package models defines the core domain types for conductor.
package models

import (
	"strings"
	"time"
)

// CampaignStatus represents the current state of a campaign.
type CampaignStatus string

const (
	CampaignStatusPending   CampaignStatus = "pending"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether the status is absorbing.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// StageName identifies a pipeline stage.
type StageName string

const (
	StageCollect  StageName = "collect"
	StageClean    StageName = "clean"
	StageClassify StageName = "classify"
	StageEnrich   StageName = "enrich"
	StageDecide   StageName = "decide"
	StageMessage  StageName = "message"
	StageExport   StageName = "export"
	StageAnalyze  StageName = "analyze"
)

// Well-known failure reasons written into a campaign's error summary.
const (
	ReasonCancelled   = "cancelled"
	ReasonInterrupted = "interrupted"
	ReasonNoLeads     = "no leads collected"
)

// StageCounts holds the per-stage lead counts of a campaign.
type StageCounts struct {
	Collected  int `json:"collected"`
	Cleaned    int `json:"cleaned"`
	Classified int `json:"classified"`
	Exported   int `json:"exported"`
	Contacted  int `json:"contacted"`
}

// Set records the kept count for the stage that owns a counter.
// Stages without a counter are ignored.
func (c *StageCounts) Set(stage StageName, n int) {
	switch stage {
	case StageCollect:
		c.Collected = n
	case StageClean:
		c.Cleaned = n
	case StageClassify:
		c.Classified = n
	case StageMessage:
		c.Contacted = n
	case StageExport:
		c.Exported = n
	}
}

// StageError is one entry of a campaign's error summary.
type StageError struct {
	Stage  StageName `json:"stage"`
	Reason string    `json:"reason"`
}

// StageMetrics records what happened inside one stage of a run.
type StageMetrics struct {
	Stage      StageName      `json:"stage"`
	Input      int            `json:"input"`
	Kept       int            `json:"kept"`
	Dropped    int            `json:"dropped"`
	Errored    int            `json:"errored"`
	Skipped    bool           `json:"skipped,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Reasons    map[string]int `json:"reasons,omitempty"`
}

// Campaign is one run of the pipeline for a niche and location.
type Campaign struct {
	ID              string         `json:"id"`
	Niche           string         `json:"niche"`
	Location        string         `json:"location"`
	TargetLeadCount int            `json:"target_lead_count"`
	Status          CampaignStatus `json:"status"`
	ParentID        string         `json:"parent_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Counts          StageCounts    `json:"counts"`
	ErrorSummary    []StageError   `json:"error_summary"`
	Stages          []StageMetrics `json:"stages,omitempty"`
}

// ExportRate is exported leads over collected leads, 0 when nothing was collected.
func (c *Campaign) ExportRate() float64 {
	if c.Counts.Collected == 0 {
		return 0
	}
	return float64(c.Counts.Exported) / float64(c.Counts.Collected)
}

// CampaignFilter narrows ListCampaigns results. Zero fields match everything.
type CampaignFilter struct {
	Status CampaignStatus
	Niche  string
	// Active selects non-terminal campaigns when true, terminal ones when false.
	Active *bool
}

// Matches reports whether c satisfies the filter.
func (f CampaignFilter) Matches(c *Campaign) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Niche != "" && !strings.EqualFold(f.Niche, c.Niche) {
		return false
	}
	if f.Active != nil && *f.Active == c.Status.IsTerminal() {
		return false
	}
	return true
}

// Lock is a time-bounded claim on a niche held by one campaign.
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
