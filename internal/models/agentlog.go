package models

import "time"

// Decision units that write AgentLogs.
const (
	UnitClassifier = "classifier"
	UnitDecider    = "decider"
	UnitAnalyzer   = "analyzer"
	UnitPivot      = "pivot"
)

// Feedback sources.
const (
	FeedbackSourceHuman = "human"
	FeedbackSourceAgent = "agent"
)

// MaxFeedbackScore is the top of the feedback scale; the bottom is 0.
const MaxFeedbackScore = 5.0

// Feedback is a quality rating attached to one AgentLog.
type Feedback struct {
	Score     float64   `json:"score"`
	Text      string    `json:"text,omitempty"`
	Source    string    `json:"source"`
	Validated bool      `json:"validated"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentLog records one decision made by a decision unit.
type AgentLog struct {
	ID           string    `json:"id"`
	UnitID       string    `json:"unit_id"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	InputSummary string    `json:"input_summary"`
	InputsHash   string    `json:"inputs_hash"`
	Output       string    `json:"output"`
	Feedback     *Feedback `json:"feedback,omitempty"`
}

// AgentLogFilter narrows ListAgentLogs results.
type AgentLogFilter struct {
	UnitID     string
	CampaignID string
	// Pending selects logs that have no feedback yet.
	Pending bool
	Limit   int
}

// Distribution buckets scored logs by quality band.
type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Average   int `json:"average"`
	Poor      int `json:"poor"`
	Bad       int `json:"bad"`
}

// FeedbackStats summarizes the feedback attached to a set of AgentLogs.
type FeedbackStats struct {
	UnitID         string         `json:"unit_id,omitempty"`
	TotalFeedbacks int            `json:"total_feedbacks"`
	AverageScore   float64        `json:"average_score"`
	Distribution   Distribution   `json:"distribution"`
	BySource       map[string]int `json:"by_source"`
	Validated      int            `json:"validated"`
}

// UnitQuality is the persisted average feedback score of a decision unit.
type UnitQuality struct {
	UnitID        string    `json:"unit_id"`
	AverageScore  float64   `json:"average_score"`
	FeedbackCount int       `json:"feedback_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PivotAction is the recommendation produced for a niche.
type PivotAction string

const (
	PivotContinue  PivotAction = "continue"
	PivotPivot     PivotAction = "pivot"
	PivotDuplicate PivotAction = "duplicate"
)

// PivotDecision is the outcome of evaluating a niche.
type PivotDecision struct {
	Niche                string      `json:"niche"`
	Action               PivotAction `json:"action"`
	Justification        string      `json:"justification"`
	ExportRate           float64     `json:"export_rate"`
	HistoricalExportRate float64     `json:"historical_export_rate"`
	FeedbackAverage      float64     `json:"feedback_average"`
	FeedbackCount        int         `json:"feedback_count"`
	Exhausted            bool        `json:"exhausted"`
	CampaignsConsidered  int         `json:"campaigns_considered"`
	RecentCampaignID     string      `json:"recent_campaign_id,omitempty"`
	LogID                string      `json:"log_id,omitempty"`
	DecidedAt            time.Time   `json:"decided_at"`
}
