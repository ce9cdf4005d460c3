package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/store"
	"go.uber.org/zap"
)

// CampaignReader loads the campaign a decision belongs to.
type CampaignReader interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
}

// EvaluationReport summarizes one evaluation pass.
type EvaluationReport struct {
	Examined     int     `json:"examined"`
	Scored       int     `json:"scored"`
	Skipped      int     `json:"skipped"`
	AverageScore float64 `json:"average_score"`
}

// Evaluator scores classifier and decider logs from what happened to their
// campaign: of the leads the decider selected, how many reached the CRM.
// Scores are attached with source agent and left unvalidated. Only completed
// campaigns are judged; cold verdicts are left for human review since nothing
// downstream confirms them.
type Evaluator struct {
	agg       *Aggregator
	logs      Store
	campaigns CampaignReader
	logger    *zap.Logger
}

// NewEvaluator creates an outcome evaluator that attaches through agg.
func NewEvaluator(agg *Aggregator, campaigns CampaignReader, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{agg: agg, logs: agg.store, campaigns: campaigns, logger: logger.Named("evaluator")}
}

var evaluatedUnits = []string{models.UnitClassifier, models.UnitDecider}

// Evaluate examines up to limit pending logs per evaluated unit, newest first.
func (e *Evaluator) Evaluate(ctx context.Context, limit int) (*EvaluationReport, error) {
	var pending []models.AgentLog
	for _, unit := range evaluatedUnits {
		logs, err := e.logs.ListAgentLogs(ctx, models.AgentLogFilter{UnitID: unit, Pending: true, Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("list pending %s logs: %w", unit, err)
		}
		pending = append(pending, logs...)
	}
	return e.score(ctx, pending, map[string]*models.Campaign{})
}

// EvaluateCampaign scores the pending logs of one campaign.
func (e *Evaluator) EvaluateCampaign(ctx context.Context, c *models.Campaign) (*EvaluationReport, error) {
	var pending []models.AgentLog
	for _, unit := range evaluatedUnits {
		logs, err := e.logs.ListAgentLogs(ctx, models.AgentLogFilter{UnitID: unit, CampaignID: c.ID, Pending: true})
		if err != nil {
			return nil, fmt.Errorf("list pending %s logs: %w", unit, err)
		}
		pending = append(pending, logs...)
	}
	return e.score(ctx, pending, map[string]*models.Campaign{c.ID: c})
}

func (e *Evaluator) score(ctx context.Context, pending []models.AgentLog, campaigns map[string]*models.Campaign) (*EvaluationReport, error) {
	report := &EvaluationReport{}
	var sum float64
	for _, entry := range pending {
		report.Examined++
		c, err := e.campaign(ctx, entry.CampaignID, campaigns)
		if err != nil {
			return report, err
		}
		score, text, ok := judge(entry, c)
		if !ok {
			report.Skipped++
			continue
		}
		fb := models.Feedback{Score: score, Text: text, Source: models.FeedbackSourceAgent}
		if _, err := e.agg.AttachFeedback(ctx, entry.ID, fb); err != nil {
			return report, fmt.Errorf("attach evaluation to %s: %w", entry.ID, err)
		}
		report.Scored++
		sum += score
	}
	if report.Scored > 0 {
		report.AverageScore = sum / float64(report.Scored)
	}
	if report.Examined > 0 {
		e.logger.Info("evaluation pass finished",
			zap.Int("examined", report.Examined),
			zap.Int("scored", report.Scored),
			zap.Float64("average_score", report.AverageScore),
		)
	}
	return report, nil
}

// campaign returns nil for logs without a campaign or whose campaign is gone.
func (e *Evaluator) campaign(ctx context.Context, id string, cache map[string]*models.Campaign) (*models.Campaign, error) {
	if id == "" {
		return nil, nil
	}
	if c, ok := cache[id]; ok {
		return c, nil
	}
	c, err := e.campaigns.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		cache[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	cache[id] = c
	return c, nil
}

// judge scores one log against its campaign's outcome.
func judge(entry models.AgentLog, c *models.Campaign) (float64, string, bool) {
	if c == nil || c.Status != models.CampaignStatusCompleted {
		return 0, "", false
	}
	selected := -1
	for _, st := range c.Stages {
		if st.Stage == models.StageDecide && !st.Skipped {
			selected = st.Kept
		}
	}
	if selected <= 0 {
		return 0, "", false
	}
	precision := math.Min(1, float64(c.Counts.Exported)/float64(selected))

	switch entry.UnitID {
	case models.UnitDecider:
		return round(models.MaxFeedbackScore * precision),
			fmt.Sprintf("%d of %d selected leads exported", c.Counts.Exported, selected), true
	case models.UnitClassifier:
		var verdict struct {
			Label      models.QualityLabel `json:"label"`
			Confidence float64             `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(entry.Output), &verdict); err != nil {
			return 0, "", false
		}
		if verdict.Label != models.QualityHot && verdict.Label != models.QualityWarm {
			return 0, "", false
		}
		// A well calibrated verdict has confidence close to the observed precision.
		gap := math.Abs(math.Min(1, math.Max(0, verdict.Confidence)) - precision)
		return round(models.MaxFeedbackScore * (1 - gap)),
			fmt.Sprintf("%s at %.2f confidence, %.2f of selected leads exported", verdict.Label, verdict.Confidence, precision), true
	}
	return 0, "", false
}

func round(score float64) float64 {
	return math.Round(score*100) / 100
}
