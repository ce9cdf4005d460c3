// Package pivot decides whether to continue, duplicate or abandon a niche
// from its campaign history and the feedback given to its decisions.
package pivot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/audit"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Thresholds are the decision boundaries. Equality never triggers an action.
type Thresholds struct {
	HighExportRate   float64       `yaml:"high_export_rate" json:"high_export_rate"`
	LowExportRate    float64       `yaml:"low_export_rate" json:"low_export_rate"`
	HighFeedback     float64       `yaml:"high_feedback" json:"high_feedback"`
	LowFeedback      float64       `yaml:"low_feedback" json:"low_feedback"`
	ExhaustionWindow time.Duration `yaml:"exhaustion_window" json:"exhaustion_window"`
	MinHistory       int           `yaml:"min_history" json:"min_history"`
	Units            []string      `yaml:"units" json:"units"`
}

// DefaultThresholds returns conservative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighExportRate:   0.3,
		LowExportRate:    0.05,
		HighFeedback:     4.0,
		LowFeedback:      2.5,
		ExhaustionWindow: 7 * 24 * time.Hour,
		MinHistory:       1,
		Units:            []string{models.UnitClassifier, models.UnitDecider},
	}
}

// CampaignSource lists campaigns and checks niche exhaustion.
type CampaignSource interface {
	ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error)
	IsNicheExhausted(ctx context.Context, niche string, within time.Duration) (bool, error)
}

// FeedbackSource returns aggregated feedback for a decision unit.
type FeedbackSource interface {
	Stats(ctx context.Context, unitID string) (*models.FeedbackStats, error)
}

// Queuer saves pending campaigns.
type Queuer interface {
	Prepare(ctx context.Context, req orchestrator.Request) (*models.Campaign, error)
}

// Engine evaluates niches.
type Engine struct {
	campaigns  CampaignSource
	feedback   FeedbackSource
	recorder   *audit.Recorder
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine creates a pivot engine. feedback and recorder may be nil.
func NewEngine(campaigns CampaignSource, feedback FeedbackSource, recorder *audit.Recorder, t Thresholds, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t.MinHistory < 1 {
		t.MinHistory = 1
	}
	return &Engine{
		campaigns:  campaigns,
		feedback:   feedback,
		recorder:   recorder,
		thresholds: t,
		logger:     logger.Named("pivot"),
		now:        time.Now,
	}
}

// Decide evaluates a niche and records the decision as a pivot AgentLog.
func (e *Engine) Decide(ctx context.Context, niche string) (*models.PivotDecision, error) {
	niche = strings.TrimSpace(niche)
	if niche == "" {
		return nil, fmt.Errorf("%w: niche is required", models.ErrValidation)
	}

	terminal := false
	history, err := e.campaigns.ListCampaigns(ctx, models.CampaignFilter{Niche: niche, Active: &terminal})
	if err != nil {
		return nil, eris.Wrap(err, "pivot: list campaigns")
	}
	sort.SliceStable(history, func(i, j int) bool {
		return finishedAt(history[i]).Before(finishedAt(history[j]))
	})

	exhausted, err := e.campaigns.IsNicheExhausted(ctx, niche, e.thresholds.ExhaustionWindow)
	if err != nil {
		return nil, eris.Wrap(err, "pivot: check exhaustion")
	}
	fbAvg, fbCount, err := e.feedbackAverage(ctx)
	if err != nil {
		return nil, err
	}

	d := &models.PivotDecision{
		Niche:               niche,
		FeedbackAverage:     fbAvg,
		FeedbackCount:       fbCount,
		Exhausted:           exhausted,
		CampaignsConsidered: len(history),
		DecidedAt:           e.now().UTC(),
	}
	if len(history) > 0 {
		recent := history[len(history)-1]
		d.RecentCampaignID = recent.ID
		d.ExportRate = rate(recent)
		var sum float64
		for _, c := range history {
			sum += rate(c)
		}
		d.HistoricalExportRate = sum / float64(len(history))
	}
	d.Action, d.Justification = e.rule(d)

	e.record(ctx, d)
	e.logger.Info("pivot decision",
		zap.String("niche", niche),
		zap.String("action", string(d.Action)),
		zap.String("justification", d.Justification),
	)
	return d, nil
}

func (e *Engine) rule(d *models.PivotDecision) (models.PivotAction, string) {
	t := e.thresholds
	hasFeedback := d.FeedbackCount > 0

	if d.CampaignsConsidered < t.MinHistory {
		return models.PivotContinue, fmt.Sprintf("not enough history (%d of %d campaigns)", d.CampaignsConsidered, t.MinHistory)
	}

	var pivotReasons []string
	if d.ExportRate < t.LowExportRate {
		pivotReasons = append(pivotReasons, fmt.Sprintf("export rate %.2f below %.2f", d.ExportRate, t.LowExportRate))
	}
	if hasFeedback && d.FeedbackAverage < t.LowFeedback {
		pivotReasons = append(pivotReasons, fmt.Sprintf("feedback %.2f below %.2f", d.FeedbackAverage, t.LowFeedback))
	}
	if d.Exhausted {
		pivotReasons = append(pivotReasons, "niche exhausted")
	}
	if len(pivotReasons) > 0 {
		return models.PivotPivot, strings.Join(pivotReasons, "; ")
	}

	if d.ExportRate > t.HighExportRate &&
		(!hasFeedback || d.FeedbackAverage > t.HighFeedback) &&
		d.ExportRate >= d.HistoricalExportRate {
		return models.PivotDuplicate, fmt.Sprintf("export rate %.2f above %.2f and not declining", d.ExportRate, t.HighExportRate)
	}
	return models.PivotContinue, fmt.Sprintf("export rate %.2f within thresholds", d.ExportRate)
}

func (e *Engine) feedbackAverage(ctx context.Context) (float64, int, error) {
	if e.feedback == nil {
		return 0, 0, nil
	}
	var total float64
	var count int
	for _, unit := range e.thresholds.Units {
		stats, err := e.feedback.Stats(ctx, unit)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "pivot: feedback stats for %s", unit)
		}
		total += stats.AverageScore * float64(stats.TotalFeedbacks)
		count += stats.TotalFeedbacks
	}
	if count == 0 {
		return 0, 0, nil
	}
	return total / float64(count), count, nil
}

func (e *Engine) record(ctx context.Context, d *models.PivotDecision) {
	output, err := json.Marshal(d)
	if err != nil {
		return
	}
	summary := fmt.Sprintf("pivot decision for %s", d.Niche)
	entry, err := e.recorder.Record(ctx, models.UnitPivot, d.RecentCampaignID, summary, d, string(output))
	if err == nil && entry != nil {
		d.LogID = entry.ID
	}
}

// Apply acts on a decision: duplicate queues another campaign on the same
// niche, pivot queues one on a strategy-selected niche other than this one,
// continue does nothing. location and target default to the recent campaign's.
func (e *Engine) Apply(ctx context.Context, q Queuer, d *models.PivotDecision, location string, target int) (*models.Campaign, error) {
	if d.Action == models.PivotContinue {
		return nil, nil
	}
	if location == "" || target == 0 {
		if recent := e.recent(ctx, d); recent != nil {
			if location == "" {
				location = recent.Location
			}
			if target == 0 {
				target = recent.TargetLeadCount
			}
		}
	}

	req := orchestrator.Request{Location: location, TargetLeadCount: target, ParentID: d.RecentCampaignID}
	switch d.Action {
	case models.PivotDuplicate:
		req.Niche = d.Niche
	case models.PivotPivot:
		req.Exclude = []string{d.Niche}
	default:
		return nil, fmt.Errorf("%w: unknown pivot action %q", models.ErrValidation, d.Action)
	}

	c, err := q.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("pivot applied",
		zap.String("from_niche", d.Niche),
		zap.String("action", string(d.Action)),
		zap.String("campaign_id", c.ID),
		zap.String("niche", c.Niche),
	)
	return c, nil
}

func (e *Engine) recent(ctx context.Context, d *models.PivotDecision) *models.Campaign {
	if d.RecentCampaignID == "" {
		return nil
	}
	all, err := e.campaigns.ListCampaigns(ctx, models.CampaignFilter{Niche: d.Niche})
	if err != nil {
		return nil
	}
	for i := range all {
		if all[i].ID == d.RecentCampaignID {
			return &all[i]
		}
	}
	return nil
}

func rate(c models.Campaign) float64 {
	if c.Status == models.CampaignStatusFailed {
		return 0
	}
	return c.ExportRate()
}

func finishedAt(c models.Campaign) time.Time {
	if c.CompletedAt != nil {
		return *c.CompletedAt
	}
	return c.CreatedAt
}
