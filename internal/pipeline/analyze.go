package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berinia/conductor/internal/models"
	"go.uber.org/zap"
)

// Analytics summarizes a campaign run.
type Analytics struct {
	Collected   int                         `json:"collected"`
	Exported    int                         `json:"exported"`
	Contacted   int                         `json:"contacted"`
	ExportRate  float64                     `json:"export_rate"`
	ContactRate float64                     `json:"contact_rate"`
	LabelMix    map[models.QualityLabel]int `json:"label_mix"`
}

// Analyze computes run analytics and records them as an analyzer decision.
// It keeps every item.
type Analyze struct{}

func NewAnalyze() *Analyze { return &Analyze{} }

func (s *Analyze) Name() models.StageName { return models.StageAnalyze }

func (s *Analyze) Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error) {
	a := Analytics{
		Collected: rc.Counts.Collected,
		Exported:  rc.Counts.Exported,
		Contacted: rc.Counts.Contacted,
		LabelMix:  map[models.QualityLabel]int{},
	}
	if a.Collected > 0 {
		a.ExportRate = float64(a.Exported) / float64(a.Collected)
		a.ContactRate = float64(a.Contacted) / float64(a.Collected)
	}

	res, err := ProcessEach(ctx, items, func(_ context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		a.LabelMix[lead.QualityLabel]++
		return lead, Kept(), nil
	})
	if err != nil {
		return res, err
	}

	output, _ := json.Marshal(a)
	summary := fmt.Sprintf("analytics for %s in %s", rc.Niche, rc.Location)
	_, _ = rc.Recorder.Record(ctx, models.UnitAnalyzer, rc.CampaignID, summary, rc.Counts, string(output))
	rc.logger().Info("campaign analytics",
		zap.String("campaign_id", rc.CampaignID),
		zap.Float64("export_rate", a.ExportRate),
		zap.Float64("contact_rate", a.ContactRate),
	)
	return res, nil
}
