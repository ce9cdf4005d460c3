package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berinia/conductor/internal/models"
)

// Decide selects which classified leads are worth contacting.
type Decide struct {
	minWarmConfidence float64
}

// NewDecide keeps hot leads and warm leads with confidence at least minWarmConfidence.
func NewDecide(minWarmConfidence float64) *Decide {
	return &Decide{minWarmConfidence: minWarmConfidence}
}

func (s *Decide) Name() models.StageName { return models.StageDecide }

func (s *Decide) Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error) {
	selection := map[models.QualityLabel]int{}
	res, err := ProcessEach(ctx, items, func(_ context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		switch {
		case lead.QualityLabel == models.QualityHot,
			lead.QualityLabel == models.QualityWarm && lead.Confidence >= s.minWarmConfidence:
			selection[lead.QualityLabel]++
			return lead, Kept(), nil
		}
		return lead, Held("cold"), nil
	})
	if err != nil {
		return res, err
	}

	output, _ := json.Marshal(map[string]interface{}{
		"selected":            len(res.Items),
		"held":                len(res.Held),
		"by_label":            selection,
		"min_warm_confidence": s.minWarmConfidence,
	})
	summary := fmt.Sprintf("selected %d of %d leads for %s", len(res.Items), len(items), rc.Niche)
	_, _ = rc.Recorder.Record(ctx, models.UnitDecider, rc.CampaignID, summary, items, string(output))
	return res, nil
}
