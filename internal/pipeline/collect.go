package pipeline

import (
	"context"
	"fmt"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
	"go.uber.org/zap"
)

// Collect gathers raw contacts for the campaign's niche and location.
// It ignores its input items.
type Collect struct {
	collector connectors.Collector
}

func NewCollect(c connectors.Collector) *Collect {
	return &Collect{collector: c}
}

func (s *Collect) Name() models.StageName { return models.StageCollect }

func (s *Collect) Process(ctx context.Context, _ []models.Lead, rc *RunContext) (*Result, error) {
	if s.collector == nil {
		return nil, unavailable(s.Name(), fmt.Errorf("no collector configured"))
	}
	raw, err := s.collector.Collect(ctx, rc.Niche, rc.Location, rc.TargetLeadCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(s.Name(), err)
	}

	leads := make([]models.Lead, len(raw))
	for i, r := range raw {
		leads[i] = models.Lead{
			Name:       r.Name,
			Email:      r.Email,
			Phone:      r.Phone,
			Company:    r.Company,
			JobTitle:   r.JobTitle,
			Website:    r.Website,
			Source:     s.collector.Name(),
			CampaignID: rc.CampaignID,
		}
	}

	res, err := ProcessEach(ctx, leads, func(_ context.Context, i int, lead models.Lead) (models.Lead, Outcome, error) {
		if rc.TargetLeadCount > 0 && i >= rc.TargetLeadCount {
			return lead, Held("exceeds target"), nil
		}
		return lead, Kept(), nil
	})
	if err != nil {
		return nil, err
	}
	rc.logger().Debug("collected contacts",
		zap.String("source", s.collector.Name()),
		zap.Int("received", len(raw)),
		zap.Int("kept", len(res.Items)),
	)
	return res, nil
}
