package pipeline

import (
	"context"
	"errors"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
	"go.uber.org/zap"
)

// Enrich fills in company details. Without an enricher it passes leads through.
type Enrich struct {
	enricher connectors.Enricher
}

func NewEnrich(e connectors.Enricher) *Enrich {
	return &Enrich{enricher: e}
}

func (s *Enrich) Name() models.StageName { return models.StageEnrich }

func (s *Enrich) Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error) {
	return ProcessEach(ctx, items, func(ctx context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		if s.enricher == nil {
			return lead, Kept(), nil
		}
		enriched, err := s.enricher.Enrich(ctx, lead)
		switch {
		case errors.Is(err, connectors.ErrUnavailable):
			rc.logger().Debug("enricher unavailable, keeping lead as is", zap.String("email", lead.Email))
			return lead, Kept(), nil
		case ctx.Err() != nil:
			return lead, Outcome{}, ctx.Err()
		case err != nil:
			return lead, Errored(err.Error()), nil
		}
		return enriched, Kept(), nil
	})
}
