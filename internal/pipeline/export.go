package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
)

// Export validates leads and pushes them into the CRM.
type Export struct {
	exporter connectors.Exporter
}

func NewExport(e connectors.Exporter) *Export {
	return &Export{exporter: e}
}

func (s *Export) Name() models.StageName { return models.StageExport }

func (s *Export) Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error) {
	if s.exporter == nil {
		return nil, unavailable(s.Name(), fmt.Errorf("no exporter configured"))
	}
	return ProcessEach(ctx, items, func(ctx context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		if err := lead.ValidateForExport(); err != nil {
			return lead, Held(strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")), nil
		}

		err := s.exporter.Export(ctx, lead, rc.CampaignID)
		var rejected *connectors.RejectedError
		switch {
		case err == nil:
			return lead, Kept(), nil
		case errors.As(err, &rejected):
			return lead, Dropped(rejected.Error()), nil
		case errors.Is(err, connectors.ErrUnavailable):
			return lead, Outcome{}, unavailable(s.Name(), err)
		case ctx.Err() != nil:
			return lead, Outcome{}, ctx.Err()
		default:
			return lead, Errored(err.Error()), nil
		}
	})
}
