package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
)

// Classify labels each lead hot, warm or cold and records every verdict
// as a classifier decision.
type Classify struct {
	classifier connectors.Classifier
}

func NewClassify(c connectors.Classifier) *Classify {
	return &Classify{classifier: c}
}

func (s *Classify) Name() models.StageName { return models.StageClassify }

func (s *Classify) Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error) {
	if s.classifier == nil {
		return nil, unavailable(s.Name(), fmt.Errorf("no classifier configured"))
	}
	cc := connectors.ClassifyContext{CampaignID: rc.CampaignID, Niche: rc.Niche, Location: rc.Location}

	return ProcessEach(ctx, items, func(ctx context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		verdict, err := s.classifier.Classify(ctx, lead, cc)
		switch {
		case errors.Is(err, connectors.ErrUnavailable):
			return lead, Outcome{}, unavailable(s.Name(), err)
		case ctx.Err() != nil:
			return lead, Outcome{}, ctx.Err()
		case err != nil:
			return lead, Errored(err.Error()), nil
		case !verdict.Label.Valid():
			return lead, Errored(fmt.Sprintf("invalid label %q", verdict.Label)), nil
		}

		lead.QualityLabel = verdict.Label
		lead.Confidence = verdict.Confidence

		output, _ := json.Marshal(verdict)
		summary := fmt.Sprintf("classify %s <%s> for %s", lead.Name, lead.Email, rc.Niche)
		// Recording failures are logged by the recorder and do not fail the lead.
		_, _ = rc.Recorder.Record(ctx, models.UnitClassifier, rc.CampaignID, summary, lead, string(output))
		return lead, Kept(), nil
	})
}
