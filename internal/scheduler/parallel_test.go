package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/pipeline"
)

type staticCollector struct{}

func (staticCollector) Name() string { return "static" }

func (staticCollector) Collect(ctx context.Context, niche, location string, max int) ([]connectors.RawContact, error) {
	return []connectors.RawContact{{Name: "Ada Lovelace", Email: "ada@" + niche + ".com"}}, nil
}

// Test10ParallelCampaigns runs ten campaigns on distinct niches through the
// real orchestrator and checks each one completes exactly once.
func Test10ParallelCampaigns(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	stages := []pipeline.Stage{pipeline.NewCollect(staticCollector{}), pipeline.NewClean()}
	orch, err := orchestrator.New(s, stages, orchestrator.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	numCampaigns := 10
	for i := 0; i < numCampaigns; i++ {
		createPending(t, s, fmt.Sprintf("niche%d", i), 1)
	}

	sch := New(s, orch, &Config{GlobalMax: 10, DefaultNicheLimit: 1, PollInterval: 10 * time.Millisecond}, nil)
	sch.Start()
	defer sch.Stop()

	waitFor(t, 10*time.Second, func() bool {
		done, err := s.ListCampaigns(context.Background(), models.CampaignFilter{Status: models.CampaignStatusCompleted})
		if err != nil {
			t.Fatalf("Failed to list campaigns: %v", err)
		}
		return len(done) == numCampaigns
	})

	all, err := s.ListCampaigns(context.Background(), models.CampaignFilter{})
	if err != nil {
		t.Fatalf("Failed to list campaigns: %v", err)
	}
	for _, c := range all {
		if c.Counts.Collected != 1 || c.Counts.Cleaned != 1 {
			t.Errorf("Campaign %s has counts %+v", c.ID, c.Counts)
		}
		if len(c.ErrorSummary) != 0 {
			t.Errorf("Campaign %s has errors %+v", c.ID, c.ErrorSummary)
		}
	}
	if got := sch.GetStats().Dispatched; got != numCampaigns {
		t.Errorf("Expected %d dispatches, got %d", numCampaigns, got)
	}
}
