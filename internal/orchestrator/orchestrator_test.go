package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/connectors/crmfile"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countCollector struct{ n int }

func (c countCollector) Name() string { return "count" }

func (c countCollector) Collect(ctx context.Context, niche, location string, max int) ([]connectors.RawContact, error) {
	out := make([]connectors.RawContact, c.n)
	for i := range out {
		out[i] = connectors.RawContact{Name: fmt.Sprintf("Lead %d", i), Email: fmt.Sprintf("lead%d@%s.com", i, niche)}
	}
	return out, nil
}

type hotClassifier struct{}

func (hotClassifier) Classify(ctx context.Context, lead models.Lead, cc connectors.ClassifyContext) (connectors.Classification, error) {
	return connectors.Classification{Label: models.QualityHot, Confidence: 1}, nil
}

type fixture struct {
	store *store.Store
	orch  *Orchestrator
}

func newFixture(t *testing.T, collector connectors.Collector, opts ...Option) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exp, err := crmfile.New(filepath.Join(t.TempDir(), "crm.csv"), nil)
	require.NoError(t, err)
	stages, err := pipeline.Default(pipeline.Capabilities{
		Collector:  collector,
		Classifier: hotClassifier{},
		Exporter:   exp,
	}, pipeline.DefaultConfig())
	require.NoError(t, err)

	o, err := New(s, stages, DefaultConfig(), opts...)
	require.NoError(t, err)
	return &fixture{store: s, orch: o}
}

func TestRunCompletesAndPersists(t *testing.T) {
	f := newFixture(t, countCollector{n: 3})
	ctx := context.Background()

	res, err := f.orch.Run(ctx, Request{Niche: "plumbers", Location: "Lyon", TargetLeadCount: 5})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, res.Campaign.Status)
	assert.Equal(t, models.StageCounts{Collected: 3, Cleaned: 3, Classified: 3, Contacted: 3, Exported: 3}, res.Campaign.Counts)
	assert.Len(t, res.Campaign.Stages, 8)

	got, err := f.store.GetCampaign(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorSummary)
}

func TestZeroCollectedFailsAtCollect(t *testing.T) {
	f := newFixture(t, countCollector{n: 0})

	res, err := f.orch.Run(context.Background(), Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 10})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, res.Campaign.Status)
	require.Len(t, res.Campaign.ErrorSummary, 1)
	assert.Equal(t, models.StageCollect, res.Campaign.ErrorSummary[0].Stage)
	assert.Equal(t, models.ReasonNoLeads, res.Campaign.ErrorSummary[0].Reason)
}

func TestTargetCountHoldsExtraLeads(t *testing.T) {
	f := newFixture(t, countCollector{n: 12})

	res, err := f.orch.Run(context.Background(), Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Campaign.Counts.Collected)
	assert.Equal(t, 10, res.Campaign.Counts.Cleaned)
	require.Len(t, res.Held, 2)
	assert.Equal(t, "lead10@bakery.com", res.Held[0].Email)
	assert.Equal(t, "lead11@bakery.com", res.Held[1].Email)
	assert.Len(t, res.Outcomes[models.StageCollect], 12)
}

func TestUnavailableStageFailsCampaign(t *testing.T) {
	chain := connectors.NewChainCollector(nil)
	f := newFixture(t, chain)

	res, err := f.orch.Run(context.Background(), Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 10})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, res.Campaign.Status)
	assert.Equal(t, models.StageCollect, res.Campaign.ErrorSummary[0].Stage)
}

func TestStrategySkipsExhaustedNiche(t *testing.T) {
	f := newFixture(t, countCollector{n: 1}, WithStrategy(StaticStrategy{"bakery", "florist"}))
	ctx := context.Background()

	now := time.Now().UTC()
	done := &models.Campaign{
		ID: "done", Niche: "Bakery", Location: "Paris", TargetLeadCount: 1,
		Status: models.CampaignStatusCompleted, CreatedAt: now.Add(-time.Hour),
		CompletedAt: &now, ErrorSummary: []models.StageError{},
	}
	require.NoError(t, f.store.SaveCampaign(ctx, done))

	exhausted, err := f.store.IsNicheExhausted(ctx, "bakery", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, exhausted)

	c, err := f.orch.Prepare(ctx, Request{Location: "Paris", TargetLeadCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "florist", c.Niche)
	assert.Equal(t, models.CampaignStatusPending, c.Status)

	// florist now has a pending campaign, bakery is exhausted.
	_, err = f.orch.Prepare(ctx, Request{Location: "Paris", TargetLeadCount: 1})
	assert.ErrorIs(t, err, ErrNoEligibleNiche)
}

func TestStrategyRespectsNicheLocks(t *testing.T) {
	f := newFixture(t, countCollector{n: 1})
	o, err := New(f.store, f.orch.stages, DefaultConfig(),
		WithStrategy(StaticStrategy{"bakery", "florist"}),
		WithLocker(f.store),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.store.AcquireNicheLock(ctx, "bakery", "another-process", time.Hour)
	require.NoError(t, err)

	res, err := o.Run(ctx, Request{Location: "Paris", TargetLeadCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "florist", res.Campaign.Niche)

	// The lock was released at the end of the run.
	_, err = f.store.AcquireNicheLock(ctx, "florist", "another-process", time.Hour)
	assert.NoError(t, err)
}

func TestPrepareRejectsInvalidTarget(t *testing.T) {
	f := newFixture(t, countCollector{n: 1})
	_, err := f.orch.Prepare(context.Background(), Request{Niche: "bakery", TargetLeadCount: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
}

type blockingStage struct {
	started chan struct{}
}

func (s *blockingStage) Name() models.StageName { return models.StageCollect }

func (s *blockingStage) Process(ctx context.Context, items []models.Lead, rc *pipeline.RunContext) (*pipeline.Result, error) {
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelFailsCampaign(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	defer s.Close()

	stage := &blockingStage{started: make(chan struct{})}
	o, err := New(s, []pipeline.Stage{stage, pipeline.NewClean()}, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	c, err := o.Prepare(ctx, Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var res *RunResult
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, runErr = o.Execute(ctx, c)
	}()

	<-stage.started
	assert.True(t, o.Cancel(c.ID))
	wg.Wait()

	require.NoError(t, runErr)
	assert.Equal(t, models.CampaignStatusFailed, res.Campaign.Status)
	assert.Equal(t, models.ReasonCancelled, res.Campaign.ErrorSummary[0].Reason)
	assert.False(t, o.Cancel(c.ID))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, got.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(t, countCollector{n: 1})
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	stale := &models.Campaign{
		ID: "stale", Niche: "bakery", Location: "Paris", TargetLeadCount: 1,
		Status: models.CampaignStatusRunning, CreatedAt: started, StartedAt: &started,
		ErrorSummary: []models.StageError{},
		Stages:       []models.StageMetrics{{Stage: models.StageCollect, Kept: 1}},
	}
	require.NoError(t, f.store.SaveCampaign(ctx, stale))

	n, err := f.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetCampaign(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, got.Status)
	assert.Equal(t, models.ReasonInterrupted, got.ErrorSummary[0].Reason)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunManyRunsIndependentCampaigns(t *testing.T) {
	f := newFixture(t, countCollector{n: 2})
	reqs := []Request{
		{Niche: "bakery", Location: "Paris", TargetLeadCount: 2},
		{Niche: "florist", Location: "Lyon", TargetLeadCount: 2},
		{Niche: "plumber", Location: "Nice", TargetLeadCount: 2},
	}
	results, err := f.orch.RunMany(context.Background(), reqs, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, reqs[i].Niche, res.Campaign.Niche)
		assert.Equal(t, models.CampaignStatusCompleted, res.Campaign.Status)
	}

	all, err := f.store.ListCampaigns(context.Background(), models.CampaignFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunManyReportsPrepareErrors(t *testing.T) {
	f := newFixture(t, countCollector{n: 1})
	results, err := f.orch.RunMany(context.Background(), []Request{
		{Niche: "bakery", TargetLeadCount: 1},
		{TargetLeadCount: 1},
	}, 0)
	assert.True(t, errors.Is(err, ErrNoEligibleNiche))
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
}

func TestMetricsCountCampaignsAndItems(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	f := newFixture(t, countCollector{n: 2}, WithMeterProvider(mp))
	_, err := f.orch.Run(context.Background(), Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 2})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			for _, dp := range data.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), sums["conductor.campaigns"])
	// 8 stages each kept both leads.
	assert.Equal(t, int64(16), sums["conductor.stage.items"])
}

func TestExecuteRefusesCancelledCampaign(t *testing.T) {
	f := newFixture(t, countCollector{n: 2})
	ctx := context.Background()

	c, err := f.orch.Prepare(ctx, Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 2})
	require.NoError(t, err)
	// A worker that listed the campaign before the cancel still holds it as pending.
	stale := *c

	cancelled, err := f.orch.CancelQueued(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, cancelled.Status)

	_, err = f.orch.Execute(ctx, &stale)
	require.ErrorIs(t, err, store.ErrCampaignFinished)

	got, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, got.Status)
	require.Len(t, got.ErrorSummary, 1)
	assert.Equal(t, models.ReasonCancelled, got.ErrorSummary[0].Reason)
	assert.Zero(t, got.Counts.Collected)
}

func TestCancelQueuedRejectsFinishedCampaign(t *testing.T) {
	f := newFixture(t, countCollector{n: 1})
	ctx := context.Background()

	res, err := f.orch.Run(ctx, Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 1})
	require.NoError(t, err)

	got, err := f.orch.CancelQueued(ctx, res.Campaign.ID)
	require.ErrorIs(t, err, store.ErrCampaignFinished)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)

	_, err = f.orch.CancelQueued(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// finishingCollector fails every running campaign while it collects, the way
// a restart recovery in another process would.
type finishingCollector struct {
	store *store.Store
}

func (c *finishingCollector) Name() string { return "finishing" }

func (c *finishingCollector) Collect(ctx context.Context, niche, location string, max int) ([]connectors.RawContact, error) {
	running, err := c.store.ListCampaigns(ctx, models.CampaignFilter{Status: models.CampaignStatusRunning})
	if err != nil {
		return nil, err
	}
	for i := range running {
		if err := models.Fail(&running[i], models.StageCollect, models.ReasonInterrupted, time.Now()); err != nil {
			return nil, err
		}
		if err := c.store.SaveCampaign(ctx, &running[i]); err != nil {
			return nil, err
		}
	}
	return countCollector{n: 2}.Collect(ctx, niche, location, max)
}

func TestRunStopsWhenCampaignFinishedElsewhere(t *testing.T) {
	collector := &finishingCollector{}
	f := newFixture(t, collector)
	collector.store = f.store
	ctx := context.Background()

	res, err := f.orch.Run(ctx, Request{Niche: "bakery", Location: "Paris", TargetLeadCount: 2})
	require.ErrorIs(t, err, store.ErrCampaignFinished)
	require.NotNil(t, res)
	assert.Equal(t, models.CampaignStatusFailed, res.Campaign.Status)
	require.Len(t, res.Campaign.ErrorSummary, 1)
	assert.Equal(t, models.ReasonInterrupted, res.Campaign.ErrorSummary[0].Reason)
	_, exported := res.Outcomes[models.StageExport]
	assert.False(t, exported, "no stage may run after the record was finished")

	got, err := f.store.GetCampaign(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, got.Status)
	assert.Zero(t, got.Counts.Exported)
}
