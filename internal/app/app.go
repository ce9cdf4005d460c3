// Package app assembles a conductor runtime from configuration.
package app

import (
	"context"
	"errors"
	"sort"

	"github.com/berinia/conductor/internal/audit"
	"github.com/berinia/conductor/internal/config"
	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/connectors/crmfile"
	"github.com/berinia/conductor/internal/connectors/fixture"
	"github.com/berinia/conductor/internal/connectors/outbox"
	"github.com/berinia/conductor/internal/connectors/rules"
	"github.com/berinia/conductor/internal/controlplane"
	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/pivot"
	"github.com/berinia/conductor/internal/scheduler"
	"github.com/berinia/conductor/internal/store"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// App holds the wired components of one conductor process.
type App struct {
	Config       *config.Config
	DB           *store.Store
	Campaigns    store.CampaignStore
	Orchestrator *orchestrator.Orchestrator
	Feedback     *feedback.Aggregator
	Evaluator    *feedback.Evaluator
	Pivot        *pivot.Engine
	Scheduler    *scheduler.Scheduler
	Service      *controlplane.Service
	Server       *controlplane.Server

	logger *zap.Logger
}

// New builds every component. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := store.New(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, eris.Wrap(err, "app: open store")
	}

	var campaigns store.CampaignStore = db
	if cfg.Store.CampaignBackend == config.BackendFile {
		fs, err := store.NewFileStore(cfg.Store.CampaignFile, logger)
		if err != nil {
			db.Close()
			return nil, eris.Wrap(err, "app: open campaign file")
		}
		campaigns = fs
	}

	a := &App{Config: cfg, DB: db, Campaigns: campaigns, logger: logger}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	caps, niches, err := a.capabilities()
	if err != nil {
		return err
	}

	stages, err := pipeline.Default(caps, cfg.Pipeline)
	if err != nil {
		return err
	}

	candidates := cfg.Strategy.Niches
	if len(candidates) == 0 {
		candidates = niches
	}

	recorder := audit.NewRecorder(a.DB, a.logger)
	a.Orchestrator, err = orchestrator.New(a.Campaigns, stages, cfg.OrchestratorConfig(),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithStrategy(orchestrator.StaticStrategy(candidates)),
		orchestrator.WithLocker(a.DB),
		orchestrator.WithRecorder(recorder),
	)
	if err != nil {
		return err
	}

	a.Feedback = feedback.NewAggregator(a.DB, a.logger)
	a.Pivot = pivot.NewEngine(a.Campaigns, a.Feedback, recorder, cfg.Pivot, a.logger)
	a.Evaluator = feedback.NewEvaluator(a.Feedback, a.Campaigns, a.logger)
	a.Scheduler = scheduler.New(a.Campaigns, a.Orchestrator, cfg.Scheduler, a.logger)
	a.Scheduler.SetEvaluator(a.Evaluator)
	a.Service = controlplane.NewService(controlplane.Deps{
		Campaigns:    a.Campaigns,
		Logs:         a.DB,
		Health:       a.DB,
		Orchestrator: a.Orchestrator,
		Feedback:     a.Feedback,
		Evaluator:    a.Evaluator,
		Pivot:        a.Pivot,
		Scheduler:    a.Scheduler,
		Logger:       a.logger,
	})
	a.Server = controlplane.NewServer(a.Service, cfg.Server.Addr, a.logger)
	return nil
}

// capabilities builds the built-in connectors and returns the niches the
// fixtures know about, sorted.
func (a *App) capabilities() (pipeline.Capabilities, []string, error) {
	cc := a.Config.Connectors
	limiter := cc.RateLimit.NewLimiter()

	var collectors []connectors.Collector
	seen := map[string]bool{}
	for _, path := range cc.FixturePaths {
		f, err := fixture.Load(path)
		if err != nil {
			return pipeline.Capabilities{}, nil, err
		}
		collectors = append(collectors, f)
		for _, n := range f.Niches() {
			seen[n] = true
		}
	}
	niches := make([]string, 0, len(seen))
	for n := range seen {
		niches = append(niches, n)
	}
	sort.Strings(niches)

	exporter, err := crmfile.New(cc.CRMFile, a.campaignExists)
	if err != nil {
		return pipeline.Capabilities{}, nil, err
	}

	caps := pipeline.Capabilities{
		Collector:  connectors.LimitCollector(connectors.NewChainCollector(a.logger, collectors...), limiter),
		Classifier: connectors.LimitClassifier(rules.New(cc.Classifier), limiter),
		Messenger:  connectors.LimitMessenger(outbox.New(cc.Outbox), limiter),
		Exporter:   connectors.LimitExporter(exporter, limiter),
	}
	return caps, niches, nil
}

func (a *App) campaignExists(ctx context.Context, id string) bool {
	_, err := a.Campaigns.GetCampaign(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.Warn("campaign lookup failed", zap.String("campaign_id", id), zap.Error(err))
	}
	return err == nil
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Campaigns != nil && a.Campaigns != store.CampaignStore(a.DB) {
		errs = append(errs, a.Campaigns.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
