package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/store"
	"go.uber.org/zap"
)

// Lister reads stored campaigns.
type Lister interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error)
}

// Runner executes campaigns.
type Runner interface {
	Execute(ctx context.Context, c *models.Campaign) (*orchestrator.RunResult, error)
	RecoverInterrupted(ctx context.Context) (int, error)
	IsRunning(campaignID string) bool
}

// Evaluator scores the decisions of a finished campaign.
type Evaluator interface {
	EvaluateCampaign(ctx context.Context, c *models.Campaign) (*feedback.EvaluationReport, error)
}

// Stats is a snapshot of the worker pool.
type Stats struct {
	ActiveWorkers int            `json:"active_workers"`
	GlobalMax     int            `json:"global_max"`
	NicheCounts   map[string]int `json:"niche_counts"`
	InFlight      []string       `json:"in_flight"`
	Dispatched    int            `json:"dispatched"`
}

// Scheduler manages campaign dispatching and the worker pool.
type Scheduler struct {
	store     Lister
	runner    Runner
	evaluator Evaluator
	config    *Config
	logger    *zap.Logger

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	nicheCounts   map[string]int
	inFlight      map[string]bool
	dispatched    int

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(s Lister, r Runner, cfg *Config, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:       s,
		runner:      r,
		config:      cfg,
		logger:      logger.Named("scheduler"),
		nicheCounts: make(map[string]int),
		inFlight:    make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start recovers campaigns interrupted by a previous crash and begins the scheduler loop.
func (sch *Scheduler) Start() {
	if n, err := sch.runner.RecoverInterrupted(sch.ctx); err != nil {
		sch.logger.Error("failed to recover interrupted campaigns", zap.Error(err))
	} else if n > 0 {
		sch.logger.Warn("recovered interrupted campaigns", zap.Int("count", n))
	}

	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Info("scheduler started",
		zap.Int("global_max", sch.config.GlobalMax),
		zap.Duration("poll_interval", sch.config.PollInterval),
	)
}

// Stop cancels running campaigns and waits for workers to finish.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

// schedulerLoop polls for pending campaigns and dispatches them to workers.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	for {
		sch.pollAndDispatch()
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollAndDispatch dispatches pending campaigns, oldest first, while capacity remains.
func (sch *Scheduler) pollAndDispatch() {
	pending, err := sch.store.ListCampaigns(sch.ctx, models.CampaignFilter{Status: models.CampaignStatusPending})
	if err != nil {
		if sch.ctx.Err() == nil {
			sch.logger.Error("failed to list pending campaigns", zap.Error(err))
		}
		return
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	for i := range pending {
		c := pending[i]
		if sch.ctx.Err() != nil {
			return
		}
		if !sch.claim(&c) {
			continue
		}

		sch.logger.Info("dispatched campaign",
			zap.String("campaign_id", c.ID),
			zap.String("niche", c.Niche),
		)
		sch.wg.Add(1)
		go sch.runWorker(&c)
	}
}

// claim reserves a worker slot for c. It returns false when c is already
// in flight or a limit is reached.
func (sch *Scheduler) claim(c *models.Campaign) bool {
	if sch.runner.IsRunning(c.ID) {
		return false
	}
	niche := strings.ToLower(c.Niche)

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.inFlight[c.ID] || sch.activeWorkers >= sch.config.GlobalMax {
		return false
	}
	if sch.nicheCounts[niche] >= sch.config.GetNicheLimit(niche) {
		return false
	}
	sch.inFlight[c.ID] = true
	sch.activeWorkers++
	sch.nicheCounts[niche]++
	return true
}

// SetEvaluator makes workers score each completed campaign's decisions.
// It must be called before Start.
func (sch *Scheduler) SetEvaluator(e Evaluator) {
	sch.evaluator = e
}

// runWorker executes a campaign in a worker.
func (sch *Scheduler) runWorker(c *models.Campaign) {
	defer sch.wg.Done()
	niche := strings.ToLower(c.Niche)
	defer func() {
		sch.mu.Lock()
		delete(sch.inFlight, c.ID)
		sch.activeWorkers--
		sch.nicheCounts[niche]--
		if sch.nicheCounts[niche] == 0 {
			delete(sch.nicheCounts, niche)
		}
		sch.mu.Unlock()
	}()

	// The listing may be stale by the time a slot frees up.
	current, err := sch.store.GetCampaign(sch.ctx, c.ID)
	if err != nil {
		sch.logger.Warn("failed to reload campaign", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	if current.Status != models.CampaignStatusPending {
		return
	}
	sch.mu.Lock()
	sch.dispatched++
	sch.mu.Unlock()

	res, err := sch.runner.Execute(sch.ctx, current)
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		sch.logger.Debug("campaign picked up elsewhere", zap.String("campaign_id", c.ID))
	case errors.Is(err, store.ErrCampaignFinished):
		sch.logger.Info("campaign finished before its run ended", zap.String("campaign_id", c.ID))
	case err != nil:
		sch.logger.Error("campaign run failed", zap.String("campaign_id", c.ID), zap.Error(err))
	default:
		sch.logger.Info("worker finished campaign",
			zap.String("campaign_id", c.ID),
			zap.String("status", string(res.Campaign.Status)),
		)
		sch.evaluate(res.Campaign)
	}
}

func (sch *Scheduler) evaluate(c *models.Campaign) {
	if sch.evaluator == nil || c.Status != models.CampaignStatusCompleted {
		return
	}
	// Scores are written even while the scheduler is stopping.
	if _, err := sch.evaluator.EvaluateCampaign(context.WithoutCancel(sch.ctx), c); err != nil {
		sch.logger.Warn("failed to evaluate campaign", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	nicheCounts := make(map[string]int, len(sch.nicheCounts))
	for k, v := range sch.nicheCounts {
		nicheCounts[k] = v
	}
	inFlight := make([]string, 0, len(sch.inFlight))
	for id := range sch.inFlight {
		inFlight = append(inFlight, id)
	}
	sort.Strings(inFlight)

	return Stats{
		ActiveWorkers: sch.activeWorkers,
		GlobalMax:     sch.config.GlobalMax,
		NicheCounts:   nicheCounts,
		InFlight:      inFlight,
		Dispatched:    sch.dispatched,
	}
}
