// Package orchestrator drives a campaign through the pipeline stages and
// persists its state between stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/audit"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/store"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoEligibleNiche is returned when no strategy candidate can be run.
	ErrNoEligibleNiche = errors.New("no eligible niche")
	// ErrAlreadyRunning is returned when Execute is called twice for one campaign.
	ErrAlreadyRunning = errors.New("campaign already running")
)

// Store is the campaign persistence the orchestrator needs.
type Store interface {
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error)
	IsNicheExhausted(ctx context.Context, niche string, within time.Duration) (bool, error)
}

// NicheLocker claims niches across orchestrator processes.
type NicheLocker interface {
	AcquireNicheLock(ctx context.Context, niche, holderID string, ttl time.Duration) (*models.Lock, error)
	ReleaseNicheLock(ctx context.Context, lockID string) error
}

// Strategy proposes niches, in preference order, when a request names none.
type Strategy interface {
	Candidates(ctx context.Context) ([]string, error)
}

// StaticStrategy proposes a fixed list of niches.
type StaticStrategy []string

func (s StaticStrategy) Candidates(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// Config holds orchestrator settings.
type Config struct {
	ExhaustionWindow       time.Duration `yaml:"exhaustion_window"`
	LockTTL                time.Duration `yaml:"lock_ttl"`
	DefaultLocation        string        `yaml:"default_location"`
	DefaultTargetLeadCount int           `yaml:"default_target_lead_count"`
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		ExhaustionWindow:       7 * 24 * time.Hour,
		LockTTL:                30 * time.Minute,
		DefaultTargetLeadCount: 50,
	}
}

// Request describes a campaign to start. An empty Niche lets the strategy choose.
type Request struct {
	Niche           string   `json:"niche,omitempty"`
	Location        string   `json:"location"`
	TargetLeadCount int      `json:"target_lead_count"`
	ParentID        string   `json:"parent_id,omitempty"`
	// Exclude lists niches the strategy must not pick.
	Exclude         []string `json:"exclude,omitempty"`
}

// RunResult is the outcome of one campaign run.
type RunResult struct {
	Campaign *models.Campaign                        `json:"campaign"`
	Outcomes map[models.StageName][]pipeline.Outcome `json:"outcomes"`
	Held     []models.Lead                           `json:"held"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l.Named("orchestrator")
		}
	}
}

func WithStrategy(s Strategy) Option { return func(o *Orchestrator) { o.strategy = s } }

func WithLocker(l NicheLocker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithRecorder(r *audit.Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithMeterProvider sets the provider for run metrics. The global provider is the default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) { o.meterProvider = mp }
}

// Orchestrator runs campaigns. Each run is sequential; separate runs may
// proceed concurrently.
type Orchestrator struct {
	store         Store
	stages        []pipeline.Stage
	cfg           Config
	strategy      Strategy
	locker        NicheLocker
	recorder      *audit.Recorder
	logger        *zap.Logger
	holderID      string
	meterProvider metric.MeterProvider

	campaignCounter metric.Int64Counter
	itemCounter     metric.Int64Counter

	// selectMu serializes niche selection with the pending save so two
	// concurrent Prepare calls never pick the same niche.
	selectMu sync.Mutex

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	reserved map[string]bool
	locks    map[string]string // campaign id -> lock id
}

// New creates an orchestrator over the given stages, run in order.
func New(s Store, stages []pipeline.Stage, cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:    s,
		stages:   stages,
		cfg:      cfg,
		logger:   zap.NewNop(),
		holderID: "orchestrator-" + uuid.New().String()[:8],
		running:  map[string]context.CancelFunc{},
		reserved: map[string]bool{},
		locks:    map[string]string{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	meter := o.meterProvider.Meter("github.com/berinia/conductor/internal/orchestrator")

	var err error
	o.campaignCounter, err = meter.Int64Counter("conductor.campaigns",
		metric.WithDescription("Campaigns that reached a terminal status"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create campaign counter")
	}
	o.itemCounter, err = meter.Int64Counter("conductor.stage.items",
		metric.WithDescription("Items processed by pipeline stages"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create stage item counter")
	}
	return o, nil
}

// Prepare selects the niche and saves a pending campaign.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*models.Campaign, error) {
	return o.prepare(ctx, req, false)
}

// prepare saves a pending campaign. With reserve set, the campaign is
// reserved for the caller before it becomes visible, so a poller cannot
// execute it first.
func (o *Orchestrator) prepare(ctx context.Context, req Request, reserve bool) (*models.Campaign, error) {
	if req.TargetLeadCount == 0 {
		req.TargetLeadCount = o.cfg.DefaultTargetLeadCount
	}
	if req.TargetLeadCount <= 0 {
		return nil, fmt.Errorf("%w: target_lead_count must be positive", models.ErrValidation)
	}
	if strings.TrimSpace(req.Location) == "" {
		req.Location = o.cfg.DefaultLocation
	}

	c := &models.Campaign{
		ID:              uuid.New().String(),
		Niche:           strings.TrimSpace(req.Niche),
		Location:        strings.TrimSpace(req.Location),
		TargetLeadCount: req.TargetLeadCount,
		Status:          models.CampaignStatusPending,
		ParentID:        req.ParentID,
		CreatedAt:       time.Now().UTC(),
		ErrorSummary:    []models.StageError{},
	}

	if reserve {
		o.mu.Lock()
		o.reserved[c.ID] = true
		o.mu.Unlock()
	}

	if c.Niche != "" {
		if err := o.store.SaveCampaign(ctx, c); err != nil {
			o.unreserve(c.ID)
			return nil, eris.Wrap(err, "orchestrator: save pending campaign")
		}
		return c, nil
	}

	o.selectMu.Lock()
	defer o.selectMu.Unlock()

	niche, lockID, err := o.selectNiche(ctx, req.Exclude)
	if err != nil {
		o.unreserve(c.ID)
		return nil, err
	}
	c.Niche = niche
	if lockID != "" {
		o.mu.Lock()
		o.locks[c.ID] = lockID
		o.mu.Unlock()
	}
	if err := o.store.SaveCampaign(ctx, c); err != nil {
		o.unreserve(c.ID)
		o.mu.Lock()
		delete(o.locks, c.ID)
		o.mu.Unlock()
		o.releaseLock(ctx, lockID)
		return nil, eris.Wrap(err, "orchestrator: save pending campaign")
	}
	o.logger.Info("niche selected", zap.String("campaign_id", c.ID), zap.String("niche", niche))
	return c, nil
}

func (o *Orchestrator) unreserve(id string) {
	o.mu.Lock()
	delete(o.reserved, id)
	o.mu.Unlock()
}

func (o *Orchestrator) selectNiche(ctx context.Context, exclude []string) (string, string, error) {
	if o.strategy == nil {
		return "", "", fmt.Errorf("%w: no strategy configured", ErrNoEligibleNiche)
	}
	candidates, err := o.strategy.Candidates(ctx)
	if err != nil {
		return "", "", eris.Wrap(err, "orchestrator: strategy candidates")
	}

	active := true
	inFlight, err := o.store.ListCampaigns(ctx, models.CampaignFilter{Active: &active})
	if err != nil {
		return "", "", eris.Wrap(err, "orchestrator: list active campaigns")
	}
	busy := map[string]bool{}
	for _, c := range inFlight {
		busy[strings.ToLower(c.Niche)] = true
	}
	for _, n := range exclude {
		busy[strings.ToLower(strings.TrimSpace(n))] = true
	}

	for _, niche := range candidates {
		niche = strings.TrimSpace(niche)
		if niche == "" || busy[strings.ToLower(niche)] {
			continue
		}
		exhausted, err := o.store.IsNicheExhausted(ctx, niche, o.cfg.ExhaustionWindow)
		if err != nil {
			return "", "", eris.Wrapf(err, "orchestrator: check exhaustion of %s", niche)
		}
		if exhausted {
			o.logger.Debug("skipping exhausted niche", zap.String("niche", niche))
			continue
		}
		if o.locker == nil {
			return niche, "", nil
		}
		lock, err := o.locker.AcquireNicheLock(ctx, niche, o.holderID, o.cfg.LockTTL)
		if errors.Is(err, store.ErrResourceLocked) {
			o.logger.Debug("skipping locked niche", zap.String("niche", niche))
			continue
		}
		if err != nil {
			return "", "", eris.Wrapf(err, "orchestrator: lock niche %s", niche)
		}
		return niche, lock.ID, nil
	}
	return "", "", ErrNoEligibleNiche
}

func (o *Orchestrator) releaseLock(ctx context.Context, lockID string) {
	if lockID == "" || o.locker == nil {
		return
	}
	if err := o.locker.ReleaseNicheLock(context.WithoutCancel(ctx), lockID); err != nil {
		o.logger.Warn("failed to release niche lock", zap.String("lock_id", lockID), zap.Error(err))
	}
}

// Run prepares and executes a campaign synchronously.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResult, error) {
	c, err := o.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, c, true)
}

// RunMany runs independent campaigns with at most parallel in flight.
// Results are returned in request order; a request that could not be
// prepared leaves a nil entry and its error is returned after all runs end.
func (o *Orchestrator) RunMany(ctx context.Context, reqs []Request, parallel int) ([]*RunResult, error) {
	results := make([]*RunResult, len(reqs))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Run(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	return results, g.Wait()
}

// Cancel stops an in-flight run. It reports whether the campaign was running here.
func (o *Orchestrator) Cancel(campaignID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[campaignID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelQueued fails a pending campaign with reason cancelled. The campaign
// is reserved while it is failed, so no run in this process can start it;
// a run in another process refuses it once the failed record is stored.
// It returns ErrAlreadyRunning when the campaign is running or about to run
// here, and store.ErrCampaignFinished when it has already finished.
func (o *Orchestrator) CancelQueued(ctx context.Context, campaignID string) (*models.Campaign, error) {
	o.mu.Lock()
	if _, ok := o.running[campaignID]; ok || o.reserved[campaignID] {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.reserved[campaignID] = true
	o.mu.Unlock()
	defer o.unreserve(campaignID)

	c, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Status.IsTerminal():
		return c, fmt.Errorf("cancel %s: %w", campaignID, store.ErrCampaignFinished)
	case c.Status != models.CampaignStatusPending:
		return c, ErrAlreadyRunning
	}

	if err := models.Fail(c, models.StageCollect, models.ReasonCancelled, time.Now()); err != nil {
		return nil, err
	}
	if err := o.store.SaveCampaign(ctx, c); err != nil {
		return nil, eris.Wrap(err, "orchestrator: save cancelled campaign")
	}

	o.mu.Lock()
	lockID := o.locks[campaignID]
	delete(o.locks, campaignID)
	o.mu.Unlock()
	o.releaseLock(ctx, lockID)

	o.campaignCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.Status))))
	o.logger.Info("queued campaign cancelled", zap.String("campaign_id", campaignID))
	return c, nil
}

// IsRunning reports whether a run for the campaign is in flight or about
// to start in this process.
func (o *Orchestrator) IsRunning(campaignID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[campaignID]
	return ok || o.reserved[campaignID]
}

// RecoverInterrupted fails running campaigns that have no live run in this
// process, typically left behind by a crash. It returns how many were recovered.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := o.store.ListCampaigns(ctx, models.CampaignFilter{Status: models.CampaignStatusRunning})
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: list running campaigns")
	}
	recovered := 0
	for i := range stale {
		c := &stale[i]
		if o.IsRunning(c.ID) {
			continue
		}
		stage := models.StageCollect
		if n := len(c.Stages); n > 0 {
			stage = c.Stages[n-1].Stage
		}
		if err := models.Fail(c, stage, models.ReasonInterrupted, time.Now()); err != nil {
			return recovered, err
		}
		if err := o.store.SaveCampaign(ctx, c); err != nil {
			if errors.Is(err, store.ErrCampaignFinished) {
				continue
			}
			return recovered, eris.Wrapf(err, "orchestrator: save recovered campaign %s", c.ID)
		}
		o.campaignCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.Status))))
		o.logger.Warn("recovered interrupted campaign", zap.String("campaign_id", c.ID), zap.String("stage", string(stage)))
		recovered++
	}
	return recovered, nil
}
