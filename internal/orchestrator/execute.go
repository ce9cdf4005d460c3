package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/store"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Execute runs a pending campaign through every stage in order. The campaign
// is persisted after each stage; the terminal record is written exactly once.
// Stage failures and cancellation end the campaign as failed and are not
// returned as errors. The stored record is authoritative: c is refreshed from
// it, and a campaign that is no longer pending is not run.
func (o *Orchestrator) Execute(ctx context.Context, c *models.Campaign) (*RunResult, error) {
	return o.execute(ctx, c, false)
}

func (o *Orchestrator) execute(ctx context.Context, c *models.Campaign, reserved bool) (*RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if _, ok := o.running[c.ID]; ok || (o.reserved[c.ID] && !reserved) {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	delete(o.reserved, c.ID)
	o.running[c.ID] = cancel
	lockID := o.locks[c.ID]
	delete(o.locks, c.ID)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.running, c.ID)
		o.mu.Unlock()
		o.releaseLock(ctx, lockID)
	}()

	stored, err := o.store.GetCampaign(runCtx, c.ID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: reload campaign")
	}
	*c = *stored
	switch {
	case c.Status.IsTerminal():
		return nil, fmt.Errorf("execute %s: %w", c.ID, store.ErrCampaignFinished)
	case c.Status != models.CampaignStatusPending:
		return nil, ErrAlreadyRunning
	}

	if err := models.TransitionCampaign(c, models.CampaignStatusRunning, time.Now()); err != nil {
		return nil, err
	}
	if err := o.store.SaveCampaign(runCtx, c); err != nil {
		return nil, eris.Wrap(err, "orchestrator: save running campaign")
	}

	log := o.logger.With(zap.String("campaign_id", c.ID), zap.String("niche", c.Niche))
	log.Info("campaign started", zap.String("location", c.Location), zap.Int("target", c.TargetLeadCount))

	result := &RunResult{Campaign: c, Outcomes: map[models.StageName][]pipeline.Outcome{}}
	rc := &pipeline.RunContext{
		CampaignID:      c.ID,
		Niche:           c.Niche,
		Location:        c.Location,
		TargetLeadCount: c.TargetLeadCount,
		Logger:          log,
		Recorder:        o.recorder,
	}

	var items []models.Lead
	failed := false
	for i, stage := range o.stages {
		name := stage.Name()
		if i > 0 && len(items) == 0 {
			c.Stages = append(c.Stages, models.StageMetrics{Stage: name, Skipped: true})
			continue
		}
		if runCtx.Err() != nil {
			o.fail(c, name, models.ReasonCancelled)
			failed = true
			break
		}

		start := time.Now()
		res, err := stage.Process(runCtx, items, rc)
		metrics := stageMetrics(name, len(items), res, time.Since(start))
		c.Stages = append(c.Stages, metrics)
		o.recordItems(ctx, name, res)

		if err != nil {
			o.fail(c, name, failureReason(runCtx, err))
			log.Warn("stage failed", zap.String("stage", string(name)), zap.Error(err))
			failed = true
			break
		}

		items = res.Items
		c.Counts.Set(name, len(items))
		rc.Counts = c.Counts
		result.Outcomes[name] = res.Outcomes
		result.Held = append(result.Held, res.Held...)

		if name == models.StageCollect && len(items) == 0 {
			o.fail(c, name, models.ReasonNoLeads)
			failed = true
			break
		}

		if err := o.store.SaveCampaign(runCtx, c); err != nil {
			if errors.Is(err, store.ErrCampaignFinished) {
				return o.abandon(ctx, result, err)
			}
			log.Warn("failed to persist stage progress", zap.String("stage", string(name)), zap.Error(err))
		}
	}

	if !failed {
		if err := models.TransitionCampaign(c, models.CampaignStatusCompleted, time.Now()); err != nil {
			return nil, err
		}
	}

	// The terminal record must land even when the run was cancelled.
	if err := o.store.SaveCampaign(context.WithoutCancel(ctx), c); err != nil {
		if errors.Is(err, store.ErrCampaignFinished) {
			return o.abandon(ctx, result, err)
		}
		return result, eris.Wrap(err, "orchestrator: save terminal campaign")
	}
	o.campaignCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.Status))))
	log.Info("campaign finished",
		zap.String("status", string(c.Status)),
		zap.Int("collected", c.Counts.Collected),
		zap.Int("exported", c.Counts.Exported),
	)
	return result, nil
}

// abandon stops a run whose campaign was finished by someone else, such as a
// cancel or a restart recovery. The result carries the stored record.
func (o *Orchestrator) abandon(ctx context.Context, result *RunResult, cause error) (*RunResult, error) {
	c := result.Campaign
	o.logger.Warn("campaign finished elsewhere, run abandoned", zap.String("campaign_id", c.ID))
	if stored, err := o.store.GetCampaign(context.WithoutCancel(ctx), c.ID); err == nil {
		*c = *stored
	}
	return result, eris.Wrap(cause, "orchestrator: campaign finished during run")
}

func (o *Orchestrator) fail(c *models.Campaign, stage models.StageName, reason string) {
	if err := models.Fail(c, stage, reason, time.Now()); err != nil {
		o.logger.Error("invalid failure transition", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

func (o *Orchestrator) recordItems(ctx context.Context, stage models.StageName, res *pipeline.Result) {
	if res == nil {
		return
	}
	kept, dropped, errored, _ := res.Tally()
	for kind, n := range map[pipeline.OutcomeKind]int{
		pipeline.OutcomeKept:    kept,
		pipeline.OutcomeDropped: dropped,
		pipeline.OutcomeErrored: errored,
	} {
		if n == 0 {
			continue
		}
		o.itemCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("outcome", string(kind)),
		))
	}
}

func failureReason(runCtx context.Context, err error) string {
	if runCtx.Err() != nil || errors.Is(err, context.Canceled) {
		return models.ReasonCancelled
	}
	var ue *pipeline.UnavailableError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return err.Error()
}

func stageMetrics(stage models.StageName, input int, res *pipeline.Result, elapsed time.Duration) models.StageMetrics {
	m := models.StageMetrics{Stage: stage, Input: input, DurationMS: elapsed.Milliseconds()}
	if res == nil {
		return m
	}
	m.Kept, m.Dropped, m.Errored, m.Reasons = res.Tally()
	if len(m.Reasons) == 0 {
		m.Reasons = nil
	}
	return m
}
