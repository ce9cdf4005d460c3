// Package controlplane provides the HTTP API and service layer for conductor.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/pivot"
	"github.com/berinia/conductor/internal/scheduler"
	"github.com/berinia/conductor/internal/store"
	"go.uber.org/zap"
)

// LogReader reads AgentLogs.
type LogReader interface {
	GetAgentLog(ctx context.Context, id string) (*models.AgentLog, error)
	ListAgentLogs(ctx context.Context, filter models.AgentLogFilter) ([]models.AgentLog, error)
}

// Pinger checks storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the control plane.
type Deps struct {
	Campaigns    store.CampaignStore
	Logs         LogReader
	Health       Pinger
	Orchestrator *orchestrator.Orchestrator
	Feedback     *feedback.Aggregator
	Evaluator    *feedback.Evaluator
	Pivot        *pivot.Engine
	Scheduler    *scheduler.Scheduler
	Logger       *zap.Logger
}

// Service provides the control plane business logic.
type Service struct {
	campaigns store.CampaignStore
	logs      LogReader
	health    Pinger
	orch      *orchestrator.Orchestrator
	feedback  *feedback.Aggregator
	evaluator *feedback.Evaluator
	pivot     *pivot.Engine
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewService creates a new control plane service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		campaigns: d.Campaigns,
		logs:      d.Logs,
		health:    d.Health,
		orch:      d.Orchestrator,
		feedback:  d.Feedback,
		evaluator: d.Evaluator,
		pivot:     d.Pivot,
		scheduler: d.Scheduler,
		logger:    logger.Named("controlplane"),
	}
}

// --- Campaign Operations ---

// StartCampaign queues a pending campaign for the scheduler.
func (s *Service) StartCampaign(ctx context.Context, req orchestrator.Request) (*models.Campaign, error) {
	c, err := s.orch.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("campaign queued", zap.String("campaign_id", c.ID), zap.String("niche", c.Niche))
	return c, nil
}

// RunCampaign runs a campaign to completion before returning.
func (s *Service) RunCampaign(ctx context.Context, req orchestrator.Request) (*orchestrator.RunResult, error) {
	return s.orch.Run(ctx, req)
}

// GetCampaign retrieves a campaign by ID.
func (s *Service) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return s.campaigns.GetCampaign(ctx, id)
}

// ListCampaigns returns filtered campaigns.
func (s *Service) ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error) {
	if filter.Status != "" && !models.IsKnownStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, filter.Status)
	}
	return s.campaigns.ListCampaigns(ctx, filter)
}

// CancelCampaign stops a running campaign or fails a queued one.
// The returned campaign may still be running while its current item finishes.
func (s *Service) CancelCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	if s.orch.Cancel(id) {
		s.logger.Info("campaign cancel requested", zap.String("campaign_id", id))
		return s.campaigns.GetCampaign(ctx, id)
	}

	c, err := s.orch.CancelQueued(ctx, id)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		// The run may have started since the first attempt.
		if s.orch.Cancel(id) {
			s.logger.Info("campaign cancel requested", zap.String("campaign_id", id))
			return s.campaigns.GetCampaign(ctx, id)
		}
		return c, fmt.Errorf("%w: campaign is running elsewhere", ErrInvalidRequest)
	}
	return c, err
}

// --- Feedback Operations ---

// AttachFeedback scores an AgentLog.
func (s *Service) AttachFeedback(ctx context.Context, logID string, fb models.Feedback) (*models.AgentLog, error) {
	return s.feedback.AttachFeedback(ctx, logID, fb)
}

// FeedbackStats aggregates feedback for a unit, or all units when unit is empty.
func (s *Service) FeedbackStats(ctx context.Context, unitID string) (*models.FeedbackStats, error) {
	return s.feedback.Stats(ctx, unitID)
}

// PendingReview lists AgentLogs awaiting feedback.
func (s *Service) PendingReview(ctx context.Context, unitID string, limit int) ([]models.AgentLog, error) {
	return s.feedback.PendingReview(ctx, unitID, limit)
}

// EvaluateFeedback scores pending decisions from their campaigns' outcomes.
func (s *Service) EvaluateFeedback(ctx context.Context, limit int) (*feedback.EvaluationReport, error) {
	if s.evaluator == nil {
		return nil, fmt.Errorf("%w: no evaluator configured", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.evaluator.Evaluate(ctx, limit)
}

// GetLog retrieves an AgentLog by ID.
func (s *Service) GetLog(ctx context.Context, id string) (*models.AgentLog, error) {
	return s.logs.GetAgentLog(ctx, id)
}

// ListLogs returns filtered AgentLogs, newest first.
func (s *Service) ListLogs(ctx context.Context, filter models.AgentLogFilter) ([]models.AgentLog, error) {
	return s.logs.ListAgentLogs(ctx, filter)
}

// --- Pivot Operations ---

// DecideRequest asks for a pivot decision on a niche.
type DecideRequest struct {
	Niche           string `json:"niche"`
	Apply           bool   `json:"apply"`
	Location        string `json:"location,omitempty"`
	TargetLeadCount int    `json:"target_lead_count,omitempty"`
}

// DecideResponse is a decision and, when applied, the campaign it queued.
type DecideResponse struct {
	Decision *models.PivotDecision `json:"decision"`
	Queued   *models.Campaign      `json:"queued,omitempty"`
}

// DecideNiche evaluates a niche and optionally applies the decision.
func (s *Service) DecideNiche(ctx context.Context, req DecideRequest) (*DecideResponse, error) {
	if strings.TrimSpace(req.Niche) == "" {
		return nil, fmt.Errorf("%w: niche is required", ErrInvalidRequest)
	}
	d, err := s.pivot.Decide(ctx, req.Niche)
	if err != nil {
		return nil, err
	}
	resp := &DecideResponse{Decision: d}
	if req.Apply {
		resp.Queued, err = s.pivot.Apply(ctx, s.orch, d, req.Location, req.TargetLeadCount)
		if err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// --- Runtime ---

// Workers reports the scheduler's worker pool.
func (s *Service) Workers() scheduler.Stats {
	if s.scheduler == nil {
		return scheduler.Stats{NicheCounts: map[string]int{}, InFlight: []string{}}
	}
	return s.scheduler.GetStats()
}

// Health checks the backing store.
func (s *Service) Health(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health.Ping(ctx)
}
