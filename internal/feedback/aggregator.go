// Package feedback attaches quality scores to AgentLogs and aggregates them per decision unit.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrInvalidScore is returned for scores outside [0, 5].
	ErrInvalidScore = errors.New("feedback score must be between 0 and 5")
	// ErrNotFound is returned when the AgentLog does not exist.
	ErrNotFound = store.ErrNotFound
)

// Store is the persistence the aggregator needs.
type Store interface {
	AttachFeedback(ctx context.Context, logID string, fb models.Feedback) (*models.AgentLog, error)
	ListScoredLogs(ctx context.Context, unitID string) ([]models.AgentLog, error)
	ListAgentLogs(ctx context.Context, filter models.AgentLogFilter) ([]models.AgentLog, error)
	UpsertUnitQuality(ctx context.Context, q models.UnitQuality) error
	GetUnitQuality(ctx context.Context, unitID string) (*models.UnitQuality, error)
}

// Aggregator owns feedback attachment and unit quality.
type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// mu serializes attach+recompute so a unit's stored average always
	// reflects every attach that returned before it.
	mu sync.Mutex
}

// NewAggregator creates a feedback aggregator.
func NewAggregator(s Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: s, logger: logger.Named("feedback"), now: time.Now}
}

// AttachFeedback sets the feedback of one AgentLog, replacing any earlier
// feedback, and recomputes the owning unit's average from its full history.
func (a *Aggregator) AttachFeedback(ctx context.Context, logID string, fb models.Feedback) (*models.AgentLog, error) {
	if fb.Score < 0 || fb.Score > models.MaxFeedbackScore || math.IsNaN(fb.Score) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidScore, fb.Score)
	}
	if fb.Source == "" {
		fb.Source = models.FeedbackSourceHuman
	}
	fb.Timestamp = a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.store.AttachFeedback(ctx, logID, fb)
	if err != nil {
		return nil, err
	}

	// The feedback is committed at this point; a stale unit average is
	// repaired by the next attach for the unit.
	quality, err := a.recompute(ctx, entry.UnitID)
	if err != nil {
		a.logger.Warn("feedback attached but unit average not updated",
			zap.String("log_id", logID),
			zap.String("unit_id", entry.UnitID),
			zap.Error(err),
		)
		return entry, nil
	}

	a.logger.Info("feedback attached",
		zap.String("log_id", logID),
		zap.String("unit_id", entry.UnitID),
		zap.Float64("score", fb.Score),
		zap.Float64("unit_average", quality.AverageScore),
		zap.Int("unit_feedback_count", quality.FeedbackCount),
	)
	return entry, nil
}

func (a *Aggregator) recompute(ctx context.Context, unitID string) (*models.UnitQuality, error) {
	logs, err := a.store.ListScoredLogs(ctx, unitID)
	if err != nil {
		return nil, err
	}
	stats := Summarize(unitID, logs)
	q := models.UnitQuality{
		UnitID:        unitID,
		AverageScore:  stats.AverageScore,
		FeedbackCount: stats.TotalFeedbacks,
		UpdatedAt:     a.now().UTC(),
	}
	if err := a.store.UpsertUnitQuality(ctx, q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Stats aggregates feedback for one unit, or for every unit when unitID is empty.
func (a *Aggregator) Stats(ctx context.Context, unitID string) (*models.FeedbackStats, error) {
	logs, err := a.store.ListScoredLogs(ctx, unitID)
	if err != nil {
		return nil, err
	}
	stats := Summarize(unitID, logs)
	return &stats, nil
}

// UnitQuality returns the stored average for a unit. A unit that never
// received feedback reports a zero average.
func (a *Aggregator) UnitQuality(ctx context.Context, unitID string) (*models.UnitQuality, error) {
	q, err := a.store.GetUnitQuality(ctx, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.UnitQuality{UnitID: unitID}, nil
	}
	return q, err
}

// PendingReview lists AgentLogs that still lack feedback, newest first.
func (a *Aggregator) PendingReview(ctx context.Context, unitID string, limit int) ([]models.AgentLog, error) {
	return a.store.ListAgentLogs(ctx, models.AgentLogFilter{UnitID: unitID, Pending: true, Limit: limit})
}

// Summarize computes feedback statistics over already-scored logs.
// Logs without feedback are ignored.
func Summarize(unitID string, logs []models.AgentLog) models.FeedbackStats {
	stats := models.FeedbackStats{UnitID: unitID, BySource: map[string]int{}}
	var sum float64
	for _, l := range logs {
		if l.Feedback == nil {
			continue
		}
		score := l.Feedback.Score
		sum += score
		stats.TotalFeedbacks++
		stats.BySource[l.Feedback.Source]++
		if l.Feedback.Validated {
			stats.Validated++
		}
		switch Bucket(score) {
		case BucketExcellent:
			stats.Distribution.Excellent++
		case BucketGood:
			stats.Distribution.Good++
		case BucketAverage:
			stats.Distribution.Average++
		case BucketPoor:
			stats.Distribution.Poor++
		default:
			stats.Distribution.Bad++
		}
	}
	if stats.TotalFeedbacks > 0 {
		stats.AverageScore = sum / float64(stats.TotalFeedbacks)
	}
	return stats
}
