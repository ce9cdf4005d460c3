// Package audit records automated decisions as AgentLogs so they can later receive feedback.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/berinia/conductor/internal/models"
	"go.uber.org/zap"
)

// LogWriter persists AgentLogs.
type LogWriter interface {
	CreateAgentLog(ctx context.Context, unitID, campaignID, inputSummary, inputsHash, output string) (*models.AgentLog, error)
}

// Recorder writes decision records for decision units.
type Recorder struct {
	store  LogWriter
	logger *zap.Logger
}

// NewRecorder creates a new decision recorder.
func NewRecorder(w LogWriter, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: w, logger: logger.Named("audit")}
}

// Record writes one AgentLog. inputs is hashed for reproducibility; summary is the
// human-readable description shown to reviewers.
func (r *Recorder) Record(ctx context.Context, unitID, campaignID, summary string, inputs interface{}, output string) (*models.AgentLog, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	entry, err := r.store.CreateAgentLog(ctx, unitID, campaignID, summary, hashInputs(inputs), output)
	if err != nil {
		r.logger.Warn("failed to record decision",
			zap.String("unit_id", unitID),
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
		return nil, err
	}
	return entry, nil
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
