package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/google/uuid"
)

const agentLogColumns = `id, unit_id, campaign_id, timestamp, input_summary, inputs_hash, output,
	feedback_score, feedback_text, feedback_source, feedback_validated, feedback_at`

// CreateAgentLog inserts a new decision record without feedback.
func (s *Store) CreateAgentLog(ctx context.Context, unitID, campaignID, inputSummary, inputsHash, output string) (*models.AgentLog, error) {
	entry := &models.AgentLog{
		ID:           uuid.New().String(),
		UnitID:       unitID,
		CampaignID:   campaignID,
		Timestamp:    time.Now().UTC(),
		InputSummary: inputSummary,
		InputsHash:   inputsHash,
		Output:       output,
	}

	err := s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO agent_logs (id, unit_id, campaign_id, timestamp, input_summary, inputs_hash, output) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.UnitID, nullString(entry.CampaignID), entry.Timestamp, entry.InputSummary, entry.InputsHash, entry.Output,
		)
		if err != nil {
			return fmt.Errorf("insert agent log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetAgentLog retrieves an AgentLog by ID. It returns ErrNotFound if absent.
func (s *Store) GetAgentLog(ctx context.Context, id string) (*models.AgentLog, error) {
	var entry *models.AgentLog
	err := s.withDB(func(db *sql.DB) error {
		var err error
		entry, err = scanAgentLog(db.QueryRowContext(ctx, `SELECT `+agentLogColumns+` FROM agent_logs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AttachFeedback writes every feedback field of an AgentLog in one statement,
// overwriting any earlier feedback. It returns ErrNotFound if the log does not exist.
func (s *Store) AttachFeedback(ctx context.Context, logID string, fb models.Feedback) (*models.AgentLog, error) {
	var entry *models.AgentLog
	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx,
			`UPDATE agent_logs SET feedback_score = ?, feedback_text = ?, feedback_source = ?, feedback_validated = ?, feedback_at = ? WHERE id = ?`,
			fb.Score, fb.Text, fb.Source, fb.Validated, fb.Timestamp.UTC(), logID,
		)
		if err != nil {
			return fmt.Errorf("update feedback: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		entry, err = scanAgentLog(tx.QueryRowContext(ctx, `SELECT `+agentLogColumns+` FROM agent_logs WHERE id = ?`, logID))
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListScoredLogs returns every AgentLog that has feedback, for one unit or for all units when unitID is empty.
func (s *Store) ListScoredLogs(ctx context.Context, unitID string) ([]models.AgentLog, error) {
	query := `SELECT ` + agentLogColumns + ` FROM agent_logs WHERE feedback_score IS NOT NULL`
	var args []interface{}
	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	return s.queryAgentLogs(ctx, query, args...)
}

// ListAgentLogs returns AgentLogs newest first.
func (s *Store) ListAgentLogs(ctx context.Context, filter models.AgentLogFilter) ([]models.AgentLog, error) {
	query := `SELECT ` + agentLogColumns + ` FROM agent_logs WHERE 1 = 1`
	var args []interface{}
	if filter.UnitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, filter.UnitID)
	}
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if filter.Pending {
		query += ` AND feedback_score IS NULL`
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryAgentLogs(ctx, query, args...)
}

func (s *Store) queryAgentLogs(ctx context.Context, query string, args ...interface{}) ([]models.AgentLog, error) {
	var logs []models.AgentLog
	err := s.withDB(func(db *sql.DB) error {
		logs = logs[:0]
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query agent logs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			entry, err := scanAgentLog(rows)
			if err != nil {
				return err
			}
			logs = append(logs, *entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// --- Unit quality ---

// UpsertUnitQuality stores the current average score of a decision unit.
func (s *Store) UpsertUnitQuality(ctx context.Context, q models.UnitQuality) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO unit_quality (unit_id, average_score, feedback_count, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(unit_id) DO UPDATE SET average_score = excluded.average_score,
				feedback_count = excluded.feedback_count, updated_at = excluded.updated_at`,
			q.UnitID, q.AverageScore, q.FeedbackCount, q.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert unit quality: %w", err)
		}
		return nil
	})
}

// GetUnitQuality returns the stored quality of a unit, or ErrNotFound if it was never scored.
func (s *Store) GetUnitQuality(ctx context.Context, unitID string) (*models.UnitQuality, error) {
	q := &models.UnitQuality{}
	err := s.withDB(func(db *sql.DB) error {
		err := db.QueryRowContext(ctx,
			`SELECT unit_id, average_score, feedback_count, updated_at FROM unit_quality WHERE unit_id = ?`, unitID,
		).Scan(&q.UnitID, &q.AverageScore, &q.FeedbackCount, &q.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query unit quality: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.UpdatedAt = q.UpdatedAt.UTC()
	return q, nil
}

func scanAgentLog(row rowScanner) (*models.AgentLog, error) {
	var entry models.AgentLog
	var campaignID, text, source sql.NullString
	var score sql.NullFloat64
	var validated sql.NullBool
	var feedbackAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.UnitID, &campaignID, &entry.Timestamp, &entry.InputSummary, &entry.InputsHash, &entry.Output,
		&score, &text, &source, &validated, &feedbackAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent log: %w", err)
	}

	entry.Timestamp = entry.Timestamp.UTC()
	if campaignID.Valid {
		entry.CampaignID = campaignID.String
	}
	if score.Valid {
		entry.Feedback = &models.Feedback{
			Score:     score.Float64,
			Text:      text.String,
			Source:    source.String,
			Validated: validated.Bool,
			Timestamp: feedbackAt.Time.UTC(),
		}
	}
	return &entry, nil
}
