package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/google/uuid"
)

const campaignColumns = `id, niche, location, target_lead_count, status, parent_id, created_at, started_at, completed_at,
	collected, cleaned, classified, exported, contacted, error_summary, stages`

// SaveCampaign inserts or replaces the campaign with c.ID in a single statement.
// A stored campaign that is completed or failed is never replaced; saving over
// one returns ErrCampaignFinished.
func (s *Store) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		return fmt.Errorf("save campaign: empty id")
	}
	summary, err := json.Marshal(nonNilErrors(c.ErrorSummary))
	if err != nil {
		return fmt.Errorf("encode error summary: %w", err)
	}
	stages, err := json.Marshal(c.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	return s.withDB(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO campaigns (id, niche, niche_key, location, target_lead_count, status, parent_id,
				created_at, started_at, completed_at, collected, cleaned, classified, exported, contacted,
				error_summary, stages, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				niche = excluded.niche, niche_key = excluded.niche_key, location = excluded.location,
				target_lead_count = excluded.target_lead_count, status = excluded.status,
				parent_id = excluded.parent_id, created_at = excluded.created_at,
				started_at = excluded.started_at, completed_at = excluded.completed_at,
				collected = excluded.collected, cleaned = excluded.cleaned, classified = excluded.classified,
				exported = excluded.exported, contacted = excluded.contacted,
				error_summary = excluded.error_summary, stages = excluded.stages, updated_at = excluded.updated_at
			WHERE campaigns.status NOT IN ('completed', 'failed')`,
			c.ID, c.Niche, strings.ToLower(c.Niche), c.Location, c.TargetLeadCount, c.Status, nullString(c.ParentID),
			c.CreatedAt.UTC(), nullTime(c.StartedAt), nullTime(c.CompletedAt),
			c.Counts.Collected, c.Counts.Cleaned, c.Counts.Classified, c.Counts.Exported, c.Counts.Contacted,
			string(summary), string(stages), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert campaign: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert campaign: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("save campaign %s: %w", c.ID, ErrCampaignFinished)
		}
		return nil
	})
}

// GetCampaign retrieves a campaign by ID. It returns ErrNotFound if absent.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c *models.Campaign
	err := s.withDB(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
		var err error
		c, err = scanCampaign(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns returns campaigns matching the filter, oldest first.
func (s *Store) ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.Niche != "" {
		where = append(where, `niche_key = ?`)
		args = append(args, strings.ToLower(filter.Niche))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	var campaigns []models.Campaign
	err := s.withDB(func(db *sql.DB) error {
		campaigns = campaigns[:0]
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query campaigns: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCampaign(rows)
			if err != nil {
				return err
			}
			if filter.Matches(c) {
				campaigns = append(campaigns, *c)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sortCampaigns(campaigns)
	return campaigns, nil
}

// IsNicheExhausted reports whether a completed campaign for niche finished within the window.
func (s *Store) IsNicheExhausted(ctx context.Context, niche string, within time.Duration) (bool, error) {
	completed, err := s.ListCampaigns(ctx, models.CampaignFilter{Niche: niche, Status: models.CampaignStatusCompleted})
	if err != nil {
		return false, err
	}
	return exhausted(completed, within, time.Now()), nil
}

// --- Niche locks ---

// AcquireNicheLock claims a niche for holderID for ttl. Expired locks are
// replaced; a live lock held by anyone else returns ErrResourceLocked.
func (s *Store) AcquireNicheLock(ctx context.Context, niche, holderID string, ttl time.Duration) (*models.Lock, error) {
	resourceID := strings.ToLower(niche)
	var lock *models.Lock

	err := s.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		now := time.Now().UTC()

		var existingID, existingHolder string
		var existingExpires time.Time
		err = tx.QueryRowContext(ctx,
			`SELECT id, holder_id, expires_at FROM niche_locks WHERE resource_id = ?`, resourceID,
		).Scan(&existingID, &existingHolder, &existingExpires)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("check existing lock: %w", err)
		case existingExpires.After(now) && existingHolder != holderID:
			return ErrResourceLocked
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM niche_locks WHERE id = ?`, existingID); err != nil {
				return fmt.Errorf("clean expired lock: %w", err)
			}
		}

		lock = &models.Lock{
			ID:         uuid.New().String(),
			ResourceID: resourceID,
			HolderID:   holderID,
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO niche_locks (id, resource_id, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
			lock.ID, lock.ResourceID, lock.HolderID, lock.CreatedAt, lock.ExpiresAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return ErrResourceLocked
			}
			return fmt.Errorf("insert lock: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ReleaseNicheLock releases a lock by ID. Releasing an unknown lock is a no-op.
func (s *Store) ReleaseNicheLock(ctx context.Context, lockID string) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM niche_locks WHERE id = ?`, lockID)
		return err
	})
}

// --- helpers shared with FileStore ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var parentID sql.NullString
	var startedAt, completedAt sql.NullTime
	var summary, stages string

	err := row.Scan(&c.ID, &c.Niche, &c.Location, &c.TargetLeadCount, &c.Status, &parentID,
		&c.CreatedAt, &startedAt, &completedAt,
		&c.Counts.Collected, &c.Counts.Cleaned, &c.Counts.Classified, &c.Counts.Exported, &c.Counts.Contacted,
		&summary, &stages)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}

	c.CreatedAt = c.CreatedAt.UTC()
	if parentID.Valid {
		c.ParentID = parentID.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		c.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(summary), &c.ErrorSummary); err != nil {
		return nil, fmt.Errorf("decode error summary: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &c.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	c.ErrorSummary = nonNilErrors(c.ErrorSummary)
	return &c, nil
}

func sortCampaigns(campaigns []models.Campaign) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		if !campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
			return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
		}
		return campaigns[i].ID < campaigns[j].ID
	})
}

func exhausted(completed []models.Campaign, within time.Duration, now time.Time) bool {
	cutoff := now.Add(-within)
	for _, c := range completed {
		if c.Status != models.CampaignStatusCompleted || c.CompletedAt == nil {
			continue
		}
		if !c.CompletedAt.Before(cutoff) && !c.CompletedAt.After(now) {
			return true
		}
	}
	return false
}

func nonNilErrors(errs []models.StageError) []models.StageError {
	if errs == nil {
		return []models.StageError{}
	}
	return errs
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
