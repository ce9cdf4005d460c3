package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// CampaignStore is the campaign persistence surface shared by Store and FileStore.
type CampaignStore interface {
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error)
	IsNicheExhausted(ctx context.Context, niche string, within time.Duration) (bool, error)
	Close() error
}

var (
	_ CampaignStore = (*Store)(nil)
	_ CampaignStore = (*FileStore)(nil)
)

// campaignDocument is the on-disk layout of a FileStore.
type campaignDocument struct {
	Campaigns   []models.Campaign `json:"campaigns"`
	LastUpdated time.Time         `json:"last_updated"`
}

// FileStore keeps campaigns in a single JSON document that is rewritten
// with write-new-then-rename, so readers never observe a partial file.
// Every read-modify-write holds an advisory lock on <path>.lock, so several
// processes may share one document.
type FileStore struct {
	path     string
	logger   *zap.Logger
	mu       sync.Mutex
	fileLock *flock.Flock
}

// lockRetry is how often a blocked caller retries the file lock.
const lockRetry = 10 * time.Millisecond

// NewFileStore opens (or creates) the campaign document at path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent for %s: %w", path, err)
	}
	fs := &FileStore{
		path:     path,
		logger:   logger.Named("filestore"),
		fileLock: flock.New(path + ".lock"),
	}

	err := fs.withLock(context.Background(), func() error {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fs.write(&campaignDocument{Campaigns: []models.Campaign{}})
		}
		_, err := fs.load()
		return err
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// Close is a no-op; every operation flushes to disk and releases the lock.
func (fs *FileStore) Close() error { return nil }

// withLock runs fn holding both the in-process mutex and the file lock.
func (fs *FileStore) withLock(ctx context.Context, fn func() error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	locked, err := fs.fileLock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock campaign file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock campaign file: %w", ctx.Err())
	}
	defer func() {
		if err := fs.fileLock.Unlock(); err != nil {
			fs.logger.Warn("failed to unlock campaign file", zap.String("path", fs.path), zap.Error(err))
		}
	}()
	return fn()
}

// SaveCampaign inserts or replaces the campaign with c.ID. A stored campaign
// that is completed or failed is never replaced; saving over one returns
// ErrCampaignFinished.
func (fs *FileStore) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		return fmt.Errorf("save campaign: empty id")
	}
	return fs.withLock(ctx, func() error {
		doc, err := fs.load()
		if err != nil {
			return err
		}
		record := *c
		record.ErrorSummary = nonNilErrors(c.ErrorSummary)

		replaced := false
		for i := range doc.Campaigns {
			if doc.Campaigns[i].ID != c.ID {
				continue
			}
			if doc.Campaigns[i].Status.IsTerminal() {
				return fmt.Errorf("save campaign %s: %w", c.ID, ErrCampaignFinished)
			}
			doc.Campaigns[i] = record
			replaced = true
			break
		}
		if !replaced {
			doc.Campaigns = append(doc.Campaigns, record)
		}
		return fs.write(doc)
	})
}

// GetCampaign retrieves a campaign by ID. It returns ErrNotFound if absent.
func (fs *FileStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var found *models.Campaign
	err := fs.withLock(ctx, func() error {
		doc, err := fs.load()
		if err != nil {
			return err
		}
		for i := range doc.Campaigns {
			if doc.Campaigns[i].ID == id {
				c := doc.Campaigns[i]
				found = &c
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListCampaigns returns campaigns matching the filter, oldest first.
func (fs *FileStore) ListCampaigns(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, error) {
	var out []models.Campaign
	err := fs.withLock(ctx, func() error {
		doc, err := fs.load()
		if err != nil {
			return err
		}
		for i := range doc.Campaigns {
			if filter.Matches(&doc.Campaigns[i]) {
				out = append(out, doc.Campaigns[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortCampaigns(out)
	return out, nil
}

// IsNicheExhausted reports whether a completed campaign for niche finished within the window.
func (fs *FileStore) IsNicheExhausted(ctx context.Context, niche string, within time.Duration) (bool, error) {
	completed, err := fs.ListCampaigns(ctx, models.CampaignFilter{Niche: niche, Status: models.CampaignStatusCompleted})
	if err != nil {
		return false, err
	}
	return exhausted(completed, within, time.Now()), nil
}

// load reads the document. An unparseable document is quarantined and
// replaced with an empty one. Callers must hold the lock.
func (fs *FileStore) load() (*campaignDocument, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return &campaignDocument{Campaigns: []models.Campaign{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read campaign file: %w", err)
	}

	var doc campaignDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fs.reset(err)
	}
	if doc.Campaigns == nil {
		doc.Campaigns = []models.Campaign{}
	}
	return &doc, nil
}

func (fs *FileStore) reset(cause error) (*campaignDocument, error) {
	quarantine := fmt.Sprintf("%s.corrupt-%d", fs.path, time.Now().Unix())
	if err := os.Rename(fs.path, quarantine); err != nil {
		return nil, fmt.Errorf("quarantine corrupt campaign file: %w", err)
	}
	fs.logger.Warn("campaign file unreadable, reinitialized empty; previous records are lost",
		zap.String("path", fs.path),
		zap.String("quarantined_to", quarantine),
		zap.Error(cause),
	)

	doc := &campaignDocument{Campaigns: []models.Campaign{}}
	if err := fs.write(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// write replaces the document atomically. Callers must hold the lock.
func (fs *FileStore) write(doc *campaignDocument) error {
	doc.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal campaigns: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(fs.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".conductor-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
