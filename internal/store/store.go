// Package store provides SQLite-backed persistence for conductor.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorageCorruption indicates the backing file could not be parsed.
	// Stores recover from it internally; it only escapes when recovery is impossible.
	ErrStorageCorruption = errors.New("storage corrupted")
	// ErrResourceLocked indicates the niche is already locked by another holder.
	ErrResourceLocked = errors.New("resource already locked")
	// ErrCampaignFinished indicates the stored campaign is completed or failed
	// and can no longer be written.
	ErrCampaignFinished = errors.New("campaign already finished")
)

// Store provides access to the conductor SQLite database.
type Store struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	db  *sql.DB
	gen int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l.Named("store")
		}
	}
}

// New creates a new Store and runs migrations. An unreadable database file is
// quarantined and replaced by an empty one.
func New(dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	s := &Store{path: dbPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		if !isCorruption(err) {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if db, err = s.reinitialize(err); err != nil {
			return nil, err
		}
	}
	s.db = db
	return s, nil
}

// NewWithDB wraps an already-open database without migrating it.
// The resulting store cannot recover from corruption.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		niche TEXT NOT NULL,
		niche_key TEXT NOT NULL,
		location TEXT NOT NULL,
		target_lead_count INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		parent_id TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		collected INTEGER NOT NULL DEFAULT 0,
		cleaned INTEGER NOT NULL DEFAULT 0,
		classified INTEGER NOT NULL DEFAULT 0,
		exported INTEGER NOT NULL DEFAULT 0,
		contacted INTEGER NOT NULL DEFAULT 0,
		error_summary TEXT NOT NULL DEFAULT '[]',
		stages TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_logs (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		campaign_id TEXT,
		timestamp DATETIME NOT NULL,
		input_summary TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		output TEXT NOT NULL,
		feedback_score REAL,
		feedback_text TEXT,
		feedback_source TEXT,
		feedback_validated INTEGER,
		feedback_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS unit_quality (
		unit_id TEXT PRIMARY KEY,
		average_score REAL NOT NULL,
		feedback_count INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS niche_locks (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
	CREATE INDEX IF NOT EXISTS idx_campaigns_niche_key ON campaigns(niche_key);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_unit_id ON agent_logs(unit_id);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_campaign_id ON agent_logs(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_scored ON agent_logs(unit_id) WHERE feedback_score IS NOT NULL;
	`

	_, err := db.Exec(schema)
	return err
}

// conn returns the current handle and its generation.
func (s *Store) conn() (*sql.DB, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db, s.gen
}

// withDB runs fn against the database. If fn fails because the file is
// corrupt, the store is reinitialized and fn is retried once.
func (s *Store) withDB(fn func(db *sql.DB) error) error {
	db, gen := s.conn()
	err := fn(db)
	if err == nil || !isCorruption(err) {
		return err
	}
	if healErr := s.heal(gen, err); healErr != nil {
		return healErr
	}
	db, _ = s.conn()
	return fn(db)
}
