package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isCorruption reports whether err means the database file is unreadable.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStorageCorruption) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

// heal swaps in a fresh database if no other caller has done so since gen.
func (s *Store) heal(gen int, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return nil
	}
	if s.path == "" {
		return fmt.Errorf("%w: %v", ErrStorageCorruption, cause)
	}

	s.db.Close()
	db, err := s.reinitialize(cause)
	if err != nil {
		return err
	}
	s.db = db
	s.gen++
	return nil
}

// reinitialize moves the unreadable file aside and opens an empty database in its place.
func (s *Store) reinitialize(cause error) (*sql.DB, error) {
	quarantine := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, quarantine); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("quarantine corrupt db: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(s.path + suffix)
	}

	s.logger.Warn("database unreadable, reinitialized empty; previous records are lost",
		zap.String("path", s.path),
		zap.String("quarantined_to", quarantine),
		zap.Error(cause),
	)

	db, err := openDB(s.path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate after recovery: %w", err)
	}
	return db, nil
}
