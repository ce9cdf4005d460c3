// Package crmfile exports leads to a CSV file that a CRM import job picks up.
package crmfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
)

var header = []string{"campaign_id", "name", "email", "phone", "company", "job_title", "website", "quality_label", "confidence", "source", "exported_at"}

// CampaignLookup reports whether a campaign id is known.
type CampaignLookup func(ctx context.Context, campaignID string) bool

// Exporter appends leads to a CSV file. Each email is exported at most once per file.
type Exporter struct {
	path   string
	lookup CampaignLookup

	mu   sync.Mutex
	seen map[string]bool
}

// New opens the export file, creating it with a header if needed.
// lookup may be nil, in which case any non-empty campaign id is accepted.
func New(path string, lookup CampaignLookup) (*Exporter, error) {
	e := &Exporter{path: path, lookup: lookup, seen: map[string]bool{}}
	if err := e.loadSeen(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exporter) loadSeen() error {
	f, err := os.Open(e.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read export file: %w", err)
	}
	for i, rec := range records {
		if i == 0 || len(rec) < 3 {
			continue
		}
		e.seen[strings.ToLower(rec[2])] = true
	}
	return nil
}

// Export appends one lead. Duplicates and unknown campaigns are rejected;
// I/O failures report the CRM as unavailable.
func (e *Exporter) Export(ctx context.Context, lead models.Lead, campaignID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if campaignID == "" || (e.lookup != nil && !e.lookup(ctx, campaignID)) {
		return &connectors.RejectedError{Reason: "unknown campaign " + campaignID}
	}
	if !models.ValidEmail(lead.Email) {
		return &connectors.RejectedError{Reason: "invalid email"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := strings.ToLower(lead.Email)
	if e.seen[key] {
		return &connectors.RejectedError{Reason: "duplicate"}
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", connectors.ErrUnavailable, err)
	}
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", connectors.ErrUnavailable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", connectors.ErrUnavailable, err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	err = w.Write([]string{
		campaignID, lead.Name, lead.Email, lead.Phone, lead.Company, lead.JobTitle, lead.Website,
		string(lead.QualityLabel), strconv.FormatFloat(lead.Confidence, 'f', 3, 64), lead.Source,
		time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("write lead: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush export file: %w", err)
	}
	e.seen[key] = true
	return nil
}
