package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berinia/conductor/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestCampaignRoundTripAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	want := sampleCampaign("Dentists", models.CampaignStatusFailed)
	want.ErrorSummary = []models.StageError{{Stage: models.StageClassify, Reason: "classifier unreachable"}}
	want.Stages = []models.StageMetrics{{Stage: models.StageCollect, Input: 0, Kept: 12, DurationMS: 40, Reasons: map[string]int{"held: exceeds target": 2}}}
	if err := s.SaveCampaign(ctx, want); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}
	s.Close()

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetCampaign(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetCampaign failed: %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("campaign mismatch after restart (-want +got):\n%s", diff)
	}
}

func TestSaveCampaignUpserts(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	c := sampleCampaign("Plumbers", models.CampaignStatusRunning)
	c.CompletedAt = nil
	if err := s.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	c.Counts.Collected = 7
	if err := s.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("second SaveCampaign failed: %v", err)
	}

	all, err := s.ListCampaigns(ctx, models.CampaignFilter{})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 campaign, got %d", len(all))
	}
	if all[0].Counts.Collected != 7 {
		t.Errorf("Expected collected 7, got %d", all[0].Counts.Collected)
	}
}

func TestSaveCampaignKeepsFinishedRecord(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	c := sampleCampaign("Plumbers", models.CampaignStatusFailed)
	c.ErrorSummary = []models.StageError{{Stage: models.StageCollect, Reason: models.ReasonCancelled}}
	if err := s.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	stale := *c
	stale.Status = models.CampaignStatusRunning
	stale.CompletedAt = nil
	stale.ErrorSummary = nil
	err := s.SaveCampaign(ctx, &stale)
	if !errors.Is(err, ErrCampaignFinished) {
		t.Fatalf("Expected ErrCampaignFinished, got %v", err)
	}

	got, err := s.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign failed: %v", err)
	}
	if got.Status != models.CampaignStatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if len(got.ErrorSummary) != 1 || got.ErrorSummary[0].Reason != models.ReasonCancelled {
		t.Errorf("Expected the cancelled error summary to survive, got %+v", got.ErrorSummary)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestListCampaignsFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		niche  string
		status models.CampaignStatus
	}{
		{"Dentists", models.CampaignStatusCompleted},
		{"dentists", models.CampaignStatusRunning},
		{"Plumbers", models.CampaignStatusCompleted},
	} {
		c := sampleCampaign(spec.niche, spec.status)
		c.CreatedAt = base.Add(time.Duration(3-i) * time.Hour)
		if err := s.SaveCampaign(ctx, c); err != nil {
			t.Fatalf("SaveCampaign failed: %v", err)
		}
	}

	dentists, err := s.ListCampaigns(ctx, models.CampaignFilter{Niche: "DENTISTS"})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(dentists) != 2 {
		t.Fatalf("Expected 2 dentist campaigns, got %d", len(dentists))
	}
	if !dentists[0].CreatedAt.Before(dentists[1].CreatedAt) {
		t.Error("Expected campaigns ordered by created_at ascending")
	}

	active := true
	running, err := s.ListCampaigns(ctx, models.CampaignFilter{Active: &active})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(running) != 1 || running[0].Status != models.CampaignStatusRunning {
		t.Errorf("Expected exactly the running campaign, got %+v", running)
	}
}

func TestIsNicheExhausted(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	recent := sampleCampaign("Roofers", models.CampaignStatusCompleted)
	done := time.Now().UTC().Add(-2 * time.Hour)
	recent.CompletedAt = &done
	if err := s.SaveCampaign(ctx, recent); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	failed := sampleCampaign("Bakers", models.CampaignStatusFailed)
	failed.CompletedAt = &done
	if err := s.SaveCampaign(ctx, failed); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	tests := []struct {
		niche  string
		within time.Duration
		want   bool
	}{
		{"roofers", 24 * time.Hour, true},
		{"Roofers", time.Hour, false},
		{"Bakers", 24 * time.Hour, false},
		{"Nobody", 24 * time.Hour, false},
	}
	for _, tt := range tests {
		got, err := s.IsNicheExhausted(ctx, tt.niche, tt.within)
		if err != nil {
			t.Fatalf("IsNicheExhausted failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("IsNicheExhausted(%q, %s) = %v, want %v", tt.niche, tt.within, got, tt.want)
		}
	}
}

func TestCorruptDatabaseIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	garbage := []byte(strings.Repeat("this is definitely not an sqlite file\n", 64))
	if err := os.WriteFile(dbPath, garbage, 0644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Expected store to recover from corruption, got %v", err)
	}
	defer s.Close()

	campaigns, err := s.ListCampaigns(context.Background(), models.CampaignFilter{})
	if err != nil {
		t.Fatalf("ListCampaigns failed after recovery: %v", err)
	}
	if len(campaigns) != 0 {
		t.Errorf("Expected empty store after recovery, got %d campaigns", len(campaigns))
	}

	matches, _ := filepath.Glob(dbPath + ".corrupt-*")
	if len(matches) != 1 {
		t.Errorf("Expected one quarantined file, got %v", matches)
	}
}

func TestConcurrentSavesAreLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SaveCampaign(ctx, sampleCampaign("Florists", models.CampaignStatusPending)); err != nil {
				t.Errorf("SaveCampaign failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := s.ListCampaigns(ctx, models.CampaignFilter{Niche: "florists"})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(all) != 20 {
		t.Errorf("Expected 20 campaigns, got %d", len(all))
	}
}

func TestNicheLock(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	lock, err := s.AcquireNicheLock(ctx, "Dentists", "campaign-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireNicheLock failed: %v", err)
	}

	if _, err := s.AcquireNicheLock(ctx, "dentists", "campaign-b", time.Minute); !errors.Is(err, ErrResourceLocked) {
		t.Fatalf("Expected ErrResourceLocked, got %v", err)
	}

	if err := s.ReleaseNicheLock(ctx, lock.ID); err != nil {
		t.Fatalf("ReleaseNicheLock failed: %v", err)
	}
	if _, err := s.AcquireNicheLock(ctx, "dentists", "campaign-b", time.Minute); err != nil {
		t.Fatalf("Expected lock to be free after release, got %v", err)
	}
}

func TestNicheLockExpires(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.AcquireNicheLock(ctx, "Bakers", "campaign-a", -time.Second); err != nil {
		t.Fatalf("AcquireNicheLock failed: %v", err)
	}
	if _, err := s.AcquireNicheLock(ctx, "Bakers", "campaign-b", time.Minute); err != nil {
		t.Fatalf("Expected expired lock to be replaced, got %v", err)
	}
}

func TestAgentLogFeedback(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	entry, err := s.CreateAgentLog(ctx, models.UnitClassifier, "c1", "lead ada@example.com", "abc", "hot")
	if err != nil {
		t.Fatalf("CreateAgentLog failed: %v", err)
	}
	if entry.Feedback != nil {
		t.Fatal("New log should have no feedback")
	}

	pending, err := s.ListAgentLogs(ctx, models.AgentLogFilter{Pending: true})
	if err != nil {
		t.Fatalf("ListAgentLogs failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending log, got %d", len(pending))
	}

	fb := models.Feedback{Score: 4.5, Text: "spot on", Source: models.FeedbackSourceHuman, Validated: true, Timestamp: time.Now().UTC()}
	updated, err := s.AttachFeedback(ctx, entry.ID, fb)
	if err != nil {
		t.Fatalf("AttachFeedback failed: %v", err)
	}
	if updated.Feedback == nil || updated.Feedback.Score != 4.5 || !updated.Feedback.Validated {
		t.Errorf("Unexpected feedback after attach: %+v", updated.Feedback)
	}

	scored, err := s.ListScoredLogs(ctx, models.UnitClassifier)
	if err != nil {
		t.Fatalf("ListScoredLogs failed: %v", err)
	}
	if len(scored) != 1 {
		t.Fatalf("Expected 1 scored log, got %d", len(scored))
	}

	if _, err := s.AttachFeedback(ctx, "missing", fb); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown log, got %v", err)
	}
}

func TestUnitQuality(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.GetUnitQuality(ctx, models.UnitDecider); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	q := models.UnitQuality{UnitID: models.UnitDecider, AverageScore: 3.25, FeedbackCount: 4, UpdatedAt: time.Now().UTC()}
	if err := s.UpsertUnitQuality(ctx, q); err != nil {
		t.Fatalf("UpsertUnitQuality failed: %v", err)
	}
	got, err := s.GetUnitQuality(ctx, models.UnitDecider)
	if err != nil {
		t.Fatalf("GetUnitQuality failed: %v", err)
	}
	if got.AverageScore != 3.25 || got.FeedbackCount != 4 {
		t.Errorf("Unexpected unit quality: %+v", got)
	}
}

// Helper functions

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func sampleCampaign(niche string, status models.CampaignStatus) *models.Campaign {
	created := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	started := created.Add(time.Second)
	c := &models.Campaign{
		ID:              uuid.New().String(),
		Niche:           niche,
		Location:        "Lyon",
		TargetLeadCount: 10,
		Status:          status,
		CreatedAt:       created,
		StartedAt:       &started,
		Counts:          models.StageCounts{Collected: 12, Cleaned: 10, Classified: 9, Exported: 4, Contacted: 5},
		ErrorSummary:    []models.StageError{},
	}
	if status.IsTerminal() {
		completed := created.Add(time.Minute)
		c.CompletedAt = &completed
	}
	return c
}
