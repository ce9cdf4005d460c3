package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/berinia/conductor/internal/audit"
	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/connectors/crmfile"
	"github.com/berinia/conductor/internal/connectors/fixture"
	"github.com/berinia/conductor/internal/connectors/rules"
	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/pivot"
	"github.com/berinia/conductor/internal/store"
)

func contact(name, email string) fixture.Contact {
	return fixture.Contact{RawContact: connectors.RawContact{Name: name, Email: email, JobTitle: "Owner"}}
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	collector := fixture.New("fixture", fixture.File{Niches: map[string][]fixture.Contact{
		"bakery": {contact("ada lovelace", "ada@bakery.com"), contact("grace hopper", "grace@bakery.com")},
	}})
	exporter, err := crmfile.New(filepath.Join(t.TempDir(), "crm.csv"), nil)
	if err != nil {
		t.Fatalf("Failed to create exporter: %v", err)
	}
	stages, err := pipeline.Default(pipeline.Capabilities{
		Collector:  collector,
		Classifier: rules.New(rules.DefaultConfig()),
		Exporter:   exporter,
	}, pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to build pipeline: %v", err)
	}

	recorder := audit.NewRecorder(st, nil)
	orch, err := orchestrator.New(st, stages, orchestrator.DefaultConfig(),
		orchestrator.WithRecorder(recorder),
		orchestrator.WithStrategy(orchestrator.StaticStrategy{"bakery"}),
		orchestrator.WithLocker(st))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	agg := feedback.NewAggregator(st, nil)

	service := NewService(Deps{
		Campaigns:    st,
		Logs:         st,
		Health:       st,
		Orchestrator: orch,
		Feedback:     agg,
		Evaluator:    feedback.NewEvaluator(agg, st, nil),
		Pivot:        pivot.NewEngine(st, agg, recorder, pivot.DefaultThresholds(), nil),
	})
	return NewServer(service, "127.0.0.1:0", nil), st
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.Handler(), http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	s, st := newTestServer(t)
	st.Close()

	w := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.OK {
		t.Error("Expected health.OK to be false")
	}
}

func TestStartCampaignQueuesPending(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/campaigns", StartRequest{Niche: "bakery", Location: "Paris", TargetLeadCount: 5})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var c models.Campaign
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatalf("Failed to decode campaign: %v", err)
	}
	if c.Status != models.CampaignStatusPending {
		t.Errorf("Expected pending, got %s", c.Status)
	}

	w = do(t, h, http.MethodGet, "/campaigns/"+c.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/campaigns?status=pending", nil)
	var list []models.Campaign
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != c.ID {
		t.Errorf("Expected the queued campaign in the pending list, got %+v", list)
	}
}

func TestCancelQueuedCampaign(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/campaigns", StartRequest{Niche: "bakery", TargetLeadCount: 5})
	var c models.Campaign
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatalf("Failed to decode campaign: %v", err)
	}

	w = do(t, h, http.MethodPost, "/campaigns/"+c.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var cancelled models.Campaign
	if err := json.NewDecoder(w.Body).Decode(&cancelled); err != nil {
		t.Fatalf("Failed to decode campaign: %v", err)
	}
	if cancelled.Status != models.CampaignStatusFailed {
		t.Errorf("Expected failed, got %s", cancelled.Status)
	}
	if len(cancelled.ErrorSummary) != 1 || cancelled.ErrorSummary[0].Reason != models.ReasonCancelled {
		t.Errorf("Expected a cancelled error summary, got %+v", cancelled.ErrorSummary)
	}

	w = do(t, h, http.MethodPost, "/campaigns/"+c.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a finished campaign, got %d", w.Code)
	}
}

func TestRunCampaignAndScoreFeedback(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/campaigns", StartRequest{Niche: "bakery", TargetLeadCount: 5, Wait: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var c models.Campaign
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatalf("Failed to decode campaign: %v", err)
	}
	if c.Status != models.CampaignStatusCompleted {
		t.Fatalf("Expected completed, got %s (%+v)", c.Status, c.ErrorSummary)
	}
	if c.Counts.Collected != 2 {
		t.Errorf("Expected 2 collected, got %d", c.Counts.Collected)
	}

	w = do(t, h, http.MethodGet, "/logs?unit=classifier&pending=true", nil)
	var logs []models.AgentLog
	if err := json.NewDecoder(w.Body).Decode(&logs); err != nil {
		t.Fatalf("Failed to decode logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 pending classifier logs, got %d", len(logs))
	}

	w = do(t, h, http.MethodPost, "/logs/"+logs[0].ID+"/feedback", models.Feedback{Score: 4.5})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPost, "/logs/"+logs[1].ID+"/feedback", models.Feedback{Score: 9})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an out-of-range score, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/feedback/stats?unit=classifier", nil)
	var stats models.FeedbackStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.TotalFeedbacks != 1 || stats.AverageScore != 4.5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEvaluateScoresFinishedRun(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/campaigns", StartRequest{Niche: "bakery", TargetLeadCount: 5, Wait: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/feedback/evaluate", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/feedback/evaluate?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var report feedback.EvaluationReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	// Two hot classifier verdicts and one decider selection.
	if report.Examined != 3 || report.Scored != 3 {
		t.Errorf("Unexpected report: %+v", report)
	}

	w = do(t, h, http.MethodGet, "/feedback/stats?unit=decider", nil)
	var stats models.FeedbackStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.TotalFeedbacks != 1 || stats.BySource[models.FeedbackSourceAgent] != 1 {
		t.Errorf("Expected one agent score for the decider, got %+v", stats)
	}
}

func TestStartWithoutNicheUsesStrategy(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/campaigns", StartRequest{TargetLeadCount: 5})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	// The only candidate is now busy.
	w = do(t, h, http.MethodPost, "/campaigns", StartRequest{TargetLeadCount: 5})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 with no eligible niche, got %d", w.Code)
	}

	all, err := st.ListCampaigns(context.Background(), models.CampaignFilter{})
	if err != nil {
		t.Fatalf("ListCampaigns: %v", err)
	}
	if len(all) != 1 || all[0].Niche != "bakery" {
		t.Errorf("Expected one bakery campaign, got %+v", all)
	}
}

func TestDecideRequiresNiche(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/decide", DecideRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/decide", DecideRequest{Niche: "bakery"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp DecideResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode decision: %v", err)
	}
	if resp.Decision.Action != models.PivotContinue {
		t.Errorf("Expected continue without history, got %s", resp.Decision.Action)
	}
}

func TestNotFoundAndBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/campaigns/missing", http.StatusNotFound},
		{http.MethodGet, "/campaigns?status=paused", http.StatusBadRequest},
		{http.MethodGet, "/campaigns?active=maybe", http.StatusBadRequest},
		{http.MethodGet, "/logs?limit=-1", http.StatusBadRequest},
		{http.MethodDelete, "/campaigns", http.StatusMethodNotAllowed},
		{http.MethodGet, "/logs/missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := do(t, h, tc.method, tc.path, nil)
		if w.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, w.Code)
		}
	}
}

func TestWorkersWithoutScheduler(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.Handler(), http.MethodGet, "/workers", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
