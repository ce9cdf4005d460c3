package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/berinia/conductor/internal/controlplane"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/scheduler"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the conductor API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListCampaigns fetches campaigns, optionally filtered by status
func (c *Client) ListCampaigns(status string) ([]models.Campaign, error) {
	path := "/campaigns"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []models.Campaign
	return out, c.get(path, &out)
}

// GetCampaign fetches a single campaign
func (c *Client) GetCampaign(id string) (*models.Campaign, error) {
	var out models.Campaign
	if err := c.get("/campaigns/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartCampaign queues a campaign; an empty niche lets the daemon choose
func (c *Client) StartCampaign(niche string, target int) (*models.Campaign, error) {
	var out models.Campaign
	req := controlplane.StartRequest{Niche: niche, TargetLeadCount: target}
	if err := c.post("/campaigns", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelCampaign cancels a queued or running campaign
func (c *Client) CancelCampaign(id string) error {
	return c.post("/campaigns/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// PendingLogs lists decision logs awaiting feedback
func (c *Client) PendingLogs(limit int) ([]models.AgentLog, error) {
	var out []models.AgentLog
	return out, c.get("/logs?pending=true&limit="+strconv.Itoa(limit), &out)
}

// AttachFeedback scores a decision log
func (c *Client) AttachFeedback(logID string, score float64, text string) error {
	fb := models.Feedback{Score: score, Text: text, Source: models.FeedbackSourceHuman}
	return c.post("/logs/"+url.PathEscape(logID)+"/feedback", fb, nil)
}

// FeedbackStats fetches aggregated feedback for a unit, or all units when empty
func (c *Client) FeedbackStats(unit string) (*models.FeedbackStats, error) {
	path := "/feedback/stats"
	if unit != "" {
		path += "?unit=" + url.QueryEscape(unit)
	}
	var out models.FeedbackStats
	if err := c.get(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide asks the daemon for a pivot decision
func (c *Client) Decide(niche string, apply bool) (*controlplane.DecideResponse, error) {
	var out controlplane.DecideResponse
	if err := c.post("/decide", controlplane.DecideRequest{Niche: niche, Apply: apply}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWorkers fetches the scheduler's worker pool
func (c *Client) GetWorkers() (*scheduler.Stats, error) {
	var out scheduler.Stats
	if err := c.get("/workers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK && health.OK, nil
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) post(path string, data, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
