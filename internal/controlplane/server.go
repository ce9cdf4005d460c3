package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"go.uber.org/zap"
)

// Version is reported by /health. Overridden at build time.
var Version = "0.1.0"

// Server provides the HTTP API for conductor.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		addr:    addr,
		logger:  logger.Named("http"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Campaign endpoints
	mux.HandleFunc("/campaigns", s.handleCampaigns)
	mux.HandleFunc("/campaigns/", s.handleCampaignByID)

	// Feedback endpoints
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/logs/", s.handleLogByID)
	mux.HandleFunc("/feedback/stats", s.handleFeedbackStats)
	mux.HandleFunc("/feedback/evaluate", s.handleFeedbackEvaluate)

	mux.HandleFunc("/decide", s.handleDecide)
	mux.HandleFunc("/workers", s.handleWorkers)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous runs hold the connection
	}

	s.logger.Info("starting conductor daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleCampaigns handles POST /campaigns and GET /campaigns
func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startCampaign(w, r)
	case http.MethodGet:
		s.listCampaigns(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCampaignByID handles /campaigns/{id}/*
func (s *Server) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitID(r.URL.Path, "/campaigns/")
	if id == "" {
		http.Error(w, "campaign id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getCampaign(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelCampaign(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleLogs handles GET /logs
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.listLogs(w, r)
}

// handleLogByID handles /logs/{id}/*
func (s *Server) handleLogByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitID(r.URL.Path, "/logs/")
	if id == "" {
		http.Error(w, "log id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		log, err := s.service.GetLog(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, log)
	case action == "feedback" && r.Method == http.MethodPost:
		s.attachFeedback(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func splitID(path, prefix string) (id, action string) {
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	id = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return id, action
}

// --- Campaign Handlers ---

// StartRequest is the POST /campaigns body.
type StartRequest struct {
	Niche           string `json:"niche,omitempty"`
	Location        string `json:"location,omitempty"`
	TargetLeadCount int    `json:"target_lead_count,omitempty"`
	// Wait runs the campaign to completion before responding.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) startCampaign(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	oreq := orchestrator.Request{
		Niche:           req.Niche,
		Location:        req.Location,
		TargetLeadCount: req.TargetLeadCount,
	}

	if req.Wait {
		res, err := s.service.RunCampaign(r.Context(), oreq)
		if err != nil && res == nil {
			s.writeError(w, err)
			return
		}
		if err != nil {
			s.logger.Warn("campaign finished with error", zap.String("campaign_id", res.Campaign.ID), zap.Error(err))
		}
		s.writeJSON(w, http.StatusOK, res.Campaign)
		return
	}

	c, err := s.service.StartCampaign(r.Context(), oreq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CampaignFilter{
		Status: models.CampaignStatus(q.Get("status")),
		Niche:  q.Get("niche"),
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid active flag", http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}

	campaigns, err := s.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	s.writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := s.service.GetCampaign(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) cancelCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := s.service.CancelCampaign(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// --- Feedback Handlers ---

func (s *Server) attachFeedback(w http.ResponseWriter, r *http.Request, id string) {
	var fb models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	log, err := s.service.AttachFeedback(r.Context(), id, fb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, log)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AgentLogFilter{UnitID: q.Get("unit")}
	if v := q.Get("pending"); v != "" {
		pending, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid pending flag", http.StatusBadRequest)
			return
		}
		filter.Pending = pending
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	logs, err := s.service.ListLogs(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.AgentLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.service.FeedbackStats(r.Context(), r.URL.Query().Get("unit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFeedbackEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	report, err := s.service.EvaluateFeedback(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- Pivot and Runtime Handlers ---

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	resp, err := s.service.DecideNiche(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.service.Workers())
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, models.ErrValidation),
		errors.Is(err, feedback.ErrInvalidScore):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNoEligibleNiche),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, ErrAlreadyFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
