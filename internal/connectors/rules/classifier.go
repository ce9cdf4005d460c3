// Package rules provides an offline, heuristic lead classifier.
package rules

import (
	"context"
	"regexp"
	"strings"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
)

var (
	decisionMakerTitles = []string{"ceo", "cto", "cfo", "coo", "founder", "owner", "director", "vp", "head", "chief"}
	managementTitles    = []string{"manager", "lead", "senior"}
	freemailDomains     = []string{"gmail.com", "yahoo.com", "hotmail.com", "outlook.com"}
	professionalTLD     = regexp.MustCompile(`\.(com|org|net|edu|gov|fr|io)$`)
)

// Config tunes the classifier.
type Config struct {
	// Threshold is the score at or above which a lead is hot.
	// Leads scoring at least 0.7*Threshold are warm.
	Threshold float64 `yaml:"threshold"`
}

// DefaultConfig returns the default scoring threshold.
func DefaultConfig() Config {
	return Config{Threshold: 0.3}
}

// Classifier scores leads from their profile fields.
type Classifier struct {
	cfg Config
}

// New creates a rule-based classifier.
func New(cfg Config) *Classifier {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify scores one lead. It never reports the capability as unavailable.
func (c *Classifier) Classify(ctx context.Context, lead models.Lead, cc connectors.ClassifyContext) (connectors.Classification, error) {
	if err := ctx.Err(); err != nil {
		return connectors.Classification{}, err
	}

	var score float64
	var reasons []string
	add := func(points float64, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	title := strings.ToLower(lead.JobTitle)
	switch {
	case containsAny(title, decisionMakerTitles):
		add(0.2, "decision maker position")
	case containsAny(title, managementTitles):
		add(0.1, "management position")
	}

	email := strings.ToLower(lead.Email)
	if professionalTLD.MatchString(email) {
		add(0.05, "professional email domain")
	}
	if !containsAny(email, freemailDomains) {
		add(0.05, "corporate email")
	}
	if completeness(lead) >= 0.8 {
		add(0.1, "complete profile")
	}
	if lead.Phone != "" {
		add(0.05, "reachable by phone")
	}

	label := models.QualityCold
	switch {
	case score >= c.cfg.Threshold:
		label = models.QualityHot
	case score >= c.cfg.Threshold*0.7:
		label = models.QualityWarm
	}

	confidence := score / c.cfg.Threshold
	if confidence > 1 {
		confidence = 1
	}
	return connectors.Classification{Label: label, Confidence: confidence, Reasons: reasons}, nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func completeness(l models.Lead) float64 {
	fields := []string{l.Name, l.Email, l.Phone, l.Company, l.JobTitle, l.Website}
	filled := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}
