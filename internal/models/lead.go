package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// QualityLabel is the classifier's verdict on a lead.
type QualityLabel string

const (
	QualityHot  QualityLabel = "hot"
	QualityWarm QualityLabel = "warm"
	QualityCold QualityLabel = "cold"
)

// Valid reports whether the label is one of hot, warm or cold.
func (q QualityLabel) Valid() bool {
	switch q {
	case QualityHot, QualityWarm, QualityCold:
		return true
	}
	return false
}

// ErrValidation marks a lead that fails an export precondition.
var ErrValidation = errors.New("validation failed")

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s satisfies the basic address grammar.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Lead is a prospective contact flowing through one campaign run.
type Lead struct {
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone,omitempty"`
	Company      string       `json:"company,omitempty"`
	JobTitle     string       `json:"job_title,omitempty"`
	Website      string       `json:"website,omitempty"`
	Source       string       `json:"source"`
	QualityLabel QualityLabel `json:"quality_label,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	CampaignID   string       `json:"campaign_id"`
}

// ValidateForExport checks the invariants a lead must hold before leaving the system.
func (l *Lead) ValidateForExport() error {
	switch {
	case l.CampaignID == "":
		return fmt.Errorf("%w: missing campaign id", ErrValidation)
	case strings.TrimSpace(l.Name) == "":
		return fmt.Errorf("%w: missing name", ErrValidation)
	case !ValidEmail(l.Email):
		return fmt.Errorf("%w: invalid email %q", ErrValidation, l.Email)
	}
	return nil
}
