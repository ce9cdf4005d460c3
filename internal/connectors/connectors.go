// Package connectors defines the external capabilities a campaign run depends on:
// contact collection, classification, enrichment, messaging and CRM export.
package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/berinia/conductor/internal/models"
)

// ErrUnavailable means the capability cannot serve any request right now.
// Stages translate it into a stage-level failure.
var ErrUnavailable = errors.New("capability unavailable")

// ProviderError wraps a failure reported by an external provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RejectedError is returned by an Exporter that refused a lead.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "rejected: " + e.Reason
}

// RawContact is a record as returned by a collector, before cleaning.
type RawContact struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	Phone    string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Company  string `json:"company,omitempty" yaml:"company,omitempty"`
	JobTitle string `json:"job_title,omitempty" yaml:"job_title,omitempty"`
	Website  string `json:"website,omitempty" yaml:"website,omitempty"`
}

// Classification is a classifier verdict.
type Classification struct {
	Label      models.QualityLabel `json:"label"`
	Confidence float64             `json:"confidence"`
	Reasons    []string            `json:"reasons,omitempty"`
}

// ClassifyContext carries campaign information a classifier may use.
type ClassifyContext struct {
	CampaignID string
	Niche      string
	Location   string
}

// Collector gathers raw contacts for a niche and location.
type Collector interface {
	Name() string
	Collect(ctx context.Context, niche, location string, maxResults int) ([]RawContact, error)
}

// Classifier assigns a quality label to a lead.
type Classifier interface {
	Classify(ctx context.Context, lead models.Lead, cc ClassifyContext) (Classification, error)
}

// Enricher adds company or website details to a lead.
type Enricher interface {
	Enrich(ctx context.Context, lead models.Lead) (models.Lead, error)
}

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Messenger delivers an outbound message to a lead.
type Messenger interface {
	Send(ctx context.Context, lead models.Lead, channel Channel, content string) error
}

// Exporter pushes a lead into the CRM. It returns *RejectedError when the
// CRM refuses the lead and ErrUnavailable when the CRM cannot be reached.
type Exporter interface {
	Export(ctx context.Context, lead models.Lead, campaignID string) error
}
