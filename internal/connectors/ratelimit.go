package connectors

import (
	"context"

	"github.com/berinia/conductor/internal/models"
	"golang.org/x/time/rate"
)

// RateLimit configures provider throttling. Zero PerSecond disables it.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// NewLimiter builds a limiter for the config, or nil when throttling is disabled.
func (r RateLimit) NewLimiter() *rate.Limiter {
	if r.PerSecond <= 0 {
		return nil
	}
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.PerSecond), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

type limitedCollector struct {
	Collector
	limiter *rate.Limiter
}

// LimitCollector throttles calls to c. A nil limiter returns c unchanged.
func LimitCollector(c Collector, l *rate.Limiter) Collector {
	if l == nil || c == nil {
		return c
	}
	return &limitedCollector{Collector: c, limiter: l}
}

func (c *limitedCollector) Collect(ctx context.Context, niche, location string, maxResults int) ([]RawContact, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	return c.Collector.Collect(ctx, niche, location, maxResults)
}

type limitedClassifier struct {
	Classifier
	limiter *rate.Limiter
}

// LimitClassifier throttles calls to c. A nil limiter returns c unchanged.
func LimitClassifier(c Classifier, l *rate.Limiter) Classifier {
	if l == nil || c == nil {
		return c
	}
	return &limitedClassifier{Classifier: c, limiter: l}
}

func (c *limitedClassifier) Classify(ctx context.Context, lead models.Lead, cc ClassifyContext) (Classification, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return Classification{}, err
	}
	return c.Classifier.Classify(ctx, lead, cc)
}

type limitedMessenger struct {
	Messenger
	limiter *rate.Limiter
}

// LimitMessenger throttles calls to m. A nil limiter returns m unchanged.
func LimitMessenger(m Messenger, l *rate.Limiter) Messenger {
	if l == nil || m == nil {
		return m
	}
	return &limitedMessenger{Messenger: m, limiter: l}
}

func (m *limitedMessenger) Send(ctx context.Context, lead models.Lead, channel Channel, content string) error {
	if err := wait(ctx, m.limiter); err != nil {
		return err
	}
	return m.Messenger.Send(ctx, lead, channel, content)
}

type limitedExporter struct {
	Exporter
	limiter *rate.Limiter
}

// LimitExporter throttles calls to e. A nil limiter returns e unchanged.
func LimitExporter(e Exporter, l *rate.Limiter) Exporter {
	if l == nil || e == nil {
		return e
	}
	return &limitedExporter{Exporter: e, limiter: l}
}

func (e *limitedExporter) Export(ctx context.Context, lead models.Lead, campaignID string) error {
	if err := wait(ctx, e.limiter); err != nil {
		return err
	}
	return e.Exporter.Export(ctx, lead, campaignID)
}
