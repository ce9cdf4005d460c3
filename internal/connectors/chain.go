package connectors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ChainCollector tries each collector in order and returns the first
// successful result. A collector returning zero contacts counts as success.
type ChainCollector struct {
	collectors []Collector
	logger     *zap.Logger
}

// NewChainCollector creates a collector that fails over across providers.
func NewChainCollector(logger *zap.Logger, collectors ...Collector) *ChainCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainCollector{collectors: collectors, logger: logger.Named("collector")}
}

// Name joins the names of the chained collectors.
func (c *ChainCollector) Name() string {
	names := make([]string, len(c.collectors))
	for i, col := range c.collectors {
		names[i] = col.Name()
	}
	return strings.Join(names, "+")
}

// Collect returns the first provider's contacts that did not fail.
func (c *ChainCollector) Collect(ctx context.Context, niche, location string, maxResults int) ([]RawContact, error) {
	if len(c.collectors) == 0 {
		return nil, &ProviderError{Provider: "chain", Err: ErrUnavailable}
	}
	var errs []error
	for _, col := range c.collectors {
		contacts, err := col.Collect(ctx, niche, location, maxResults)
		if err == nil {
			return contacts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("collector failed, trying next provider",
			zap.String("provider", col.Name()),
			zap.String("niche", niche),
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	return nil, &ProviderError{Provider: c.Name(), Err: errors.Join(errs...)}
}
