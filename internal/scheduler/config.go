// Package scheduler dispatches pending campaigns to a bounded worker pool.
package scheduler

import (
	"strings"
	"time"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of campaigns running at once.
	GlobalMax int `yaml:"global_max"`
	// ByNiche caps concurrent campaigns per niche. Niches not listed use DefaultNicheLimit.
	ByNiche map[string]int `yaml:"by_niche"`
	// DefaultNicheLimit applies to niches missing from ByNiche.
	DefaultNicheLimit int `yaml:"default_niche_limit"`
	// PollInterval is how often pending campaigns are checked.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:         4,
		ByNiche:           map[string]int{},
		DefaultNicheLimit: 1,
		PollInterval:      time.Second,
	}
}

// GetNicheLimit returns the concurrency limit for a niche.
func (c *Config) GetNicheLimit(niche string) int {
	if limit, ok := c.ByNiche[strings.ToLower(niche)]; ok {
		return limit
	}
	if c.DefaultNicheLimit > 0 {
		return c.DefaultNicheLimit
	}
	return 1
}
