// Package fixture provides a collector backed by a YAML file of contacts per niche.
// It stands in for a scraping provider in local runs and tests.
package fixture

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/berinia/conductor/internal/connectors"
	"gopkg.in/yaml.v3"
)

// File is the fixture document layout.
type File struct {
	Niches map[string][]Contact `yaml:"niches"`
}

// Contact is a raw contact optionally pinned to a location.
type Contact struct {
	connectors.RawContact `yaml:",inline"`
	Location              string `yaml:"location,omitempty"`
}

// Collector serves contacts from a fixture file.
type Collector struct {
	name   string
	niches map[string][]Contact
}

// Load reads a fixture file.
func Load(path string) (*Collector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture file: %w", err)
	}
	return New("fixture", f), nil
}

// New builds a collector from an in-memory fixture.
func New(name string, f File) *Collector {
	niches := make(map[string][]Contact, len(f.Niches))
	for niche, contacts := range f.Niches {
		key := strings.ToLower(niche)
		niches[key] = append(niches[key], contacts...)
	}
	return &Collector{name: name, niches: niches}
}

// Name returns the collector identifier.
func (c *Collector) Name() string { return c.name }

// Niches lists the niches the fixture knows about.
func (c *Collector) Niches() []string {
	out := make([]string, 0, len(c.niches))
	for n := range c.niches {
		out = append(out, n)
	}
	return out
}

// Collect returns every contact for the niche whose location is empty or
// matches. Like several real providers it does not enforce maxResults.
func (c *Collector) Collect(ctx context.Context, niche, location string, maxResults int) ([]connectors.RawContact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []connectors.RawContact
	for _, contact := range c.niches[strings.ToLower(niche)] {
		if contact.Location != "" && location != "" && !strings.EqualFold(contact.Location, location) {
			continue
		}
		out = append(out, contact.RawContact)
	}
	return out, nil
}
