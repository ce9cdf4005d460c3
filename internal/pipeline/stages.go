package pipeline

import (
	"github.com/berinia/conductor/internal/connectors"
)

// Config tunes the stages.
type Config struct {
	MinWarmConfidence float64 `yaml:"min_warm_confidence" json:"min_warm_confidence"`
	MessageTemplate   string  `yaml:"message_template" json:"message_template"`
}

// DefaultConfig returns the default stage settings.
func DefaultConfig() Config {
	return Config{MinWarmConfidence: 0.6}
}

// Capabilities are the external collaborators the stages call.
type Capabilities struct {
	Collector  connectors.Collector
	Classifier connectors.Classifier
	Enricher   connectors.Enricher
	Messenger  connectors.Messenger
	Exporter   connectors.Exporter
}

// Default builds the eight stages in run order.
func Default(caps Capabilities, cfg Config) ([]Stage, error) {
	msg, err := NewMessage(caps.Messenger, cfg.MessageTemplate)
	if err != nil {
		return nil, err
	}
	return []Stage{
		NewCollect(caps.Collector),
		NewClean(),
		NewClassify(caps.Classifier),
		NewEnrich(caps.Enricher),
		NewDecide(cfg.MinWarmConfidence),
		msg,
		NewExport(caps.Exporter),
		NewAnalyze(),
	}, nil
}
