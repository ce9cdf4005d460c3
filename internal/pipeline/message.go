package pipeline

import (
	"context"
	"strings"
	"text/template"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
	"github.com/rotisserie/eris"
)

// DefaultMessageTemplate is used when no template is configured.
const DefaultMessageTemplate = `Hello {{.Name}},

We help {{if .Company}}teams like {{.Company}}{{else}}businesses like yours{{end}} grow. Would you be open to a short call this week?`

// Message contacts each selected lead.
type Message struct {
	messenger connectors.Messenger
	tmpl      *template.Template
}

// NewMessage parses the outreach template. An empty text uses DefaultMessageTemplate.
func NewMessage(m connectors.Messenger, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultMessageTemplate
	}
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: parse message template")
	}
	return &Message{messenger: m, tmpl: tmpl}, nil
}

func (s *Message) Name() models.StageName { return models.StageMessage }

func (s *Message) Process(ctx context.Context, items []models.Lead, _ *RunContext) (*Result, error) {
	return ProcessEach(ctx, items, func(ctx context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		channel, ok := channelFor(lead)
		if !ok {
			return lead, Errored("no contact channel"), nil
		}
		var body strings.Builder
		if err := s.tmpl.Execute(&body, lead); err != nil {
			return lead, Errored("render message: " + err.Error()), nil
		}
		if s.messenger == nil {
			return lead, Kept(), nil
		}
		if err := s.messenger.Send(ctx, lead, channel, body.String()); err != nil {
			if ctx.Err() != nil {
				return lead, Outcome{}, ctx.Err()
			}
			return lead, Errored(err.Error()), nil
		}
		return lead, Kept(), nil
	})
}

func channelFor(lead models.Lead) (connectors.Channel, bool) {
	switch {
	case lead.Email != "":
		return connectors.ChannelEmail, true
	case lead.Phone != "":
		return connectors.ChannelSMS, true
	}
	return "", false
}
