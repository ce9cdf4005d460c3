// Package outbox implements a messenger that appends outbound messages to a
// JSON-lines file for a delivery worker to send.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
)

// Message is one queued outbound message.
type Message struct {
	CampaignID string             `json:"campaign_id"`
	To         string             `json:"to"`
	Name       string             `json:"name"`
	Channel    connectors.Channel `json:"channel"`
	Content    string             `json:"content"`
	QueuedAt   time.Time          `json:"queued_at"`
}

// Outbox appends messages to a file.
type Outbox struct {
	path string
	mu   sync.Mutex
}

// New creates an outbox writing to path.
func New(path string) *Outbox {
	return &Outbox{path: path}
}

// Send queues a message for the lead on the given channel.
func (o *Outbox) Send(ctx context.Context, lead models.Lead, channel connectors.Channel, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var to string
	switch channel {
	case connectors.ChannelEmail:
		to = lead.Email
	case connectors.ChannelSMS:
		to = lead.Phone
	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}
	if to == "" {
		return fmt.Errorf("lead has no address for channel %s", channel)
	}

	line, err := json.Marshal(Message{
		CampaignID: lead.CampaignID,
		To:         to,
		Name:       lead.Name,
		Channel:    channel,
		Content:    content,
		QueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", connectors.ErrUnavailable, err)
	}
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", connectors.ErrUnavailable, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ReadAll returns every queued message.
func ReadAll(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Message
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var m Message
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode outbox: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
