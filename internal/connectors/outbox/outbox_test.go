package outbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAppendsMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	o := New(path)
	ctx := context.Background()

	lead := models.Lead{Name: "Ada", Email: "ada@acme.com", Phone: "+33612345678", CampaignID: "c1"}
	require.NoError(t, o.Send(ctx, lead, connectors.ChannelEmail, "hello"))
	require.NoError(t, o.Send(ctx, lead, connectors.ChannelSMS, "hi"))

	msgs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ada@acme.com", msgs[0].To)
	assert.Equal(t, connectors.ChannelEmail, msgs[0].Channel)
	assert.Equal(t, "+33612345678", msgs[1].To)
	assert.Equal(t, "c1", msgs[1].CampaignID)
}

func TestSendWithoutAddress(t *testing.T) {
	o := New(filepath.Join(t.TempDir(), "outbox.jsonl"))
	err := o.Send(context.Background(), models.Lead{Name: "Ada", Email: "ada@acme.com"}, connectors.ChannelSMS, "hi")
	assert.Error(t, err)
}

func TestReadAllMissingFile(t *testing.T) {
	msgs, err := ReadAll(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
