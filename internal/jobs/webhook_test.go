package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	assert.Equal(t, "webhook_delivery", WebhookArgs{}.Kind())
	assert.Equal(t, "webhook_notification", NotificationArgs{}.Kind())
}

func TestWebhookArgsKeepsPayloadBytes(t *testing.T) {
	payload := `{"id":"evt_1","event":"document.ready","createdAt":"2024-01-01T00:00:00.000Z","data":{"z":1,"a":2}}`
	args := WebhookArgs{WebhookID: "wh_1", EventID: "evt_1", Payload: payload}

	b, err := json.Marshal(args)
	require.NoError(t, err)

	// Stored as a JSON string, so a store that normalizes JSON objects
	// cannot reorder the envelope.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.IsType(t, "", raw["payload"])

	var back WebhookArgs
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, payload, back.Payload)
}

func TestEnqueuerFunc(t *testing.T) {
	var got Spec
	e := EnqueuerFunc(func(_ context.Context, spec Spec) (string, error) {
		got = spec
		return "42", nil
	})

	id, err := e.Enqueue(context.Background(), Spec{Args: WebhookArgs{WebhookID: "wh_1"}, Queue: QueueDeliveries})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, QueueDeliveries, got.Queue)
}
