package outboxcodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencandle/exchange/internal/domain"
)

func TestEncodeWrapsPayloadInVersionedEnvelope(t *testing.T) {
	payload := domain.TradeExecutedPayload{Symbol: "ACME", TradeID: "trade-1", PriceCents: 500, Quantity: 3}

	body, messageID, err := Encode(domain.EventTradeExecuted, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)

	var env struct {
		SchemaVersion string                 `json:"schema_version"`
		EventType     domain.OutboxEventType `json:"event_type"`
		Payload       json.RawMessage        `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, domain.EventTradeExecuted, env.EventType)

	var decoded domain.TradeExecutedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, payload.TradeID, decoded.TradeID)
	assert.Equal(t, payload.PriceCents, decoded.PriceCents)
}

func TestEncodeProducesDistinctMessageIDs(t *testing.T) {
	_, id1, err := Encode(domain.EventOrderAccepted, domain.OrderAcceptedPayload{OrderID: "o1"})
	require.NoError(t, err)
	_, id2, err := Encode(domain.EventOrderAccepted, domain.OrderAcceptedPayload{OrderID: "o2"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}
