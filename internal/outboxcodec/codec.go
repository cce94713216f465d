// Package outboxcodec serializes outbox payloads into the wire envelope the
// external publisher (out of core scope, spec.md section 1) expects. It
// wraps each payload in a watermill message.Message — reusing the same
// envelope shape the teacher's CQRS event bus adapter
// (internal/architecture/cqrs/eventbus/watermill_adapter.go) uses for its
// domain events — and stamps a semver schema version so the publisher can
// reject payloads it no longer understands after a schema change.
package outboxcodec

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/opencandle/exchange/internal/domain"
)

// SchemaVersion is the current outbox payload schema version. Bump the
// minor version when adding optional fields; bump major on breaking change.
const SchemaVersion = "1.0.0"

// envelope is the structure persisted into market_data_outbox.payload_json.
type envelope struct {
	SchemaVersion string          `json:"schema_version"`
	EventType     domain.OutboxEventType `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode wraps payload in a versioned envelope and returns the bytes to
// store in the outbox row, along with the watermill message UUID used as
// the outbox event id's correlation key.
func Encode(eventType domain.OutboxEventType, payload any) (body []byte, messageUUID string, err error) {
	if _, err := semver.NewVersion(SchemaVersion); err != nil {
		return nil, "", fmt.Errorf("invalid schema version %q: %w", SchemaVersion, err)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}

	env := envelope{
		SchemaVersion: SchemaVersion,
		EventType:     eventType,
		Payload:       rawPayload,
	}
	body, err = json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("event_type", string(eventType))
	msg.Metadata.Set("schema_version", SchemaVersion)

	return msg.Payload, msg.UUID, nil
}
