package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/outboxcodec"
)

// OutboxStore implements spec.md section 4.C: an append-only queue of
// market-data events, always written in the same transaction as the state
// change it describes.
type OutboxStore struct {
	logger *zap.Logger
}

// NewOutboxStore constructs an OutboxStore.
func NewOutboxStore(logger *zap.Logger) *OutboxStore {
	return &OutboxStore{logger: logger}
}

// Append encodes payload into the versioned wire envelope and inserts an
// outbox row with published_at = NULL, within tx.
func (s *OutboxStore) Append(ctx context.Context, tx *gorm.DB, symbol string, eventType domain.OutboxEventType, payload any) error {
	body, messageID, err := outboxcodec.Encode(eventType, payload)
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}
	row := OutboxRow{
		EventID:     messageID,
		Symbol:      symbol,
		Type:        string(eventType),
		PayloadJSON: body,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("failed to append outbox event", zap.Error(err), zap.String("symbol", symbol), zap.String("type", string(eventType)))
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}
