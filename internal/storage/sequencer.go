package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sequencer implements spec.md section 4.D: atomically allocating the next
// per-symbol order sequence integer under a row-level lock held for the
// duration of the caller's transaction.
type Sequencer struct{}

// NewSequencer constructs a Sequencer.
func NewSequencer() *Sequencer { return &Sequencer{} }

// Next selects the symbol's counter row FOR UPDATE, increments it, and
// returns the newly allocated sequence number. Gaps may appear if the
// enclosing transaction later aborts; only monotonicity across committed
// orders is relied upon (spec.md section 4.D).
func (s *Sequencer) Next(ctx context.Context, tx *gorm.DB, symbol string) (int64, error) {
	var row SequenceCounterRow
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "symbol = ?", symbol).Error
	if err == gorm.ErrRecordNotFound {
		row = SequenceCounterRow{Symbol: symbol, NextSequenceNumber: 0}
		if createErr := tx.WithContext(ctx).Create(&row).Error; createErr != nil {
			return 0, fmt.Errorf("create sequence counter for %s: %w", symbol, createErr)
		}
	} else if err != nil {
		return 0, fmt.Errorf("lock sequence counter for %s: %w", symbol, err)
	}

	next := row.NextSequenceNumber + 1
	if err := tx.WithContext(ctx).Model(&SequenceCounterRow{}).
		Where("symbol = ?", symbol).
		Update("next_sequence_number", next).Error; err != nil {
		return 0, fmt.Errorf("increment sequence counter for %s: %w", symbol, err)
	}
	return next, nil
}
