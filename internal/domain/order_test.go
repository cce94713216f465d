package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	nonTerminal := []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestOrderRemaining(t *testing.T) {
	o := &Order{Quantity: 10, FilledQuantity: 4}
	assert.Equal(t, int64(6), o.Remaining())
}

func TestOrderExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tif := int64(30)
	o := &Order{CreatedAt: created, TIFSeconds: &tif}
	assert.Equal(t, created.Add(30*time.Second), o.ExpiresAt())

	noTIF := &Order{CreatedAt: created}
	assert.True(t, noTIF.ExpiresAt().IsZero())
}
