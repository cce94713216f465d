package matching

import (
	"context"
	"time"

	"github.com/opencandle/exchange/internal/domain"
)

// SubmitOrderIntent is a client's request to place an order (spec.md
// section 6, "Submit request"). Tagged record type, not a dictionary —
// spec.md section 9 explicitly calls for this over untyped maps.
type SubmitOrderIntent struct {
	TraderID        string          `validate:"required"`
	Symbol          string          `validate:"required"`
	Side            domain.Side     `validate:"required,oneof=BUY SELL"`
	Type            domain.OrderType `validate:"required,oneof=MARKET LIMIT IOC"`
	Quantity        int64           `validate:"required,gt=0"`
	HasLimitPrice   bool
	LimitPriceCents int64 `validate:"omitempty,gt=0"`
	TIFSeconds      *int64
	Deadline        *time.Time
}

// CancelOrderIntent is a client's request to cancel a resting order (spec.md section 6).
type CancelOrderIntent struct {
	TraderID string
	OrderID  string
	Reason   string // e.g. "" for client-initiated, "EXPIRED" for scheduler-driven
}

// SnapshotIntent requests a read-only view of a symbol's book (spec.md section 6).
type SnapshotIntent struct{}

// FillView is one maker/taker match as reported back to the submitter
// (spec.md section 6, Submit reply "fills").
type FillView struct {
	MakerOrderID string
	Quantity     int64
	PriceCents   int64
}

// SubmitResult is the reply to a SubmitOrderIntent.
type SubmitResult struct {
	OrderID          string
	Status           domain.OrderStatus
	Fills            []FillView
	RejectionReason  string
}

// CancelResult is the reply to a CancelOrderIntent.
type CancelResult struct {
	Status string // CANCELLED | EXPIRED | ALREADY_TERMINAL | UNKNOWN
}

// request is the internal envelope carried on a symbol's intent channel:
// exactly one of the three intent kinds, plus a reply channel. The Engine
// processes exactly one request at a time (spec.md section 4.F, "single-writer").
type request struct {
	ctx      context.Context
	submit   *SubmitOrderIntent
	cancel   *CancelOrderIntent
	snapshot *SnapshotIntent
	reply    chan response
}

type response struct {
	submit   *SubmitResult
	cancel   *CancelResult
	snapshot *Snapshot
	err      error
}
