package domain

import "time"

// Trader is an account that can submit orders (spec.md section 3).
type Trader struct {
	TraderID          string
	Active            bool
	Admin             bool
	BalanceCents      int64 // may be negative only if Admin
	ReservedCashCents int64
	CreatedAt         time.Time
}

// AvailableCash is the cash not earmarked against an open order.
func (t *Trader) AvailableCash() int64 {
	return t.BalanceCents - t.ReservedCashCents
}

// Position is the per (trader, symbol) share holding (spec.md section 3).
type Position struct {
	TraderID          string
	Symbol            string
	Quantity          int64
	ReservedShares    int64
	AverageCostCents  int64
}

// AvailableShares is the share quantity not earmarked by open sell orders.
func (p *Position) AvailableShares() int64 {
	return p.Quantity - p.ReservedShares
}

// LedgerEntryKind classifies a double-entry ledger row (spec.md section 3).
type LedgerEntryKind string

const (
	LedgerKindTradeBuy     LedgerEntryKind = "TRADE_BUY"
	LedgerKindTradeSell    LedgerEntryKind = "TRADE_SELL"
	LedgerKindReserve      LedgerEntryKind = "RESERVE"
	LedgerKindRelease      LedgerEntryKind = "RELEASE"
	LedgerKindAdminAdjust  LedgerEntryKind = "ADMIN_ADJUST"
)

// LedgerEntry is one double-entry bookkeeping row (spec.md section 3).
type LedgerEntry struct {
	EntryID       string
	TradeID       *string
	TraderID      string
	DeltaCashCents int64
	DeltaShares   int64
	Symbol        *string
	Kind          LedgerEntryKind
	RecordedAt    time.Time
}
