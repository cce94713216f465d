// Package storage is the durable order-lifecycle layer (spec.md section 2,
// components A-D): orders, trades, positions, the cash/share ledger, the
// per-symbol sequence counters, and the outbox. Every exported method takes
// a caller-supplied *gorm.DB transaction handle — no repository opens its
// own transaction — following the explicit-transaction-handle pattern the
// teacher uses throughout internal/db/repositories.
package storage

import (
	"time"

	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/domain"
)

// TraderRow is the gorm model backing trader_accounts (spec.md section 6).
type TraderRow struct {
	TraderID          string `gorm:"primaryKey;type:varchar(36)"`
	Active            bool
	Admin             bool
	BalanceCents      int64
	ReservedCashCents int64
	CreatedAt         time.Time
}

func (TraderRow) TableName() string { return "trader_accounts" }

// PositionRow is the gorm model backing positions.
type PositionRow struct {
	TraderID         string `gorm:"primaryKey;type:varchar(36)"`
	Symbol           string `gorm:"primaryKey;type:varchar(20)"`
	Quantity         int64
	ReservedShares   int64
	AverageCostCents int64
	UpdatedAt        time.Time
}

func (PositionRow) TableName() string { return "positions" }

// OrderRow is the gorm model backing orders.
type OrderRow struct {
	OrderID         string `gorm:"primaryKey;type:varchar(36)"`
	TraderID        string `gorm:"type:varchar(36);index"`
	Symbol          string `gorm:"type:varchar(20);index:idx_orders_symbol_status"`
	Side            string `gorm:"type:varchar(4)"`
	Type            string `gorm:"type:varchar(10)"`
	LimitPriceCents int64
	HasLimitPrice   bool
	Quantity        int64
	FilledQuantity  int64
	Status          string `gorm:"type:varchar(20);index:idx_orders_symbol_status"`
	TIFSeconds      *int64
	CreatedAt       time.Time
	SequenceNumber  int64 `gorm:"index:idx_orders_symbol_sequence"`
}

func (OrderRow) TableName() string { return "orders" }

func (o *OrderRow) toDomain() *domain.Order {
	return &domain.Order{
		OrderID:         o.OrderID,
		TraderID:        o.TraderID,
		Symbol:          o.Symbol,
		Side:            domain.Side(o.Side),
		Type:            domain.OrderType(o.Type),
		LimitPriceCents: o.LimitPriceCents,
		HasLimitPrice:   o.HasLimitPrice,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Status:          domain.OrderStatus(o.Status),
		TIFSeconds:      o.TIFSeconds,
		CreatedAt:       o.CreatedAt,
		SequenceNumber:  o.SequenceNumber,
	}
}

func fromDomainOrder(o *domain.Order) *OrderRow {
	return &OrderRow{
		OrderID:         o.OrderID,
		TraderID:        o.TraderID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Type:            string(o.Type),
		LimitPriceCents: o.LimitPriceCents,
		HasLimitPrice:   o.HasLimitPrice,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Status:          string(o.Status),
		TIFSeconds:      o.TIFSeconds,
		CreatedAt:       o.CreatedAt,
		SequenceNumber:  o.SequenceNumber,
	}
}

// TradeRow is the gorm model backing trades.
type TradeRow struct {
	TradeID      string `gorm:"primaryKey;type:varchar(36)"`
	Symbol       string `gorm:"type:varchar(20);index"`
	PriceCents   int64
	Quantity     int64
	BuyOrderID   string `gorm:"type:varchar(36);index"`
	SellOrderID  string `gorm:"type:varchar(36);index"`
	BuyerID      string `gorm:"type:varchar(36)"`
	SellerID     string `gorm:"type:varchar(36)"`
	MakerOrderID string `gorm:"type:varchar(36)"`
	TakerOrderID string `gorm:"type:varchar(36)"`
	ExecutedAt   time.Time
}

func (TradeRow) TableName() string { return "trades" }

// LedgerEntryRow is the gorm model backing ledger_entries.
type LedgerEntryRow struct {
	EntryID        string `gorm:"primaryKey;type:varchar(36)"`
	TradeID        *string `gorm:"type:varchar(36);index"`
	TraderID       string  `gorm:"type:varchar(36);index"`
	DeltaCashCents int64
	DeltaShares    int64
	Symbol         *string `gorm:"type:varchar(20)"`
	Kind           string  `gorm:"type:varchar(20)"`
	RecordedAt     time.Time
}

func (LedgerEntryRow) TableName() string { return "ledger_entries" }

// SequenceCounterRow is the gorm model backing sequence_counters, one row
// per symbol (spec.md section 4.D).
type SequenceCounterRow struct {
	Symbol            string `gorm:"primaryKey;type:varchar(20)"`
	NextSequenceNumber int64
}

func (SequenceCounterRow) TableName() string { return "sequence_counters" }

// OutboxRow is the gorm model backing market_data_outbox.
type OutboxRow struct {
	EventID     string `gorm:"primaryKey;type:varchar(36)"`
	Symbol      string `gorm:"type:varchar(20);index"`
	Type        string `gorm:"type:varchar(20)"`
	PayloadJSON []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

func (OutboxRow) TableName() string { return "market_data_outbox" }

// AllModels lists every model migrated at startup.
func AllModels() []any {
	return []any{
		&TraderRow{},
		&PositionRow{},
		&OrderRow{},
		&TradeRow{},
		&LedgerEntryRow{},
		&SequenceCounterRow{},
		&OutboxRow{},
	}
}

// Migrate runs gorm auto-migration for every model. Called once at startup.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
