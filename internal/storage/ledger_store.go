package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
	"github.com/opencandle/exchange/internal/money"
)

// LedgerStore implements spec.md section 4.A: cash/share reservation,
// release, trade settlement, and average-cost maintenance. Every method
// takes a transaction handle supplied by the caller (the matching engine,
// via internal/settlement) — the store never begins or commits a
// transaction itself.
type LedgerStore struct {
	logger *zap.Logger
}

// NewLedgerStore constructs a LedgerStore.
func NewLedgerStore(logger *zap.Logger) *LedgerStore {
	return &LedgerStore{logger: logger}
}

// LoadTrader reads a trader row for update within tx.
func (s *LedgerStore) LoadTrader(ctx context.Context, tx *gorm.DB, traderID string) (*domain.Trader, error) {
	var row TraderRow
	err := tx.WithContext(ctx).Clauses(lockingClause()).First(&row, "trader_id = ?", traderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, exchangeerr.New(exchangeerr.CodeUnknownOrder, "trader not found").WithDetail("trader_id", traderID)
		}
		return nil, fmt.Errorf("load trader: %w", err)
	}
	return &domain.Trader{
		TraderID:          row.TraderID,
		Active:            row.Active,
		Admin:             row.Admin,
		BalanceCents:      row.BalanceCents,
		ReservedCashCents: row.ReservedCashCents,
		CreatedAt:         row.CreatedAt,
	}, nil
}

// LoadPosition reads a position row for update, returning a zero-value
// position (not persisted) if none exists yet.
func (s *LedgerStore) LoadPosition(ctx context.Context, tx *gorm.DB, traderID, symbol string) (*domain.Position, error) {
	var row PositionRow
	err := tx.WithContext(ctx).Clauses(lockingClause()).
		First(&row, "trader_id = ? AND symbol = ?", traderID, symbol).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return &domain.Position{TraderID: traderID, Symbol: symbol}, nil
		}
		return nil, fmt.Errorf("load position: %w", err)
	}
	return &domain.Position{
		TraderID:         row.TraderID,
		Symbol:           row.Symbol,
		Quantity:         row.Quantity,
		ReservedShares:   row.ReservedShares,
		AverageCostCents: row.AverageCostCents,
	}, nil
}

// ReserveCash decrements available cash (increments reserved) and writes a
// RESERVE ledger entry. Fails with INSUFFICIENT_CASH unless the trader is
// an admin (spec.md section 4.A).
func (s *LedgerStore) ReserveCash(ctx context.Context, tx *gorm.DB, trader *domain.Trader, amount money.Cents) error {
	if amount < 0 {
		return fmt.Errorf("reserve amount must be non-negative, got %d", amount)
	}
	if !trader.Admin && trader.AvailableCash() < int64(amount) {
		return exchangeerr.New(exchangeerr.CodeInsufficientCash, "insufficient available cash")
	}
	trader.ReservedCashCents += int64(amount)
	if err := s.saveTrader(ctx, tx, trader); err != nil {
		return err
	}
	return s.appendLedgerEntry(ctx, tx, nil, trader.TraderID, -int64(amount), 0, nil, domain.LedgerKindReserve)
}

// ReleaseCash reverses ReserveCash. It must never release more than is reserved.
func (s *LedgerStore) ReleaseCash(ctx context.Context, tx *gorm.DB, trader *domain.Trader, amount money.Cents) error {
	if amount < 0 {
		return fmt.Errorf("release amount must be non-negative, got %d", amount)
	}
	if int64(amount) > trader.ReservedCashCents {
		return exchangeerr.Fatal("release exceeds reserved cash", map[string]any{
			"trader_id": trader.TraderID, "reserved": trader.ReservedCashCents, "release": amount,
		})
	}
	trader.ReservedCashCents -= int64(amount)
	if err := s.saveTrader(ctx, tx, trader); err != nil {
		return err
	}
	return s.appendLedgerEntry(ctx, tx, nil, trader.TraderID, int64(amount), 0, nil, domain.LedgerKindRelease)
}

// ReserveShares increments reserved shares on a position, failing with
// INSUFFICIENT_SHARES if available shares are short.
func (s *LedgerStore) ReserveShares(ctx context.Context, tx *gorm.DB, pos *domain.Position, qty money.Shares) error {
	if qty < 0 {
		return fmt.Errorf("reserve qty must be non-negative, got %d", qty)
	}
	if pos.AvailableShares() < int64(qty) {
		return exchangeerr.New(exchangeerr.CodeInsufficientShares, "insufficient available shares")
	}
	pos.ReservedShares += int64(qty)
	symbol := pos.Symbol
	if err := s.savePosition(ctx, tx, pos); err != nil {
		return err
	}
	return s.appendLedgerEntry(ctx, tx, nil, pos.TraderID, 0, -int64(qty), &symbol, domain.LedgerKindReserve)
}

// ReleaseShares reverses ReserveShares.
func (s *LedgerStore) ReleaseShares(ctx context.Context, tx *gorm.DB, pos *domain.Position, qty money.Shares) error {
	if qty < 0 {
		return fmt.Errorf("release qty must be non-negative, got %d", qty)
	}
	if int64(qty) > pos.ReservedShares {
		return exchangeerr.Fatal("release exceeds reserved shares", map[string]any{
			"trader_id": pos.TraderID, "symbol": pos.Symbol, "reserved": pos.ReservedShares, "release": qty,
		})
	}
	pos.ReservedShares -= int64(qty)
	symbol := pos.Symbol
	if err := s.savePosition(ctx, tx, pos); err != nil {
		return err
	}
	return s.appendLedgerEntry(ctx, tx, nil, pos.TraderID, 0, int64(qty), &symbol, domain.LedgerKindRelease)
}

// SettleTrade moves reserved cash/shares into balances/positions for both
// counterparties of a single trade. Writes exactly two ledger entries with
// a zero-sum invariant on cash and on shares (spec.md section 4.A, 3).
func (s *LedgerStore) SettleTrade(
	ctx context.Context, tx *gorm.DB,
	trade *domain.Trade,
	buyer *domain.Trader, buyerPos *domain.Position,
	seller *domain.Trader, sellerPos *domain.Position,
) error {
	notional := trade.PriceCents * trade.Quantity

	// Buyer: loses reserved cash equal to the notional, gains shares.
	if notional > buyer.ReservedCashCents {
		return exchangeerr.Fatal("settlement would release more cash than reserved", map[string]any{
			"trader_id": buyer.TraderID, "reserved": buyer.ReservedCashCents, "notional": notional,
		})
	}
	buyer.ReservedCashCents -= notional
	buyer.BalanceCents -= notional
	buyerPos.AverageCostCents = int64(money.AverageCost(
		money.Shares(buyerPos.Quantity), money.Cents(buyerPos.AverageCostCents),
		money.Shares(trade.Quantity), money.Cents(trade.PriceCents),
	))
	buyerPos.Quantity += trade.Quantity

	// Seller: loses reserved shares, gains cash. Average cost is unchanged
	// on sells (spec.md 4.A: "realised P&L is derived, not stored").
	if trade.Quantity > sellerPos.ReservedShares {
		return exchangeerr.Fatal("settlement would release more shares than reserved", map[string]any{
			"trader_id": seller.TraderID, "symbol": sellerPos.Symbol, "reserved": sellerPos.ReservedShares, "qty": trade.Quantity,
		})
	}
	sellerPos.ReservedShares -= trade.Quantity
	sellerPos.Quantity -= trade.Quantity
	seller.BalanceCents += notional

	if err := s.saveTrader(ctx, tx, buyer); err != nil {
		return err
	}
	if err := s.savePosition(ctx, tx, buyerPos); err != nil {
		return err
	}
	if err := s.saveTrader(ctx, tx, seller); err != nil {
		return err
	}
	if err := s.savePosition(ctx, tx, sellerPos); err != nil {
		return err
	}

	symbol := trade.Symbol
	if err := s.appendLedgerEntry(ctx, tx, &trade.TradeID, buyer.TraderID, -notional, trade.Quantity, &symbol, domain.LedgerKindTradeBuy); err != nil {
		return err
	}
	return s.appendLedgerEntry(ctx, tx, &trade.TradeID, seller.TraderID, notional, -trade.Quantity, &symbol, domain.LedgerKindTradeSell)
}

func (s *LedgerStore) saveTrader(ctx context.Context, tx *gorm.DB, trader *domain.Trader) error {
	if !trader.Admin && trader.BalanceCents < 0 {
		return exchangeerr.Fatal("non-admin trader balance went negative", map[string]any{
			"trader_id": trader.TraderID, "balance": trader.BalanceCents,
		})
	}
	row := TraderRow{
		TraderID: trader.TraderID, Active: trader.Active, Admin: trader.Admin,
		BalanceCents: trader.BalanceCents, ReservedCashCents: trader.ReservedCashCents,
		CreatedAt: trader.CreatedAt,
	}
	return tx.WithContext(ctx).Model(&TraderRow{}).Where("trader_id = ?", trader.TraderID).
		Updates(map[string]any{
			"balance_cents":       row.BalanceCents,
			"reserved_cash_cents": row.ReservedCashCents,
		}).Error
}

func (s *LedgerStore) savePosition(ctx context.Context, tx *gorm.DB, pos *domain.Position) error {
	if pos.Quantity < 0 {
		return exchangeerr.Fatal("position quantity went negative", map[string]any{
			"trader_id": pos.TraderID, "symbol": pos.Symbol, "quantity": pos.Quantity,
		})
	}
	row := PositionRow{
		TraderID: pos.TraderID, Symbol: pos.Symbol, Quantity: pos.Quantity,
		ReservedShares: pos.ReservedShares, AverageCostCents: pos.AverageCostCents,
		UpdatedAt: time.Now().UTC(),
	}
	result := tx.WithContext(ctx).Model(&PositionRow{}).
		Where("trader_id = ? AND symbol = ?", pos.TraderID, pos.Symbol).
		Updates(map[string]any{
			"quantity":           row.Quantity,
			"reserved_shares":    row.ReservedShares,
			"average_cost_cents": row.AverageCostCents,
			"updated_at":         row.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return tx.WithContext(ctx).Create(&row).Error
	}
	return nil
}

func (s *LedgerStore) appendLedgerEntry(
	ctx context.Context, tx *gorm.DB,
	tradeID *string, traderID string, deltaCash, deltaShares int64, symbol *string, kind domain.LedgerEntryKind,
) error {
	row := LedgerEntryRow{
		EntryID:        ksuid.New().String(),
		TradeID:        tradeID,
		TraderID:       traderID,
		DeltaCashCents: deltaCash,
		DeltaShares:    deltaShares,
		Symbol:         symbol,
		Kind:           string(kind),
		RecordedAt:     time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("failed to append ledger entry", zap.Error(err), zap.String("trader_id", traderID))
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// lockingClause returns the row-level lock clause (SELECT ... FOR UPDATE)
// used to serialize concurrent reservations against the same trader or
// position row within a transaction (spec.md section 4.D uses the same
// pattern for the sequence counter).
func lockingClause() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}
