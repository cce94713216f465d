package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
)

// OrderStore implements spec.md section 4.B: persisting orders and trades,
// and streaming the open-order set back for recovery.
type OrderStore struct {
	logger    *zap.Logger
	sequencer *Sequencer
}

// NewOrderStore constructs an OrderStore.
func NewOrderStore(logger *zap.Logger, sequencer *Sequencer) *OrderStore {
	return &OrderStore{logger: logger, sequencer: sequencer}
}

// InsertOrder persists a new order with status PENDING, allocating its
// per-symbol sequence number via the Sequencer (spec.md section 4.B/4.D).
func (s *OrderStore) InsertOrder(ctx context.Context, tx *gorm.DB, draft *domain.Order) (*domain.Order, error) {
	seq, err := s.sequencer.Next(ctx, tx, draft.Symbol)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	order := *draft
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	order.Status = domain.OrderStatusPending
	order.SequenceNumber = seq
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	row := fromDomainOrder(&order)
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		s.logger.Error("failed to insert order", zap.Error(err), zap.String("symbol", order.Symbol))
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return &order, nil
}

// statusRank orders OrderStatus values by lifecycle progress so transitions
// can be checked for monotonicity (spec.md section 4.F, "State machine").
var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:         0,
	domain.OrderStatusOpen:            1,
	domain.OrderStatusPartiallyFilled: 2,
	domain.OrderStatusFilled:          3,
	domain.OrderStatusCancelled:       3,
	domain.OrderStatusExpired:         3,
	domain.OrderStatusRejected:        3,
}

// UpdateOrderStatus transitions an order's status and filled quantity,
// enforcing that both only move forward (spec.md section 4.B, 8:
// "Monotonic status").
func (s *OrderStore) UpdateOrderStatus(ctx context.Context, tx *gorm.DB, orderID string, newStatus domain.OrderStatus, filledQty int64) error {
	var row OrderRow
	if err := tx.WithContext(ctx).First(&row, "order_id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return exchangeerr.New(exchangeerr.CodeUnknownOrder, "order not found").WithDetail("order_id", orderID)
		}
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	oldStatus := domain.OrderStatus(row.Status)
	if filledQty < row.FilledQuantity {
		return exchangeerr.Fatal("filled quantity decreased", map[string]any{
			"order_id": orderID, "old": row.FilledQuantity, "new": filledQty,
		})
	}
	if statusRank[newStatus] < statusRank[oldStatus] {
		return exchangeerr.Fatal("order status moved backward", map[string]any{
			"order_id": orderID, "old": oldStatus, "new": newStatus,
		})
	}

	return tx.WithContext(ctx).Model(&OrderRow{}).Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":          string(newStatus),
			"filled_quantity": filledQty,
		}).Error
}

// RecordTrade inserts an immutable trade row, generating a k-sortable trade
// id so trade ids cluster roughly in commit order (spec.md section 4.B).
func (s *OrderStore) RecordTrade(ctx context.Context, tx *gorm.DB, trade *domain.Trade) (*domain.Trade, error) {
	if trade.Quantity <= 0 || trade.PriceCents <= 0 {
		return nil, exchangeerr.Fatal("trade quantity/price must be positive", map[string]any{
			"quantity": trade.Quantity, "price_cents": trade.PriceCents,
		})
	}
	if trade.BuyerID == trade.SellerID {
		return nil, exchangeerr.Fatal("self-trade reached settlement", map[string]any{
			"trader_id": trade.BuyerID,
		})
	}

	recorded := *trade
	if recorded.TradeID == "" {
		recorded.TradeID = ksuid.New().String()
	}
	if recorded.ExecutedAt.IsZero() {
		recorded.ExecutedAt = time.Now().UTC()
	}

	row := TradeRow{
		TradeID: recorded.TradeID, Symbol: recorded.Symbol, PriceCents: recorded.PriceCents,
		Quantity: recorded.Quantity, BuyOrderID: recorded.BuyOrderID, SellOrderID: recorded.SellOrderID,
		BuyerID: recorded.BuyerID, SellerID: recorded.SellerID,
		MakerOrderID: recorded.MakerOrderID, TakerOrderID: recorded.TakerOrderID,
		ExecutedAt: recorded.ExecutedAt,
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("failed to record trade", zap.Error(err), zap.String("symbol", trade.Symbol))
		return nil, fmt.Errorf("record trade: %w", err)
	}
	return &recorded, nil
}

// LoadOpenOrders streams every OPEN/PARTIALLY_FILLED order for symbol in
// the order the in-memory Book must replay them: buys by descending price
// then ascending sequence, sells by ascending price then ascending sequence
// (spec.md section 4.B, "load_open_orders").
func (s *OrderStore) LoadOpenOrders(ctx context.Context, db *gorm.DB, symbol string, side domain.Side) ([]*domain.Order, error) {
	var rows []OrderRow
	q := db.WithContext(ctx).
		Where("symbol = ? AND side = ?", symbol, string(side)).
		Where("status IN ?", []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)})

	if side == domain.SideBuy {
		q = q.Order("limit_price_cents DESC, sequence_number ASC")
	} else {
		q = q.Order("limit_price_cents ASC, sequence_number ASC")
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load open orders for %s/%s: %w", symbol, side, err)
	}

	orders := make([]*domain.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toDomain())
	}
	return orders, nil
}

// LoadOpenOrdersWithTIF returns every OPEN/PARTIALLY_FILLED order across all
// symbols that carries a time-in-force, for the expiration scheduler to
// filter by ExpiresAt (spec.md section 4.I).
func (s *OrderStore) LoadOpenOrdersWithTIF(ctx context.Context, db *gorm.DB) ([]*domain.Order, error) {
	var rows []OrderRow
	err := db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)}).
		Where("tif_seconds IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load open TIF orders: %w", err)
	}
	orders := make([]*domain.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toDomain())
	}
	return orders, nil
}

// FindOrder looks up an order's current persistent state by id.
func (s *OrderStore) FindOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var row OrderRow
	err := db.WithContext(ctx).First(&row, "order_id = ?", orderID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	return row.toDomain(), nil
}
