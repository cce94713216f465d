// Package settlement implements spec.md section 4.H: the thin façade that
// composes the ledger, order, and outbox stores into the atomic
// reserve/settle/release operations a Submit or Cancel needs, kept separate
// from internal/matching so the settlement rules can be tested without a
// running Engine.
package settlement

import (
	"context"

	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
	"github.com/opencandle/exchange/internal/money"
	"github.com/opencandle/exchange/internal/storage"
)

// Fill is the minimal shape settlement needs from a matching.Fill, kept
// decoupled from the matching package to avoid an import cycle.
type Fill struct {
	MakerOrderID  string
	MakerTraderID string
	PriceCents    int64
	Quantity      int64
}

// SubmitIntent is the minimal shape settlement needs from a
// matching.SubmitOrderIntent.
type SubmitIntent struct {
	TraderID        string
	Symbol          string
	Side            domain.Side
	Type            domain.OrderType
	Quantity        int64
	HasLimitPrice   bool
	LimitPriceCents int64
	TIFSeconds      *int64
}

// Settlement bundles the three stores a Submit/Cancel transaction touches.
type Settlement struct {
	Ledger *storage.LedgerStore
	Orders *storage.OrderStore
	Outbox *storage.OutboxStore

	// slippageNumerator/Denominator is the live MARKET_ORDER_SLIPPAGE_CUSHION
	// knob (internal/config.Config.SlippageRatio), applied to every MARKET
	// buy reservation.
	slippageNumerator   int64
	slippageDenominator int64
}

// New constructs a Settlement façade. cushionNumerator/cushionDenominator is
// the exact integer ratio for the MARKET buy slippage cushion, as produced
// by internal/config.Config.SlippageRatio.
func New(ledger *storage.LedgerStore, orders *storage.OrderStore, outbox *storage.OutboxStore, cushionNumerator, cushionDenominator int64) *Settlement {
	return &Settlement{
		Ledger: ledger, Orders: orders, Outbox: outbox,
		slippageNumerator: cushionNumerator, slippageDenominator: cushionDenominator,
	}
}

// Reserve performs spec.md section 4.F step 3 and returns the amount
// actually reserved, so the caller can reconcile it against actual cost
// once matching settles.
func (s *Settlement) Reserve(ctx context.Context, tx *gorm.DB, symbol string, trader *domain.Trader, intent SubmitIntent, bestAsk int64, hasBestAsk bool) (money.Cents, error) {
	if intent.Side == domain.SideBuy {
		var amount money.Cents
		switch intent.Type {
		case domain.OrderTypeMarket:
			if !hasBestAsk {
				return 0, exchangeerr.New(exchangeerr.CodeNoLiquidity, "no resting ask to price a MARKET buy against")
			}
			estimate := money.MarketBuyReservation(money.Shares(intent.Quantity), money.Cents(bestAsk), s.slippageNumerator, s.slippageDenominator)
			amount = estimate
			if !trader.Admin {
				if avail := trader.AvailableCash(); int64(estimate) > avail {
					amount = money.Cents(avail)
				}
			}
		default: // LIMIT or IOC, both priced by the time settlement reserves
			amount = money.Cents(intent.Quantity * intent.LimitPriceCents)
		}
		if err := s.Ledger.ReserveCash(ctx, tx, trader, amount); err != nil {
			return 0, err
		}
		return amount, nil
	}

	pos, err := s.Ledger.LoadPosition(ctx, tx, intent.TraderID, symbol)
	if err != nil {
		return 0, err
	}
	if err := s.Ledger.ReserveShares(ctx, tx, pos, money.Shares(intent.Quantity)); err != nil {
		return 0, err
	}
	return money.Cents(intent.Quantity), nil
}

// SettleFill records one trade, settles both counterparties, updates the
// maker's order status, and appends the TRADE_EXECUTED outbox event
// (spec.md section 4.F step 6). actualCost accumulates the taker's buy-side
// notional across all fills of one Submit for later reservation reconciliation.
func (s *Settlement) SettleFill(ctx context.Context, tx *gorm.DB, symbol string, taker *domain.Order, f Fill, actualCost *int64) error {
	var buyerID, sellerID, buyOrderID, sellOrderID string
	if taker.Side == domain.SideBuy {
		buyerID, sellerID = taker.TraderID, f.MakerTraderID
		buyOrderID, sellOrderID = taker.OrderID, f.MakerOrderID
	} else {
		buyerID, sellerID = f.MakerTraderID, taker.TraderID
		buyOrderID, sellOrderID = f.MakerOrderID, taker.OrderID
	}

	trade := &domain.Trade{
		Symbol: symbol, PriceCents: f.PriceCents, Quantity: f.Quantity,
		BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
		BuyerID: buyerID, SellerID: sellerID,
		MakerOrderID: f.MakerOrderID, TakerOrderID: taker.OrderID,
	}
	recorded, err := s.Orders.RecordTrade(ctx, tx, trade)
	if err != nil {
		return err
	}

	buyer, err := s.Ledger.LoadTrader(ctx, tx, buyerID)
	if err != nil {
		return err
	}
	buyerPos, err := s.Ledger.LoadPosition(ctx, tx, buyerID, symbol)
	if err != nil {
		return err
	}
	seller, err := s.Ledger.LoadTrader(ctx, tx, sellerID)
	if err != nil {
		return err
	}
	sellerPos, err := s.Ledger.LoadPosition(ctx, tx, sellerID, symbol)
	if err != nil {
		return err
	}

	if err := s.Ledger.SettleTrade(ctx, tx, recorded, buyer, buyerPos, seller, sellerPos); err != nil {
		return err
	}

	if taker.Side == domain.SideBuy {
		*actualCost += f.PriceCents * f.Quantity
	}

	makerOrder, err := s.Orders.FindOrder(ctx, tx, f.MakerOrderID)
	if err != nil {
		return err
	}
	if makerOrder == nil {
		return exchangeerr.Fatal("maker order missing from persistent store", map[string]any{"order_id": f.MakerOrderID})
	}
	newFilled := makerOrder.FilledQuantity + f.Quantity
	makerStatus := domain.OrderStatusPartiallyFilled
	if newFilled >= makerOrder.Quantity {
		makerStatus = domain.OrderStatusFilled
	}
	if err := s.Orders.UpdateOrderStatus(ctx, tx, f.MakerOrderID, makerStatus, newFilled); err != nil {
		return err
	}

	return s.Outbox.Append(ctx, tx, symbol, domain.EventTradeExecuted, domain.TradeExecutedPayload{
		Symbol: symbol, TradeID: recorded.TradeID, PriceCents: recorded.PriceCents, Quantity: recorded.Quantity,
		BuyerID: buyerID, SellerID: sellerID, MakerOrderID: f.MakerOrderID, TakerOrderID: taker.OrderID,
		ExecutedAt: recorded.ExecutedAt,
	})
}

// ReleaseResidual implements spec.md section 4.F step 6's "release any
// over-reserved cash" together with the residual release on IOC/MARKET
// termination described in step 7. The buyer's trader row is re-read before
// the cash release, because SettleFill has already saved each fill's effect
// on it.
func (s *Settlement) ReleaseResidual(ctx context.Context, tx *gorm.DB, symbol string, trader *domain.Trader, order *domain.Order, reserved money.Cents, actualCost int64, filledQty int64, shouldRest bool) error {
	if order.Side == domain.SideSell {
		if shouldRest {
			return nil // remaining shares stay reserved against the resting order
		}
		remaining := order.Quantity - filledQty
		if remaining <= 0 {
			return nil
		}
		pos, err := s.Ledger.LoadPosition(ctx, tx, order.TraderID, symbol)
		if err != nil {
			return err
		}
		return s.Ledger.ReleaseShares(ctx, tx, pos, money.Shares(remaining))
	}

	var keepReserved int64
	if shouldRest {
		remaining := order.Quantity - filledQty
		keepReserved = remaining * order.LimitPriceCents
	}
	releaseAmt := int64(reserved) - actualCost - keepReserved
	if releaseAmt < 0 {
		return exchangeerr.Fatal("reservation reconciliation went negative", map[string]any{
			"order_id": order.OrderID, "reserved": reserved, "actual_cost": actualCost, "keep": keepReserved,
		})
	}
	if releaseAmt == 0 {
		return nil
	}
	fresh, err := s.Ledger.LoadTrader(ctx, tx, order.TraderID)
	if err != nil {
		return err
	}
	return s.Ledger.ReleaseCash(ctx, tx, fresh, money.Cents(releaseAmt))
}

// CancelOutcome describes the result of cancelling a persisted order.
type CancelOutcome struct {
	Found           bool
	AlreadyTerminal bool
	Status          domain.OrderStatus
}

// Cancel transitions order into CANCELLED or EXPIRED, releases any
// remaining reservation, and appends the matching outbox event
// (spec.md section 4.F, "Cancel").
func (s *Settlement) Cancel(ctx context.Context, tx *gorm.DB, symbol, orderID, reason string) (CancelOutcome, error) {
	order, err := s.Orders.FindOrder(ctx, tx, orderID)
	if err != nil {
		return CancelOutcome{}, err
	}
	if order == nil {
		return CancelOutcome{Found: false}, nil
	}
	if order.Status.IsTerminal() {
		return CancelOutcome{Found: true, AlreadyTerminal: true, Status: order.Status}, nil
	}

	remaining := order.Remaining()
	newStatus := domain.OrderStatusCancelled
	eventType := domain.EventOrderCancelled
	var payload any = domain.OrderCancelledPayload{OrderID: order.OrderID, Reason: reason}
	if reason == "EXPIRED" {
		newStatus = domain.OrderStatusExpired
		eventType = domain.EventOrderExpired
		payload = domain.OrderExpiredPayload{OrderID: order.OrderID}
	}

	if err := s.Orders.UpdateOrderStatus(ctx, tx, order.OrderID, newStatus, order.FilledQuantity); err != nil {
		return CancelOutcome{}, err
	}

	if order.Side == domain.SideBuy {
		trader, err := s.Ledger.LoadTrader(ctx, tx, order.TraderID)
		if err != nil {
			return CancelOutcome{}, err
		}
		releaseAmt := money.Cents(remaining * order.LimitPriceCents)
		if releaseAmt > 0 {
			if err := s.Ledger.ReleaseCash(ctx, tx, trader, releaseAmt); err != nil {
				return CancelOutcome{}, err
			}
		}
	} else {
		pos, err := s.Ledger.LoadPosition(ctx, tx, order.TraderID, symbol)
		if err != nil {
			return CancelOutcome{}, err
		}
		if remaining > 0 {
			if err := s.Ledger.ReleaseShares(ctx, tx, pos, money.Shares(remaining)); err != nil {
				return CancelOutcome{}, err
			}
		}
	}

	if err := s.Outbox.Append(ctx, tx, symbol, eventType, payload); err != nil {
		return CancelOutcome{}, err
	}

	return CancelOutcome{Found: true, Status: newStatus}, nil
}
