package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/cache"
	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
	"github.com/opencandle/exchange/internal/obsmetrics"
	"github.com/opencandle/exchange/internal/settlement"
	"github.com/opencandle/exchange/internal/storage"
)

// Engine is the single-writer matching engine for one symbol (spec.md
// section 4.F). Exactly one goroutine — Run's loop — ever touches Book;
// everything else communicates with it through the intents channel.
type Engine struct {
	symbol string
	book   *Book

	intents chan request

	transactor  *storage.Transactor
	settle      *settlement.Settlement
	traderCache *cache.TraderCache
	validator   *Validator
	metrics     *obsmetrics.Metrics
	logger      *zap.Logger

	breaker *gobreaker.CircuitBreaker

	stopped chan struct{}
}

// EngineConfig bundles the per-engine tunables sourced from internal/config.Config.
type EngineConfig struct {
	QueueCapacity int
}

// NewEngine constructs an Engine for symbol, wiring the same
// transactor/settlement/cache every other symbol's engine shares, but
// owning its own Book and intent queue exclusively.
func NewEngine(
	symbol string,
	book *Book,
	cfg EngineConfig,
	transactor *storage.Transactor,
	settle *settlement.Settlement,
	traderCache *cache.TraderCache,
	validator *Validator,
	metrics *obsmetrics.Metrics,
	logger *zap.Logger,
) *Engine {
	breakerSettings := gobreaker.Settings{
		Name:        "engine-" + symbol,
		MaxRequests: 1,
		// Interval 0: closed-state failure counts are never cleared. Timeout:
		// a tripped (open) breaker turns half-open after 24h, and handle then
		// consumes this symbol's intents again.
		Interval: 0,
		Timeout:  24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Error("engine circuit breaker state change",
				zap.String("engine", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Engine{
		symbol:      symbol,
		book:        book,
		intents:     make(chan request, cfg.QueueCapacity),
		transactor:  transactor,
		settle:      settle,
		traderCache: traderCache,
		validator:   validator,
		metrics:     metrics,
		logger:      logger.With(zap.String("symbol", symbol)),
		breaker:     gobreaker.NewCircuitBreaker(breakerSettings),
		stopped:     make(chan struct{}),
	}
}

// Run is the engine's single-writer consumer loop (spec.md section 4.F,
// 5: "Exactly one intent is processed at a time per symbol"). It returns
// when ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-e.intents:
			if !ok {
				return
			}
			e.handle(ctx, req)
		}
	}
}

// Shutdown stops accepting new intents and waits for Run to return.
func (e *Engine) Shutdown() {
	close(e.intents)
	<-e.stopped
}

func (e *Engine) handle(ctx context.Context, req request) {
	if e.metrics != nil {
		e.metrics.QueueDepth.WithLabelValues(e.symbol).Set(float64(len(e.intents)))
	}
	if req.ctx.Err() != nil {
		req.reply <- response{err: exchangeerr.New(exchangeerr.CodeTimeout, "deadline elapsed while queued")}
		return
	}
	if e.breaker.State() == gobreaker.StateOpen {
		// spec.md section 7.3: a fatal invariant violation halts this symbol's
		// engine; it must stop consuming, not just log the trip.
		req.reply <- response{err: exchangeerr.New(exchangeerr.CodeEngineHalted, "engine halted after a fatal invariant violation")}
		return
	}

	start := time.Now()
	switch {
	case req.submit != nil:
		result, err := e.processSubmit(req.ctx, req.submit)
		req.reply <- response{submit: result, err: err}
	case req.cancel != nil:
		result, err := e.processCancel(req.ctx, req.cancel)
		req.reply <- response{cancel: result, err: err}
	case req.snapshot != nil:
		snap := e.book.Snapshot()
		req.reply <- response{snapshot: &snap}
	}
	if e.metrics != nil {
		e.metrics.MatchLatencySecs.WithLabelValues(e.symbol).Observe(time.Since(start).Seconds())
	}
}

// enqueue sends req on the intents channel without blocking; a full queue
// replies BUSY immediately rather than queuing (spec.md section 4.G:
// "All per-symbol queues are bounded; full queues reply BUSY").
func (e *Engine) enqueue(req request) error {
	select {
	case e.intents <- req:
		return nil
	default:
		return exchangeerr.New(exchangeerr.CodeBusy, "symbol queue is full")
	}
}

// Submit enqueues a SubmitOrderIntent and blocks for its result.
func (e *Engine) Submit(ctx context.Context, intent *SubmitOrderIntent) (*SubmitResult, error) {
	reply := make(chan response, 1)
	if err := e.enqueue(request{ctx: ctx, submit: intent, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		return resp.submit, resp.err
	case <-ctx.Done():
		return nil, exchangeerr.New(exchangeerr.CodeTimeout, "caller context cancelled")
	}
}

// Cancel enqueues a CancelOrderIntent and blocks for its result.
func (e *Engine) Cancel(ctx context.Context, intent *CancelOrderIntent) (*CancelResult, error) {
	reply := make(chan response, 1)
	if err := e.enqueue(request{ctx: ctx, cancel: intent, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		return resp.cancel, resp.err
	case <-ctx.Done():
		return nil, exchangeerr.New(exchangeerr.CodeTimeout, "caller context cancelled")
	}
}

// Snapshot enqueues a read intent and blocks for the result (spec.md section
// 5: "Snapshot reads also go through the queue so clients see a consistent view").
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	reply := make(chan response, 1)
	if err := e.enqueue(request{ctx: ctx, snapshot: &SnapshotIntent{}, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		return resp.snapshot, resp.err
	case <-ctx.Done():
		return nil, exchangeerr.New(exchangeerr.CodeTimeout, "caller context cancelled")
	}
}

// submitOutcome carries everything computed inside the transaction back out
// to the book-mutation step that runs only after commit (spec.md section
// 4.F steps 8-9).
type submitOutcome struct {
	order        *domain.Order
	plan         MatchPlan
	finalStatus  domain.OrderStatus
	shouldRest   bool
	fillsForView []FillView
}

func (e *Engine) processSubmit(ctx context.Context, intent *SubmitOrderIntent) (*SubmitResult, error) {
	if err := e.validator.ValidateSubmit(intent); err != nil {
		e.reject(exchangeerr.AsCode(err))
		return rejectedResult(err), nil
	}

	if flags, ok := e.traderCache.Get(intent.TraderID); ok && !flags.Active {
		err := exchangeerr.New(exchangeerr.CodeInactiveTrader, "trader is not active")
		e.reject(err.Code)
		return rejectedResult(err), nil
	}

	var bestAsk int64
	var hasBestAsk bool
	if intent.Type == domain.OrderTypeMarket && intent.Side == domain.SideBuy {
		bestAsk, hasBestAsk = e.book.bestPriceFor(false)
		if !hasBestAsk {
			err := exchangeerr.New(exchangeerr.CodeNoLiquidity, "no resting ask to price a MARKET buy against")
			e.reject(err.Code)
			return rejectedResult(err), nil
		}
	}

	var outcome submitOutcome
	txErr := e.transactor.RunInTransaction(ctx, func(tx *gorm.DB) error {
		trader, err := e.settle.Ledger.LoadTrader(ctx, tx, intent.TraderID)
		if err != nil {
			return err
		}
		if !trader.Active {
			return exchangeerr.New(exchangeerr.CodeInactiveTrader, "trader is not active")
		}
		e.traderCache.Set(trader.TraderID, cache.TraderFlags{Active: trader.Active, Admin: trader.Admin})

		reserveAmt, err := e.settle.Reserve(ctx, tx, e.symbol, trader, settlement.SubmitIntent{
			TraderID: intent.TraderID, Symbol: e.symbol, Side: intent.Side, Type: intent.Type,
			Quantity: intent.Quantity, HasLimitPrice: intent.HasLimitPrice, LimitPriceCents: intent.LimitPriceCents,
			TIFSeconds: intent.TIFSeconds,
		}, bestAsk, hasBestAsk)
		if err != nil {
			return err
		}

		draft := &domain.Order{
			TraderID:        intent.TraderID,
			Symbol:          e.symbol,
			Side:            intent.Side,
			Type:            intent.Type,
			LimitPriceCents: intent.LimitPriceCents,
			HasLimitPrice:   intent.HasLimitPrice,
			Quantity:        intent.Quantity,
			TIFSeconds:      intent.TIFSeconds,
		}
		order, err := e.settle.Orders.InsertOrder(ctx, tx, draft)
		if err != nil {
			return err
		}
		if err := e.settle.Outbox.Append(ctx, tx, e.symbol, domain.EventOrderAccepted, domain.OrderAcceptedPayload{
			OrderID: order.OrderID, Symbol: e.symbol, Side: order.Side, Type: order.Type,
			Quantity: order.Quantity, LimitPriceCents: optionalPrice(order), CreatedAt: order.CreatedAt,
		}); err != nil {
			return err
		}

		plan := e.book.Match(order.TraderID, order.Side, order.Quantity, order.HasLimitPrice, order.LimitPriceCents)

		var fillViews []FillView
		var actualCost int64
		for _, f := range plan.Fills {
			sf := settlement.Fill{MakerOrderID: f.MakerOrderID, MakerTraderID: f.MakerTraderID, PriceCents: f.PriceCents, Quantity: f.Quantity}
			if err := e.settle.SettleFill(ctx, tx, e.symbol, order, sf, &actualCost); err != nil {
				return err
			}
			fillViews = append(fillViews, FillView{MakerOrderID: f.MakerOrderID, Quantity: f.Quantity, PriceCents: f.PriceCents})
		}

		filledQty := order.Quantity - plan.RemainingQty
		finalStatus, shouldRest, rejectReason := e.finalizeTakerStatus(order, plan.RemainingQty, len(plan.Fills) > 0)

		if err := e.settle.Orders.UpdateOrderStatus(ctx, tx, order.OrderID, finalStatus, filledQty); err != nil {
			return err
		}

		if err := e.settle.ReleaseResidual(ctx, tx, e.symbol, trader, order, reserveAmt, actualCost, filledQty, shouldRest); err != nil {
			return err
		}

		if rejectReason != "" {
			if err := e.settle.Outbox.Append(ctx, tx, e.symbol, domain.EventOrderCancelled, domain.OrderCancelledPayload{
				OrderID: order.OrderID, Reason: rejectReason,
			}); err != nil {
				return err
			}
		} else if shouldRest {
			if err := e.settle.Outbox.Append(ctx, tx, e.symbol, domain.EventBookChanged, struct {
				Symbol string `json:"symbol"`
			}{Symbol: e.symbol}); err != nil {
				return err
			}
		}

		order.Status = finalStatus
		order.FilledQuantity = filledQty
		outcome = submitOutcome{order: order, plan: plan, finalStatus: finalStatus, shouldRest: shouldRest, fillsForView: fillViews}
		return nil
	})

	if txErr != nil {
		if exchangeerr.IsClient(txErr) {
			e.reject(exchangeerr.AsCode(txErr))
			return rejectedResult(txErr), nil
		}
		if exchangeerr.IsFatal(txErr) {
			e.tripBreaker(txErr)
			return nil, txErr
		}
		return nil, txErr
	}

	// Commit succeeded: apply the identical mutation to the in-memory book
	// (spec.md section 4.F step 8). No other goroutine can observe the book
	// between commit and this point because this Engine is single-writer.
	e.book.Apply(outcome.plan, outcome.order.Side == domain.SideSell)
	if outcome.shouldRest {
		e.book.Add(outcome.order.Side == domain.SideBuy, outcome.order.LimitPriceCents, &RestingOrder{
			OrderID: outcome.order.OrderID, TraderID: outcome.order.TraderID,
			Remaining: outcome.order.Remaining(), Sequence: outcome.order.SequenceNumber,
		})
	}
	if e.metrics != nil {
		e.metrics.TradesExecuted.WithLabelValues(e.symbol).Add(float64(len(outcome.plan.Fills)))
	}

	return &SubmitResult{
		OrderID: outcome.order.OrderID,
		Status:  outcome.finalStatus,
		Fills:   outcome.fillsForView,
	}, nil
}

// finalizeTakerStatus implements spec.md section 4.F step 7.
func (e *Engine) finalizeTakerStatus(order *domain.Order, remaining int64, anyFill bool) (status domain.OrderStatus, shouldRest bool, cancelReason string) {
	if remaining == 0 {
		return domain.OrderStatusFilled, false, ""
	}
	switch order.Type {
	case domain.OrderTypeLimit:
		if anyFill {
			return domain.OrderStatusPartiallyFilled, true, ""
		}
		return domain.OrderStatusOpen, true, ""
	case domain.OrderTypeIOC:
		return domain.OrderStatusCancelled, false, "IOC_UNFILLED"
	case domain.OrderTypeMarket:
		return domain.OrderStatusCancelled, false, "NO_LIQUIDITY"
	default:
		return domain.OrderStatusCancelled, false, "INTERNAL"
	}
}

func (e *Engine) processCancel(ctx context.Context, intent *CancelOrderIntent) (*CancelResult, error) {
	var outcome settlement.CancelOutcome
	txErr := e.transactor.RunInTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		outcome, err = e.settle.Cancel(ctx, tx, e.symbol, intent.OrderID, intent.Reason)
		return err
	})

	if txErr != nil {
		if exchangeerr.IsFatal(txErr) {
			e.tripBreaker(txErr)
		}
		return nil, txErr
	}
	if !outcome.Found {
		return &CancelResult{Status: "UNKNOWN"}, nil
	}
	if outcome.AlreadyTerminal {
		return &CancelResult{Status: "ALREADY_TERMINAL"}, nil
	}

	e.book.Cancel(intent.OrderID)
	return &CancelResult{Status: string(outcome.Status)}, nil
}

func (e *Engine) reject(code exchangeerr.Code) {
	if e.metrics != nil {
		e.metrics.OrdersRejected.WithLabelValues(string(code)).Inc()
	}
}

func (e *Engine) tripBreaker(err error) {
	e.logger.Error("invariant violation: engine halting intent consumption for this symbol", zap.Error(err))
	_, _ = e.breaker.Execute(func() (any, error) { return nil, fmt.Errorf("tripped: %w", err) })
}

func rejectedResult(err error) *SubmitResult {
	return &SubmitResult{Status: domain.OrderStatusRejected, RejectionReason: string(exchangeerr.AsCode(err))}
}

func optionalPrice(o *domain.Order) *int64 {
	if !o.HasLimitPrice {
		return nil
	}
	v := o.LimitPriceCents
	return &v
}
