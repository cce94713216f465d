// Package router implements spec.md section 4.G: the process-wide registry
// mapping a symbol to its single-writer matching.Engine, and the entry
// points every other component (transport-free; the API surface itself is
// out of scope) calls to reach a symbol.
package router

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/exchangeerr"
	"github.com/opencandle/exchange/internal/matching"
	"github.com/opencandle/exchange/internal/storage"
)

// Router dispatches Submit/Cancel/Snapshot calls to the Engine owning the
// named symbol. There is no global lock on the hot path: routing is a
// read-only map lookup, and each Engine serializes its own symbol
// independently (spec.md section 4.G, "no cross-symbol coordination").
type Router struct {
	mu      sync.RWMutex
	engines map[string]*matching.Engine
	logger  *zap.Logger

	db     *gorm.DB
	orders *storage.OrderStore
}

// New constructs an empty Router. db/orders are used only by Cancel's
// order_id-only entry point to resolve an order's symbol (spec.md section
// 4.G, "Cancel(order_id) — looks up the order's symbol").
func New(logger *zap.Logger, db *gorm.DB, orders *storage.OrderStore) *Router {
	return &Router{engines: make(map[string]*matching.Engine), logger: logger, db: db, orders: orders}
}

// Register adds symbol's Engine to the routing table. Called once per
// symbol during startup/recovery, before any intents are accepted.
func (r *Router) Register(symbol string, engine *matching.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[symbol] = engine
}

// Engine returns the Engine registered for symbol, if any.
func (r *Router) Engine(symbol string) (*matching.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[symbol]
	return e, ok
}

// Symbols returns every registered symbol.
func (r *Router) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for s := range r.engines {
		out = append(out, s)
	}
	return out
}

// Submit routes a SubmitOrderIntent to its symbol's Engine, rejecting with
// UNKNOWN_SYMBOL if no Engine is registered (spec.md section 4.F step 1).
func (r *Router) Submit(ctx context.Context, intent *matching.SubmitOrderIntent) (*matching.SubmitResult, error) {
	engine, ok := r.Engine(intent.Symbol)
	if !ok {
		return nil, exchangeerr.New(exchangeerr.CodeUnknownSymbol, "unknown symbol").WithDetail("symbol", intent.Symbol)
	}
	return engine.Submit(ctx, intent)
}

// CancelInSymbol routes a CancelOrderIntent to symbol's Engine directly, for
// callers that already know the symbol (e.g. internal/scheduler, which just
// loaded the order row itself).
func (r *Router) CancelInSymbol(ctx context.Context, symbol string, intent *matching.CancelOrderIntent) (*matching.CancelResult, error) {
	engine, ok := r.Engine(symbol)
	if !ok {
		return nil, exchangeerr.New(exchangeerr.CodeUnknownSymbol, "unknown symbol").WithDetail("symbol", symbol)
	}
	return engine.Cancel(ctx, intent)
}

// Cancel implements spec.md section 4.G's documented Cancel(order_id)
// contract and section 6's `{trader_id, order_id}` cancel request: it
// resolves the order's symbol via the order store and then routes to that
// symbol's Engine. This is the entry point an external transport (out of
// scope here) would call.
func (r *Router) Cancel(ctx context.Context, traderID, orderID string) (*matching.CancelResult, error) {
	order, err := r.orders.FindOrder(ctx, r.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return &matching.CancelResult{Status: "UNKNOWN"}, nil
	}
	return r.CancelInSymbol(ctx, order.Symbol, &matching.CancelOrderIntent{
		TraderID: traderID, OrderID: orderID,
	})
}

// Snapshot routes a read-only depth request to symbol's Engine.
func (r *Router) Snapshot(ctx context.Context, symbol string) (*matching.Snapshot, error) {
	engine, ok := r.Engine(symbol)
	if !ok {
		return nil, exchangeerr.New(exchangeerr.CodeUnknownSymbol, "unknown symbol").WithDetail("symbol", symbol)
	}
	return engine.Snapshot(ctx)
}

// Shutdown stops every registered Engine, waiting for each to drain.
func (r *Router) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var wg sync.WaitGroup
	for symbol, engine := range r.engines {
		wg.Add(1)
		go func(symbol string, e *matching.Engine) {
			defer wg.Done()
			e.Shutdown()
		}(symbol, engine)
	}
	wg.Wait()
	r.logger.Info("router shutdown complete", zap.Int("symbols", len(r.engines)))
}
