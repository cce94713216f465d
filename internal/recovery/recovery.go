// Package recovery implements spec.md section 4.J: on startup, rebuild each
// symbol's in-memory Book by streaming its open orders back from storage in
// (price, sequence) order, then start that symbol's Engine.
package recovery

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/cache"
	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/matching"
	"github.com/opencandle/exchange/internal/obsmetrics"
	"github.com/opencandle/exchange/internal/router"
	"github.com/opencandle/exchange/internal/settlement"
	"github.com/opencandle/exchange/internal/storage"
)

// Bootstrap owns the components recovery wires per symbol: a bounded
// worker pool bounds how many symbols rebuild concurrently (spec.md section
// 4.J, "Recovery may run symbols in parallel; it must not overwhelm the
// database"), grounded on the teacher's use of panjf2000/ants for bounded
// concurrent backfills.
type Bootstrap struct {
	db          *gorm.DB
	orders      *storage.OrderStore
	settlement  *settlement.Settlement
	transactor  *storage.Transactor
	router      *router.Router
	traderCache *cache.TraderCache
	validator   *matching.Validator
	metrics     *obsmetrics.Metrics
	engineCfg   matching.EngineConfig
	poolSize    int
	logger      *zap.Logger
}

// New constructs a Bootstrap.
func New(
	db *gorm.DB,
	orders *storage.OrderStore,
	settle *settlement.Settlement,
	transactor *storage.Transactor,
	rtr *router.Router,
	traderCache *cache.TraderCache,
	validator *matching.Validator,
	metrics *obsmetrics.Metrics,
	engineCfg matching.EngineConfig,
	poolSize int,
	logger *zap.Logger,
) *Bootstrap {
	return &Bootstrap{
		db: db, orders: orders, settlement: settle, transactor: transactor,
		router: rtr, traderCache: traderCache, validator: validator, metrics: metrics,
		engineCfg: engineCfg, poolSize: poolSize, logger: logger,
	}
}

// Run rebuilds and registers every symbol's Engine, then starts each
// Engine's consumer loop under runCtx. It returns once every symbol has
// finished recovering (not once the engines finish running).
func (b *Bootstrap) Run(ctx context.Context, runCtx context.Context, symbols []string) error {
	pool, err := ants.NewPool(b.poolSize)
	if err != nil {
		return fmt.Errorf("create recovery pool: %w", err)
	}
	defer pool.Release()

	group, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		symbol := symbol
		group.Go(func() error {
			done := make(chan error, 1)
			submitErr := pool.Submit(func() {
				done <- b.recoverSymbol(gctx, runCtx, symbol)
			})
			if submitErr != nil {
				return fmt.Errorf("submit recovery task for %s: %w", symbol, submitErr)
			}
			return <-done
		})
	}
	return group.Wait()
}

func (b *Bootstrap) recoverSymbol(ctx, runCtx context.Context, symbol string) error {
	book := matching.NewBook(symbol)

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		orders, err := b.orders.LoadOpenOrders(ctx, b.db, symbol, side)
		if err != nil {
			return fmt.Errorf("load open orders for %s/%s: %w", symbol, side, err)
		}
		for _, order := range orders {
			book.Add(side == domain.SideBuy, order.LimitPriceCents, &matching.RestingOrder{
				OrderID: order.OrderID, TraderID: order.TraderID,
				Remaining: order.Remaining(), Sequence: order.SequenceNumber,
			})
		}
		b.logger.Info("recovered resting orders", zap.String("symbol", symbol), zap.String("side", string(side)), zap.Int("count", len(orders)))
	}

	engine := matching.NewEngine(symbol, book, b.engineCfg, b.transactor, b.settlement, b.traderCache, b.validator, b.metrics, b.logger)
	b.router.Register(symbol, engine)
	go engine.Run(runCtx)
	return nil
}
