package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/cache"
	"github.com/opencandle/exchange/internal/config"
	"github.com/opencandle/exchange/internal/logging"
	"github.com/opencandle/exchange/internal/matching"
	"github.com/opencandle/exchange/internal/obsmetrics"
	"github.com/opencandle/exchange/internal/recovery"
	"github.com/opencandle/exchange/internal/router"
	"github.com/opencandle/exchange/internal/scheduler"
	"github.com/opencandle/exchange/internal/settlement"
	"github.com/opencandle/exchange/internal/storage"
)

// recoveryPoolSize bounds how many symbols rebuild their books concurrently
// at startup (spec.md section 4.J). Not exposed as a config knob because
// spec.md section 6 does not enumerate one; a fixed, conservative default
// avoids saturating the database during a cold start.
const recoveryPoolSize = 8

// traderCacheTTL is the advisory hot-path cache's time-to-live (internal/cache).
const traderCacheTTL = 30 * time.Second

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDB,
			provideSequencer,
			provideLedgerStore,
			provideOrderStore,
			provideOutboxStore,
			provideSettlement,
			provideValidator,
			provideTraderCache,
			provideMetrics,
			provideTransactor,
			provideRouter,
		),
		fx.Invoke(runExchange),
	).Run()
}

func provideConfig() (*config.Config, error) {
	return config.Load("")
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level)
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := storage.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideSequencer() *storage.Sequencer {
	return storage.NewSequencer()
}

func provideLedgerStore(logger *zap.Logger) *storage.LedgerStore {
	return storage.NewLedgerStore(logger)
}

func provideOrderStore(logger *zap.Logger, seq *storage.Sequencer) *storage.OrderStore {
	return storage.NewOrderStore(logger, seq)
}

func provideOutboxStore(logger *zap.Logger) *storage.OutboxStore {
	return storage.NewOutboxStore(logger)
}

func provideSettlement(cfg *config.Config, ledger *storage.LedgerStore, orders *storage.OrderStore, outbox *storage.OutboxStore) *settlement.Settlement {
	numerator, denominator := cfg.SlippageRatio()
	return settlement.New(ledger, orders, outbox, numerator, denominator)
}

func provideValidator() *matching.Validator {
	return matching.NewValidator()
}

func provideTraderCache() *cache.TraderCache {
	return cache.NewTraderCache(traderCacheTTL)
}

func provideMetrics() *obsmetrics.Metrics {
	return obsmetrics.New(prometheus.DefaultRegisterer)
}

func provideTransactor(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *storage.Transactor {
	policy := storage.RetryPolicy{
		MaxRetries: cfg.Retry.DBMaxRetries,
		BaseDelay:  cfg.RetryBaseDelay(),
		MaxDelay:   cfg.RetryMaxDelay(),
	}
	return storage.NewTransactor(db, policy, logger)
}

func provideRouter(logger *zap.Logger, db *gorm.DB, orders *storage.OrderStore) *router.Router {
	return router.New(logger, db, orders)
}

// runExchange wires recovery and the expiration scheduler into fx's
// lifecycle: OnStart rebuilds every symbol's book and starts its Engine,
// then starts the scheduler; OnStop cancels the run context, which stops the
// scheduler and every Engine loop, then waits for each Engine to stop.
func runExchange(
	lc fx.Lifecycle,
	cfg *config.Config,
	db *gorm.DB,
	transactor *storage.Transactor,
	settle *settlement.Settlement,
	orders *storage.OrderStore,
	rtr *router.Router,
	traderCache *cache.TraderCache,
	validator *matching.Validator,
	metrics *obsmetrics.Metrics,
	logger *zap.Logger,
) {
	var cancelRun context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			cancelRun = cancel

			engineCfg := matching.EngineConfig{QueueCapacity: cfg.Matching.PerSymbolQueueCapacity}
			bootstrap := recovery.New(db, orders, settle, transactor, rtr, traderCache, validator, metrics, engineCfg, recoveryPoolSize, logger)
			if err := bootstrap.Run(startCtx, runCtx, cfg.Symbols); err != nil {
				return err
			}

			sched := scheduler.New(db, orders, rtr, cfg.ExpirationTick(), metrics, logger)
			go sched.Run(runCtx)

			logger.Info("exchange started", zap.Strings("symbols", cfg.Symbols))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancelRun != nil {
				cancelRun()
			}
			rtr.Shutdown()
			logger.Info("exchange stopped")
			return nil
		},
	})
}
