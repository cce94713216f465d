// Package scheduler implements spec.md section 4.I: a periodic tick that
// finds TIF-expired resting orders and routes synthetic cancels for them.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencandle/exchange/internal/matching"
	"github.com/opencandle/exchange/internal/obsmetrics"
	"github.com/opencandle/exchange/internal/storage"
)

// Router is the subset of router.Router the scheduler needs. Declared here
// (rather than importing internal/router) to keep the scheduler testable
// against a fake.
type Router interface {
	CancelInSymbol(ctx context.Context, symbol string, intent *matching.CancelOrderIntent) (*matching.CancelResult, error)
}

// ExpirationScheduler ticks at a fixed interval, scans every OPEN/PARTIALLY_FILLED
// order with a time-in-force, and cancels those past their deadline
// (spec.md section 4.I, "Expiration is not precise to the millisecond;
// it is bounded by the tick interval").
type ExpirationScheduler struct {
	db       *gorm.DB
	orders   *storage.OrderStore
	router   Router
	interval time.Duration
	metrics  *obsmetrics.Metrics
	logger   *zap.Logger
}

// New constructs an ExpirationScheduler.
func New(db *gorm.DB, orders *storage.OrderStore, router Router, interval time.Duration, metrics *obsmetrics.Metrics, logger *zap.Logger) *ExpirationScheduler {
	return &ExpirationScheduler{db: db, orders: orders, router: router, interval: interval, metrics: metrics, logger: logger}
}

// Run blocks, ticking until ctx is cancelled.
func (s *ExpirationScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *ExpirationScheduler) tick(ctx context.Context) {
	orders, err := s.orders.LoadOpenOrdersWithTIF(ctx, s.db)
	if err != nil {
		s.logger.Error("expiration scan failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, order := range orders {
		if order.ExpiresAt().IsZero() || order.ExpiresAt().After(now) {
			continue
		}
		result, err := s.router.CancelInSymbol(ctx, order.Symbol, &matching.CancelOrderIntent{
			TraderID: order.TraderID, OrderID: order.OrderID, Reason: "EXPIRED",
		})
		if err != nil {
			s.logger.Warn("failed to expire order", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		if result.Status == "EXPIRED" && s.metrics != nil {
			s.metrics.OrdersExpired.Inc()
		}
	}
}
