package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opencandle/exchange/internal/exchangeerr"
)

// Open connects to Postgres via the given DSN. Row-level locking
// (SELECT ... FOR UPDATE, spec.md section 4.D) and serializable transaction
// semantics require a real RDBMS, so unlike the teacher's SQLite-oriented
// HFT database config, this always targets Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// RetryPolicy carries the exponential-backoff parameters from spec.md
// section 6 (DB_MAX_RETRIES, DB_RETRY_BASE_MS, DB_RETRY_MAX_MS).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Transactor runs a unit of work inside a single atomic transaction,
// retrying transient infrastructure errors with exponential backoff
// (spec.md section 4.F, "Failure semantics"). Re-executing the whole
// Submit step on retry is safe because nothing is mutated in memory before
// commit (spec.md section 4.F step 9).
type Transactor struct {
	db     *gorm.DB
	policy RetryPolicy
	logger *zap.Logger
}

// NewTransactor constructs a Transactor.
func NewTransactor(db *gorm.DB, policy RetryPolicy, logger *zap.Logger) *Transactor {
	return &Transactor{db: db, policy: policy, logger: logger}
}

// RunInTransaction executes fn inside a transaction. fn returning a client
// or fatal *exchangeerr.Error aborts immediately without retry; any other
// error (or a transaction-commit failure) is treated as transient and
// retried up to MaxRetries times with jittered exponential backoff, after
// which it is surfaced as CodeInternal.
func (t *Transactor) RunInTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	delay := t.policy.BaseDelay

	for attempt := 0; attempt <= t.policy.MaxRetries; attempt++ {
		err := t.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		var exErr *exchangeerr.Error
		if errors.As(err, &exErr) && (exErr.Severity == exchangeerr.SeverityClient || exErr.Severity == exchangeerr.SeverityFatal) {
			return err
		}

		lastErr = err
		if attempt == t.policy.MaxRetries {
			break
		}

		t.logger.Warn("retrying transaction after transient error",
			zap.Error(err), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if delay > t.policy.MaxDelay {
			delay = t.policy.MaxDelay
		}
	}

	return exchangeerr.Transient(fmt.Sprintf("exhausted %d retries: %v", t.policy.MaxRetries, lastErr))
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + d/2
}
