package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"librarium/internal/config"
	"librarium/internal/docstore"
	"librarium/internal/docstore/memory"
	"librarium/internal/docstore/sqlstore"
)

// OpenStore connects to the configured backend, retrying until it answers a
// ping or cfg.ConnectTimeout elapses, and wraps it in a circuit breaker.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*docstore.BreakerStore, error) {
	var (
		store docstore.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		store, err = memory.New(Collections)
	case config.DriverSQLite:
		store, err = connect(ctx, cfg, sqlstore.SQLiteDSN(cfg.SQLitePath), logger)
	default:
		store, err = connect(ctx, cfg, cfg.DSN(), logger)
	}
	if err != nil {
		return nil, err
	}

	name := "docstore"
	if cfg.DatabaseName != "" {
		name += ":" + cfg.DatabaseName
	}
	return docstore.WithBreaker(store, docstore.BreakerSettings{
		Name:                name,
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerTimeout,
	}, logger), nil
}

func connect(ctx context.Context, cfg config.StoreConfig, dsn string, logger *zap.Logger) (docstore.Store, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	maxElapsed := cfg.ConnectTimeout
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	attempt := 0
	store, err := backoff.Retry(ctx, func() (*sqlstore.Store, error) {
		attempt++
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:       cfg.Driver,
			DSN:          dsn,
			Collections:  Collections,
			MaxOpenConns: cfg.MaxOpenConns,
		})
		if err != nil {
			logger.Warn("store not ready",
				zap.String("driver", cfg.Driver),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		return s, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		return nil, fmt.Errorf("connect to %s store: %w", cfg.Driver, err)
	}

	logger.Info("connected to document store",
		zap.String("driver", cfg.Driver),
		zap.Int("attempts", attempt))
	return store, nil
}
