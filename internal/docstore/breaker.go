package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings tunes the circuit breaker placed in front of a Store.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerStore guards a Store with a circuit breaker. Not-found results,
// duplicate ids and cancelled contexts do not count as failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

var _ Store = (*BreakerStore)(nil)

// WithBreaker wraps next in a circuit breaker.
func WithBreaker(next Store, settings BreakerSettings, logger *zap.Logger) *BreakerStore {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    settings.Name,
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrDuplicateID) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("document store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerStore{next: next, cb: cb}
}

// State reports the current breaker state.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func (b *BreakerStore) run(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (b *BreakerStore) InsertOne(ctx context.Context, collection string, doc any) (string, error) {
	var id string
	err := b.run(func() error {
		var err error
		id, err = b.next.InsertOne(ctx, collection, doc)
		return err
	})
	return id, err
}

func (b *BreakerStore) FindOne(ctx context.Context, collection string, filter Filter, out any) error {
	return b.run(func() error {
		return b.next.FindOne(ctx, collection, filter, out)
	})
}

func (b *BreakerStore) Find(ctx context.Context, collection string, filter Filter, opts ...FindOption) (Cursor, error) {
	var cur Cursor
	err := b.run(func() error {
		var err error
		cur, err = b.next.Find(ctx, collection, filter, opts...)
		return err
	})
	return cur, err
}

func (b *BreakerStore) UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (int64, error) {
	var matched int64
	err := b.run(func() error {
		var err error
		matched, err = b.next.UpdateOne(ctx, collection, filter, update)
		return err
	})
	return matched, err
}

func (b *BreakerStore) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	var deleted int64
	err := b.run(func() error {
		var err error
		deleted, err = b.next.DeleteOne(ctx, collection, filter)
		return err
	})
	return deleted, err
}

func (b *BreakerStore) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := b.run(func() error {
		var err error
		names, err = b.next.Collections(ctx)
		return err
	})
	return names, err
}

func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.run(func() error {
		return b.next.Ping(ctx)
	})
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}
