package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"librarium/internal/docstore"
)

// ErrInjected is returned by operations a FaultyStore was told to fail.
var ErrInjected = errors.New("chaos: injected store failure")

// Op names a store operation.
type Op string

const (
	OpInsert Op = "insert"
	OpFind   Op = "find"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type faultKey struct {
	op         Op
	collection string
}

// FaultyStore wraps a Store and injects latency and failures on demand.
type FaultyStore struct {
	docstore.Store

	mu      sync.RWMutex
	latency time.Duration
	fail    map[faultKey]bool
}

var _ docstore.Store = (*FaultyStore)(nil)

func NewFaultyStore(next docstore.Store) *FaultyStore {
	return &FaultyStore{Store: next, fail: make(map[faultKey]bool)}
}

// SetLatency delays every operation by d.
func (f *FaultyStore) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// Fail makes op on collection return ErrInjected.
func (f *FaultyStore) Fail(op Op, collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[faultKey{op, collection}] = true
}

// Reset removes every injected fault.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = 0
	clear(f.fail)
}

func (f *FaultyStore) inject(ctx context.Context, op Op, collection string) error {
	f.mu.RLock()
	latency := f.latency
	fail := f.fail[faultKey{op, collection}]
	f.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if fail {
		return ErrInjected
	}
	return nil
}

func (f *FaultyStore) InsertOne(ctx context.Context, collection string, doc any) (string, error) {
	if err := f.inject(ctx, OpInsert, collection); err != nil {
		return "", err
	}
	return f.Store.InsertOne(ctx, collection, doc)
}

func (f *FaultyStore) FindOne(ctx context.Context, collection string, filter docstore.Filter, out any) error {
	if err := f.inject(ctx, OpFind, collection); err != nil {
		return err
	}
	return f.Store.FindOne(ctx, collection, filter, out)
}

func (f *FaultyStore) Find(ctx context.Context, collection string, filter docstore.Filter, opts ...docstore.FindOption) (docstore.Cursor, error) {
	if err := f.inject(ctx, OpFind, collection); err != nil {
		return nil, err
	}
	return f.Store.Find(ctx, collection, filter, opts...)
}

func (f *FaultyStore) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, update docstore.Update) (int64, error) {
	if err := f.inject(ctx, OpUpdate, collection); err != nil {
		return 0, err
	}
	return f.Store.UpdateOne(ctx, collection, filter, update)
}

func (f *FaultyStore) DeleteOne(ctx context.Context, collection string, filter docstore.Filter) (int64, error) {
	if err := f.inject(ctx, OpDelete, collection); err != nil {
		return 0, err
	}
	return f.Store.DeleteOne(ctx, collection, filter)
}
