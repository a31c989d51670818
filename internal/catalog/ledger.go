package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"librarium/internal/apperror"
	"librarium/internal/docstore"
)

// Ledger owns the copy counters of books. Every change is a single
// conditional store update, so counters move by exactly one per call even
// under concurrent callers.
type Ledger struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewLedger creates a ledger over the books collection of store.
func NewLedger(store docstore.Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Book loads a book by id.
func (l *Ledger) Book(ctx context.Context, id string) (*Book, error) {
	var book Book
	if err := l.store.FindOne(ctx, Collection, docstore.ByID(id), &book); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("Book")
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// Books loads every book.
func (l *Ledger) Books(ctx context.Context) ([]*Book, error) {
	cur, err := l.store.Find(ctx, Collection, nil, docstore.SortAsc("title"))
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	books, err := docstore.Collect[*Book](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// Reserve takes one copy of the book off the shelf. It fails with
// InvalidState when no copy is available at the moment of the update.
func (l *Ledger) Reserve(ctx context.Context, bookID string) error {
	matched, err := l.store.UpdateOne(ctx, Collection,
		docstore.And(docstore.ByID(bookID), docstore.Gt("available_copies", 0)),
		docstore.Update{Inc: map[string]int{"available_copies": -1}},
	)
	if err != nil {
		return fmt.Errorf("failed to reserve copy: %w", err)
	}
	if matched == 0 {
		if _, err := l.Book(ctx, bookID); err != nil {
			return err
		}
		return apperror.InvalidState("No copies available")
	}

	l.logger.Debug("copy reserved", zap.String("book_id", bookID))
	return nil
}

// Release puts one copy of the book back on the shelf.
func (l *Ledger) Release(ctx context.Context, bookID string) error {
	matched, err := l.store.UpdateOne(ctx, Collection,
		docstore.ByID(bookID),
		docstore.Update{Inc: map[string]int{"available_copies": 1}},
	)
	if err != nil {
		return fmt.Errorf("failed to release copy: %w", err)
	}
	if matched == 0 {
		return apperror.NotFound("Book")
	}

	l.logger.Debug("copy released", zap.String("book_id", bookID))
	return nil
}
