package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"librarium/internal/apperror"
	"librarium/internal/docstore"
)

// editAttempts bounds the optimistic retries of an administrative edit.
const editAttempts = 3

// service implements the Service interface.
type service struct {
	store  docstore.Store
	ledger *Ledger
	loans  LoanChecker
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(store docstore.Store, ledger *Ledger, loans LoanChecker, logger *zap.Logger) Service {
	return &service{
		store:  store,
		ledger: ledger,
		loans:  loans,
		logger: logger,
	}
}

// AddBook creates a new book in the catalog.
func (s *service) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	book, err := in.ToBook()
	if err != nil {
		return nil, err
	}

	id, err := s.store.InsertOne(ctx, Collection, book)
	if err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	s.logger.Info("book added",
		zap.String("book_id", id),
		zap.String("title", book.Title),
		zap.Int("total_copies", book.TotalCopies))
	return s.ledger.Book(ctx, id)
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id string) (*Book, error) {
	id, err := apperror.ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.ledger.Book(ctx, id)
}

// UpdateBook applies an administrative edit. The edited book must keep
// 0 <= available_copies <= total_copies; the write is conditional on the
// copy counters it was validated against.
func (s *service) UpdateBook(ctx context.Context, id string, patch BookPatch) (*Book, error) {
	id, err := apperror.ParseID(id)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.ledger.Book(ctx, id)
	}

	for attempt := 0; attempt < editAttempts; attempt++ {
		current, err := s.ledger.Book(ctx, id)
		if err != nil {
			return nil, err
		}

		_, set, err := patch.Apply(*current)
		if err != nil {
			return nil, err
		}

		matched, err := s.store.UpdateOne(ctx, Collection,
			docstore.And(
				docstore.ByID(id),
				docstore.Eq("total_copies", current.TotalCopies),
				docstore.Eq("available_copies", current.AvailableCopies),
			),
			docstore.Update{Set: set},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update book: %w", err)
		}
		if matched == 1 {
			return s.ledger.Book(ctx, id)
		}

		s.logger.Debug("book changed during edit, retrying",
			zap.String("book_id", id),
			zap.Int("attempt", attempt+1))
	}

	return nil, apperror.InvalidState("Book was modified concurrently, retry the edit")
}

// DeleteBook removes a book that no active loan references.
func (s *service) DeleteBook(ctx context.Context, id string) error {
	id, err := apperror.ParseID(id)
	if err != nil {
		return err
	}

	if err := s.checkDeletable(ctx, id); err != nil {
		return err
	}

	book, err := s.ledger.Book(ctx, id)
	if err != nil {
		return err
	}

	// A copy reserved after the check changes available_copies and makes
	// the delete match nothing.
	deleted, err := s.store.DeleteOne(ctx, Collection, docstore.And(
		docstore.ByID(id),
		docstore.Eq("available_copies", book.AvailableCopies),
	))
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if deleted == 0 {
		if err := s.checkDeletable(ctx, id); err != nil {
			return err
		}
		if _, err := s.ledger.Book(ctx, id); err != nil {
			return err
		}
		return apperror.InvalidState("Book was modified concurrently, retry the delete")
	}

	s.logger.Info("book deleted", zap.String("book_id", id))
	return nil
}

func (s *service) checkDeletable(ctx context.Context, id string) error {
	ok, err := s.loans.CanDeleteBook(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check active loans: %w", err)
	}
	if !ok {
		return apperror.InvalidState("Cannot delete book with active loans")
	}
	return nil
}

// Search finds books whose title, author, category or tags contain query,
// ignoring case. An empty query lists every book. Results are sorted by title.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	var filter docstore.Filter
	if q := strings.TrimSpace(query); q != "" {
		filter = docstore.ContainsFold(q, "title", "author", "category", "tags")
	}

	cur, err := s.store.Find(ctx, Collection, filter, docstore.SortAsc("title"))
	if err != nil {
		return nil, fmt.Errorf("book search failed: %w", err)
	}
	books, err := docstore.Collect[*Book](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("book search failed: %w", err)
	}
	return books, nil
}
