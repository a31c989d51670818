package catalog

import (
	"context"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in BookInput) (*Book, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	UpdateBook(ctx context.Context, id string, patch BookPatch) (*Book, error)
	DeleteBook(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]*Book, error)
}

// LoanChecker reports whether a book may be removed from the catalog.
type LoanChecker interface {
	CanDeleteBook(ctx context.Context, bookID string) (bool, error)
}
