package circulation

import (
	"context"

	"librarium/internal/journal"
	"librarium/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	// Borrow lends one copy of bookID to memberID for days days; values
	// below one are raised to one.
	Borrow(ctx context.Context, memberID, bookID string, days int) (*Loan, error)
	// Return closes a loan. Returning a closed loan changes nothing.
	Return(ctx context.Context, loanID string) (*Loan, error)
	ActiveLoans(ctx context.Context) ([]*ActiveLoanView, error)
	LoansByMemberEmail(ctx context.Context, email string) ([]*LoanView, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*Loan, error)
	CanDeleteBook(ctx context.Context, bookID string) (bool, error)
	Audit(ctx context.Context) (*AuditReport, error)
	History(ctx context.Context, loanID string) ([]journal.Event, error)
}

// MemberDirectory resolves the members loans refer to.
type MemberDirectory interface {
	GetMember(ctx context.Context, id string) (*membership.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*membership.Member, error)
}
