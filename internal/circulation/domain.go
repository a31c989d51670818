package circulation

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Collection holds the loan documents.
const Collection = "loans"

// DefaultLoanDays is the loan period used when a borrow request names none.
const DefaultLoanDays = 14

// Journal event types.
const (
	EventLoanBorrowed   = "LoanBorrowed"
	EventLoanReturned   = "LoanReturned"
	EventInventoryDrift = "InventoryDriftDetected"
	aggregateLoan       = "loan"
	aggregateBook       = "book"
)

// DateLayout is the wire form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar date in UTC.
type Date struct {
	time.Time
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// ErrDateRange rejects dates that DateLayout cannot represent.
var ErrDateRange = errors.New("date: year outside 0000-9999")

// Check reports whether d fits the four-digit year of DateLayout.
func (d Date) Check() error {
	if y := d.Year(); y < 0 || y > 9999 {
		return fmt.Errorf("%w: %d", ErrDateRange, y)
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if err := d.Check(); err != nil {
		return nil, err
	}
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	d.Time = t
	return nil
}

// Loan records one copy of a book lent to a member.
type Loan struct {
	ID        string    `json:"id,omitempty"`
	MemberID  string    `json:"member_id"`
	BookID    string    `json:"book_id"`
	DueDate   Date      `json:"due_date"`
	Returned  bool      `json:"returned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookSnapshot is the part of a book shown next to a loan.
type BookSnapshot struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// MemberSnapshot is the part of a member shown next to a loan.
type MemberSnapshot struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoanView is a loan with its book snapshot; Book is nil when the book no
// longer exists.
type LoanView struct {
	Loan
	Book *BookSnapshot `json:"book"`
}

// ActiveLoanView adds the borrowing member to a LoanView.
type ActiveLoanView struct {
	LoanView
	Member *MemberSnapshot `json:"member"`
}

// BorrowRequest is the body of a borrow call. A nil Days means DefaultLoanDays.
type BorrowRequest struct {
	MemberID string `json:"member_id"`
	BookID   string `json:"book_id"`
	Days     *int   `json:"days"`
}

// ReturnRequest is the body of a return call.
type ReturnRequest struct {
	LoanID string `json:"loan_id"`
}

// LoanFilter narrows ListLoans. Zero values do not filter.
type LoanFilter struct {
	MemberID string
	Active   *bool
}

// LoanBorrowedEvent is journaled when a loan is created.
type LoanBorrowedEvent struct {
	LoanID   string `json:"loan_id"`
	MemberID string `json:"member_id"`
	BookID   string `json:"book_id"`
	DueDate  Date   `json:"due_date"`
}

// LoanReturnedEvent is journaled when a loan is returned.
type LoanReturnedEvent struct {
	LoanID string `json:"loan_id"`
	BookID string `json:"book_id"`
}

// InventoryDriftEvent is journaled against a book whose copy counter could
// not be corrected after a failed step.
type InventoryDriftEvent struct {
	BookID    string `json:"book_id"`
	LoanID    string `json:"loan_id,omitempty"`
	Operation string `json:"operation"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

// Discrepancy describes a book whose counters disagree with its loans.
type Discrepancy struct {
	BookID           string `json:"book_id"`
	Title            string `json:"title,omitempty"`
	TotalCopies      int    `json:"total_copies"`
	AvailableCopies  int    `json:"available_copies"`
	OutstandingLoans int    `json:"outstanding_loans"`
	Reason           string `json:"reason"`
}

// AuditReport is the result of an inventory audit.
type AuditReport struct {
	BooksChecked     int           `json:"books_checked"`
	OutstandingLoans int           `json:"outstanding_loans"`
	Consistent       bool          `json:"consistent"`
	Discrepancies    []Discrepancy `json:"discrepancies"`
}
