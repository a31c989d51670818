package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/apperror"
	"librarium/internal/catalog"
	"librarium/internal/docstore"
)

const missingID = "7f3c2a8e-0000-4000-8000-000000000001"

func TestBorrowAndReturnRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 2)
	member := f.addMember(t, "Ada", "ada@example.com")

	first, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, 1, f.available(t, book.ID))
	assert.False(t, first.Returned)
	assert.Equal(t, book.ID, first.BookID)
	assert.Equal(t, member.ID, first.MemberID)

	_, err = f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, book.ID))

	_, err = f.loans.Borrow(ctx, member.ID, book.ID, 14)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, "No copies available", apperror.Message(err))
	assert.Equal(t, 0, f.available(t, book.ID))

	returned, err := f.loans.Return(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, returned.Returned)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestReturnIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Emma", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 7)
	require.NoError(t, err)

	once, err := f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	twice, err := f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestConcurrentReturnsReleaseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Emma", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.loans.Return(ctx, loan.ID)
			if assert.NoError(t, err) {
				assert.True(t, got.Returned)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestConcurrentBorrowsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Neuromancer", 3)
	member := f.addMember(t, "Ada", "ada@example.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperror.ErrInvalidState)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, 0, f.available(t, book.ID))

	report, err := f.loans.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "%+v", report.Discrepancies)
	assert.Equal(t, 3, report.OutstandingLoans)
}

func TestBorrowErrorPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	empty := f.addBook(t, "Emma", 0)
	member := f.addMember(t, "Ada", "ada@example.com")

	_, err := f.loans.Borrow(ctx, member.ID, "not-an-id", 14)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Equal(t, "Invalid ID format", apperror.Message(err))

	_, err = f.loans.Borrow(ctx, "not-an-id", missingID, 14)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Book not found", apperror.Message(err))

	_, err = f.loans.Borrow(ctx, missingID, empty.ID, 14)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	_, err = f.loans.Borrow(ctx, missingID, book.ID, 14)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Member not found", apperror.Message(err))

	_, err = f.loans.Borrow(ctx, "not-an-id", book.ID, 14)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestBorrowDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 5)
	member := f.addMember(t, "Ada", "ada@example.com")

	cases := map[int]string{
		14: "2025-03-15",
		1:  "2025-03-02",
		0:  "2025-03-02",
		-3: "2025-03-02",
	}
	for days, want := range cases {
		loan, err := f.loans.Borrow(ctx, member.ID, book.ID, days)
		require.NoError(t, err)
		assert.Equal(t, want, loan.DueDate.String(), "days=%d", days)
	}
}

func TestBorrowRejectsDueDateBeyondYear9999(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	// 2025-03-01 plus 2_913_000 days lands past 9999-12-31.
	for _, days := range []int{3_000_000, 2_913_000} {
		_, err := f.loans.Borrow(ctx, member.ID, book.ID, days)
		assert.ErrorIs(t, err, apperror.ErrValidation, "days=%d", days)
	}
	assert.Equal(t, 1, f.available(t, book.ID))

	loans, err := f.loans.ListLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	assert.Empty(t, loans)

	// The last representable due date still round-trips through the store.
	lastDay := int((time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC).Unix() - DateOf(testNow).Unix()) / 86400)
	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, lastDay)
	require.NoError(t, err)
	assert.Equal(t, "9999-12-31", loan.DueDate.String())

	active, err := f.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	report, err := f.loans.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestDateJSONRange(t *testing.T) {
	for _, y := range []int{-1, 10000} {
		_, err := Date{time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)}.MarshalJSON()
		assert.ErrorIs(t, err, ErrDateRange, "year %d", y)
	}

	for _, want := range []string{"0000-01-01", "2025-03-15", "9999-12-31"} {
		d, err := time.Parse(DateLayout, want)
		require.NoError(t, err)
		raw, err := Date{d}.MarshalJSON()
		require.NoError(t, err)

		var back Date
		require.NoError(t, back.UnmarshalJSON(raw))
		assert.Equal(t, want, back.String())
	}
}

func TestLoanDueDateWireFormat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)

	var doc docstore.Document
	require.NoError(t, f.store.FindOne(ctx, Collection, docstore.ByID(loan.ID), &doc))
	assert.Equal(t, "2025-03-15", doc["due_date"])
	assert.Equal(t, false, doc["returned"])
}

func TestReturnErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.loans.Return(ctx, "12")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.loans.Return(ctx, missingID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Loan not found", apperror.Message(err))
}

func TestDeletionGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	ok, err := f.loans.CanDeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)

	ok, err = f.loans.CanDeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.books.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, "Cannot delete book with active loans", apperror.Message(err))

	_, err = f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	require.NoError(t, f.books.DeleteBook(ctx, book.ID))
	_, err = f.books.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestActiveLoans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dune := f.addBook(t, "Dune", 2)
	emma := f.addBook(t, "Emma", 1)
	ada := f.addMember(t, "Ada", "ada@example.com")
	alan := f.addMember(t, "Alan", "alan@example.com")

	first, err := f.loans.Borrow(ctx, ada.ID, dune.ID, 14)
	require.NoError(t, err)
	second, err := f.loans.Borrow(ctx, alan.ID, emma.ID, 14)
	require.NoError(t, err)
	closed, err := f.loans.Borrow(ctx, alan.ID, dune.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, closed.ID)
	require.NoError(t, err)

	// An open loan whose book and member are gone.
	_, err = f.store.InsertOne(ctx, Collection, Loan{MemberID: missingID, BookID: missingID, DueDate: DateOf(testNow)})
	require.NoError(t, err)

	active, err := f.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)

	assert.Nil(t, active[0].Book)
	assert.Nil(t, active[0].Member)

	assert.Equal(t, second.ID, active[1].ID)
	assert.Equal(t, &BookSnapshot{Title: "Emma", Author: "Author of Emma"}, active[1].Book)
	assert.Equal(t, &MemberSnapshot{Name: "Alan", Email: "alan@example.com"}, active[1].Member)

	assert.Equal(t, first.ID, active[2].ID)
	assert.Equal(t, "Dune", active[2].Book.Title)
	assert.Equal(t, "ada@example.com", active[2].Member.Email)
}

func TestLoansByMemberEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dune := f.addBook(t, "Dune", 2)
	ada := f.addMember(t, "Ada", "ada@example.com")
	f.addMember(t, "Alan", "alan@example.com")

	older, err := f.loans.Borrow(ctx, ada.ID, dune.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, older.ID)
	require.NoError(t, err)
	newer, err := f.loans.Borrow(ctx, ada.ID, dune.ID, 14)
	require.NoError(t, err)

	views, err := f.loans.LoansByMemberEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, newer.ID, views[0].ID)
	assert.Equal(t, older.ID, views[1].ID)
	assert.True(t, views[1].Returned)
	assert.Equal(t, "Dune", views[0].Book.Title)

	none, err := f.loans.LoansByMemberEmail(ctx, "alan@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.loans.LoansByMemberEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Member not found", apperror.Message(err))
}

func TestListLoans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dune := f.addBook(t, "Dune", 3)
	ada := f.addMember(t, "Ada", "ada@example.com")
	alan := f.addMember(t, "Alan", "alan@example.com")

	a1, err := f.loans.Borrow(ctx, ada.ID, dune.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Borrow(ctx, ada.ID, dune.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Borrow(ctx, alan.ID, dune.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, a1.ID)
	require.NoError(t, err)

	active, inactive := true, false
	count := func(filter LoanFilter) int {
		loans, err := f.loans.ListLoans(ctx, filter)
		require.NoError(t, err)
		return len(loans)
	}

	assert.Equal(t, 3, count(LoanFilter{}))
	assert.Equal(t, 2, count(LoanFilter{MemberID: ada.ID}))
	assert.Equal(t, 2, count(LoanFilter{Active: &active}))
	assert.Equal(t, 1, count(LoanFilter{Active: &inactive}))
	assert.Equal(t, 1, count(LoanFilter{MemberID: ada.ID, Active: &inactive}))
}

func TestBorrowCompensatesFailedLoanInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 2)
	member := f.addMember(t, "Ada", "ada@example.com")

	f.store.set(Collection, false)
	_, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	assert.ErrorIs(t, err, errInjected)
	f.store.set("", false)

	assert.Equal(t, 2, f.available(t, book.ID))
	loans, err := f.loans.ListLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestFailedCompensationIsJournaledAsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 2)
	member := f.addMember(t, "Ada", "ada@example.com")

	f.store.set(Collection, true)
	_, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	assert.ErrorIs(t, err, errInjected)
	f.store.set("", false)

	drift, err := f.journal.ByType(ctx, EventInventoryDrift, 0)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, book.ID, drift[0].AggregateID)
	assert.Equal(t, "book", drift[0].AggregateType)

	report, err := f.loans.Audit(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, book.ID, report.Discrepancies[0].BookID)
	assert.Equal(t, 1, report.Discrepancies[0].AvailableCopies)
	assert.Equal(t, 0, report.Discrepancies[0].OutstandingLoans)
}

func TestFailedReleaseOnReturnIsJournaledAsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)

	f.store.set("", true)
	returned, err := f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	f.store.set("", false)

	assert.True(t, returned.Returned)
	assert.Equal(t, 0, f.available(t, book.ID))

	drift, err := f.journal.ByType(ctx, EventInventoryDrift, 0)
	require.NoError(t, err)
	assert.Len(t, drift, 1)
}

func TestAuditFlagsCounterOutsideBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)

	_, err := f.store.UpdateOne(ctx, catalog.Collection, docstore.ByID(book.ID),
		docstore.Update{Set: map[string]any{"available_copies": 3}})
	require.NoError(t, err)

	report, err := f.loans.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, "available_copies outside [0, total_copies]", report.Discrepancies[0].Reason)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	member := f.addMember(t, "Ada", "ada@example.com")

	loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	events, err := f.loans.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventLoanBorrowed, events[0].EventType)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, EventLoanReturned, events[1].EventType)
	assert.Equal(t, 2, events[1].Version)

	var borrowed LoanBorrowedEvent
	require.NoError(t, docstore.Unmarshal(events[0].EventData, &borrowed))
	assert.Equal(t, book.ID, borrowed.BookID)
	assert.Equal(t, "2025-03-15", borrowed.DueDate.String())

	_, err = f.loans.History(ctx, missingID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
