package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"librarium/internal/apperror"
	"librarium/internal/catalog"
	"librarium/internal/docstore"
	"librarium/internal/journal"
)

// service implements the Service interface.
type service struct {
	store   docstore.Store
	ledger  *catalog.Ledger
	members MemberDirectory
	journal *journal.Journal
	logger  *zap.Logger
	metrics *metrics
	now     func() time.Time
}

// Option configures a circulation service.
type Option func(*service)

// WithClock replaces the time source used for due dates.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithMeter records loan counters on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(s *service) {
		s.metrics = newMetrics(meter)
	}
}

// NewService creates a new circulation service instance.
func NewService(store docstore.Store, ledger *catalog.Ledger, members MemberDirectory, j *journal.Journal, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		store:   store,
		ledger:  ledger,
		members: members,
		journal: j,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(otel.Meter("librarium/circulation"))
	}
	return s
}

// Borrow orchestrates the borrow saga: validate, reserve a copy, create the
// loan, compensating the reservation when the loan cannot be stored.
func (s *service) Borrow(ctx context.Context, memberID, bookID string, days int) (loan *Loan, err error) {
	start := time.Now()
	defer func() { s.metrics.recordBorrow(ctx, start, err) }()

	// Step 1: Validate the book
	bookID, err = apperror.ParseID(bookID)
	if err != nil {
		return nil, err
	}
	book, err := s.ledger.Book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.AvailableCopies <= 0 {
		return nil, apperror.InvalidState("No copies available")
	}

	// Step 2: Validate the member
	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if days < 1 {
		days = 1
	}
	due := DateOf(s.now().UTC().AddDate(0, 0, days))
	if err := due.Check(); err != nil {
		return nil, apperror.Validation("days is too large: due date must fall before year 10000")
	}

	// Step 3: Reserve a copy; the store rejects it if the last copy went
	// in the meantime
	if err := s.ledger.Reserve(ctx, book.ID); err != nil {
		return nil, err
	}

	compensation := func(cause error) {
		s.logger.Warn("compensating failed borrow",
			zap.String("book_id", book.ID),
			zap.String("member_id", member.ID),
			zap.Error(cause))
		if err := s.ledger.Release(context.WithoutCancel(ctx), book.ID); err != nil {
			s.logger.Error("failed to compensate copy reservation",
				zap.String("book_id", book.ID),
				zap.Error(err))
			s.recordDrift(ctx, InventoryDriftEvent{
				BookID:    book.ID,
				Operation: "borrow",
				Delta:     -1,
				Reason:    err.Error(),
			})
		}
	}

	// Step 4: Create the loan record
	record := Loan{
		ID:       uuid.NewString(),
		MemberID: member.ID,
		BookID:   book.ID,
		DueDate:  due,
		Returned: false,
	}
	id, err := s.store.InsertOne(ctx, Collection, record)
	if err != nil {
		compensation(err)
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	loan, err = s.loan(ctx, id)
	if err != nil {
		return nil, err
	}

	s.record(ctx, loan.ID, EventLoanBorrowed, LoanBorrowedEvent{
		LoanID:   loan.ID,
		MemberID: loan.MemberID,
		BookID:   loan.BookID,
		DueDate:  loan.DueDate,
	})
	s.logger.Info("book borrowed",
		zap.String("loan_id", loan.ID),
		zap.String("book_id", loan.BookID),
		zap.String("member_id", loan.MemberID),
		zap.Stringer("due_date", loan.DueDate))
	return loan, nil
}

// Return closes a loan and puts its copy back on the shelf.
func (s *service) Return(ctx context.Context, loanID string) (*Loan, error) {
	loanID, err := apperror.ParseID(loanID)
	if err != nil {
		return nil, err
	}

	// Step 1: Find the loan
	loan, err := s.loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Returned {
		return loan, nil
	}

	// Step 2: Close it; only one concurrent caller can flip the flag
	matched, err := s.store.UpdateOne(ctx, Collection,
		docstore.And(docstore.ByID(loanID), docstore.Eq("returned", false)),
		docstore.Update{Set: map[string]any{"returned": true}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to close loan: %w", err)
	}
	if matched == 0 {
		return s.loan(ctx, loanID)
	}

	// Step 3: Release the copy
	if err := s.ledger.Release(ctx, loan.BookID); err != nil {
		s.logger.Error("failed to release copy for returned loan",
			zap.String("loan_id", loanID),
			zap.String("book_id", loan.BookID),
			zap.Error(err))
		s.recordDrift(ctx, InventoryDriftEvent{
			BookID:    loan.BookID,
			LoanID:    loanID,
			Operation: "return",
			Delta:     1,
			Reason:    err.Error(),
		})
	}

	s.metrics.returned.Add(ctx, 1)
	s.record(ctx, loanID, EventLoanReturned, LoanReturnedEvent{
		LoanID: loanID,
		BookID: loan.BookID,
	})
	s.logger.Info("book returned",
		zap.String("loan_id", loanID),
		zap.String("book_id", loan.BookID))
	return s.loan(ctx, loanID)
}

// ActiveLoans lists open loans, newest first, with book and member snapshots.
func (s *service) ActiveLoans(ctx context.Context) ([]*ActiveLoanView, error) {
	loans, err := s.find(ctx, docstore.Eq("returned", false))
	if err != nil {
		return nil, err
	}

	books := newBookSnapshots(s.ledger)
	members := make(map[string]*MemberSnapshot)
	views := make([]*ActiveLoanView, 0, len(loans))
	for _, loan := range loans {
		book, err := books.get(ctx, loan.BookID)
		if err != nil {
			return nil, err
		}

		member, ok := members[loan.MemberID]
		if !ok {
			m, err := s.members.GetMember(ctx, loan.MemberID)
			switch {
			case err == nil:
				member = &MemberSnapshot{Name: m.Name, Email: m.Email}
			case !errors.Is(err, apperror.ErrNotFound) && !errors.Is(err, apperror.ErrInvalidInput):
				return nil, err
			}
			members[loan.MemberID] = member
		}

		views = append(views, &ActiveLoanView{
			LoanView: LoanView{Loan: *loan, Book: book},
			Member:   member,
		})
	}
	return views, nil
}

// LoansByMemberEmail lists every loan of the member registered with email,
// newest first, with book snapshots.
func (s *service) LoansByMemberEmail(ctx context.Context, email string) ([]*LoanView, error) {
	member, err := s.members.GetMemberByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	loans, err := s.find(ctx, docstore.Eq("member_id", member.ID))
	if err != nil {
		return nil, err
	}

	books := newBookSnapshots(s.ledger)
	views := make([]*LoanView, 0, len(loans))
	for _, loan := range loans {
		book, err := books.get(ctx, loan.BookID)
		if err != nil {
			return nil, err
		}
		views = append(views, &LoanView{Loan: *loan, Book: book})
	}
	return views, nil
}

// ListLoans lists loans matching filter, newest first.
func (s *service) ListLoans(ctx context.Context, filter LoanFilter) ([]*Loan, error) {
	var conditions []docstore.Filter
	if filter.MemberID != "" {
		conditions = append(conditions, docstore.Eq("member_id", filter.MemberID))
	}
	if filter.Active != nil {
		conditions = append(conditions, docstore.Eq("returned", !*filter.Active))
	}
	return s.find(ctx, docstore.And(conditions...))
}

// CanDeleteBook reports whether no open loan references bookID.
func (s *service) CanDeleteBook(ctx context.Context, bookID string) (bool, error) {
	var loan Loan
	err := s.store.FindOne(ctx, Collection,
		docstore.And(docstore.Eq("book_id", bookID), docstore.Eq("returned", false)),
		&loan,
	)
	if errors.Is(err, docstore.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up active loans: %w", err)
	}
	return false, nil
}

// Audit compares every book's copy counters with its open loans.
func (s *service) Audit(ctx context.Context) (*AuditReport, error) {
	books, err := s.ledger.Books(ctx)
	if err != nil {
		return nil, err
	}
	open, err := s.find(ctx, docstore.Eq("returned", false))
	if err != nil {
		return nil, err
	}

	outstanding := make(map[string]int, len(books))
	for _, loan := range open {
		outstanding[loan.BookID]++
	}

	report := &AuditReport{
		BooksChecked:     len(books),
		OutstandingLoans: len(open),
		Discrepancies:    []Discrepancy{},
	}
	for _, book := range books {
		d := Discrepancy{
			BookID:           book.ID,
			Title:            book.Title,
			TotalCopies:      book.TotalCopies,
			AvailableCopies:  book.AvailableCopies,
			OutstandingLoans: outstanding[book.ID],
		}
		delete(outstanding, book.ID)

		switch {
		case book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies:
			d.Reason = "available_copies outside [0, total_copies]"
		case book.OnLoan() != d.OutstandingLoans:
			d.Reason = "copies on loan do not match open loans"
		default:
			continue
		}
		report.Discrepancies = append(report.Discrepancies, d)
	}
	for bookID, n := range outstanding {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			BookID:           bookID,
			OutstandingLoans: n,
			Reason:           "open loans reference a missing book",
		})
	}

	report.Consistent = len(report.Discrepancies) == 0
	if !report.Consistent {
		s.logger.Warn("inventory audit found discrepancies",
			zap.Int("count", len(report.Discrepancies)))
	}
	return report, nil
}

// History returns the journal of a loan in version order.
func (s *service) History(ctx context.Context, loanID string) ([]journal.Event, error) {
	loanID, err := apperror.ParseID(loanID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.journal.Load(ctx, loanID, 0, 0)
}

func (s *service) loan(ctx context.Context, id string) (*Loan, error) {
	var loan Loan
	if err := s.store.FindOne(ctx, Collection, docstore.ByID(id), &loan); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("Loan")
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &loan, nil
}

// find drains the cursor before returning so callers may issue further
// store calls.
func (s *service) find(ctx context.Context, filter docstore.Filter) ([]*Loan, error) {
	cur, err := s.store.Find(ctx, Collection, filter, docstore.SortDesc(docstore.FieldCreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	loans, err := docstore.Collect[*Loan](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	return loans, nil
}

// record journals an event for a loan. The loan itself is already stored, so
// a journal failure is logged rather than returned.
func (s *service) record(ctx context.Context, loanID, eventType string, data any) {
	if err := s.journal.Record(ctx, loanID, aggregateLoan, eventType, data); err != nil {
		s.logger.Error("failed to journal loan event",
			zap.String("loan_id", loanID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *service) recordDrift(ctx context.Context, event InventoryDriftEvent) {
	ctx = context.WithoutCancel(ctx)
	s.metrics.drift.Add(ctx, 1)
	if err := s.journal.Record(ctx, event.BookID, aggregateBook, EventInventoryDrift, event); err != nil {
		s.logger.Error("failed to journal inventory drift",
			zap.String("book_id", event.BookID),
			zap.Error(err))
	}
}

// bookSnapshots memoizes book lookups for one listing.
type bookSnapshots struct {
	ledger *catalog.Ledger
	seen   map[string]*BookSnapshot
}

func newBookSnapshots(ledger *catalog.Ledger) *bookSnapshots {
	return &bookSnapshots{ledger: ledger, seen: make(map[string]*BookSnapshot)}
}

func (b *bookSnapshots) get(ctx context.Context, id string) (*BookSnapshot, error) {
	if snap, ok := b.seen[id]; ok {
		return snap, nil
	}
	book, err := b.ledger.Book(ctx, id)
	var snap *BookSnapshot
	switch {
	case err == nil:
		snap = &BookSnapshot{Title: book.Title, Author: book.Author}
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}
	b.seen[id] = snap
	return snap, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperror.ErrInvalidState):
		return "unavailable"
	case errors.Is(err, apperror.ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}
