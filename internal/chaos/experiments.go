package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"librarium/internal/apperror"
	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/docstore"
	"librarium/internal/membership"
)

// Target is the system under test. Faults must sit between the services
// and their store; Breaker is optional.
type Target struct {
	Catalog catalog.Service
	Members membership.Service
	Loans   circulation.Service
	Faults  *FaultyStore
	Breaker interface{ State() string }
}

// Settings tunes the predefined experiments.
type Settings struct {
	Duration    time.Duration
	Interval    time.Duration
	Concurrency int
	Latency     time.Duration
	// ProbeTimeout bounds one lending round trip under injected latency.
	ProbeTimeout time.Duration
}

// DefaultSettings is what cmd/chaos runs with.
func DefaultSettings() Settings {
	return Settings{
		Duration:     30 * time.Second,
		Interval:     time.Second,
		Concurrency:  100,
		Latency:      250 * time.Millisecond,
		ProbeTimeout: 10 * time.Second,
	}
}

// Experiments returns the predefined experiments. The breaker experiment is
// last because it leaves the breaker open until its timeout elapses.
func Experiments(t Target, s Settings) []Experiment {
	exps := []Experiment{
		ConcurrentBorrowRace(t, s),
		InventoryWriteFailure(t, s),
		StoreLatency(t, s),
	}
	if t.Breaker != nil {
		exps = append(exps, BreakerOpen(t, s))
	}
	return exps
}

// seed lazily creates one book and a set of members for an experiment.
type seed struct {
	target  Target
	title   string
	copies  int
	members int

	mu        sync.Mutex
	bookID    string
	memberIDs []string
}

func newSeed(t Target, title string, copies, members int) *seed {
	return &seed{target: t, title: title, copies: copies, members: members}
}

func (s *seed) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bookID != "" {
		return nil
	}

	book, err := s.target.Catalog.AddBook(ctx, catalog.BookInput{
		Title:           s.title,
		Author:          "Chaos Monkey",
		TotalCopies:     &s.copies,
		AvailableCopies: &s.copies,
		Tags:            []string{"chaos"},
	})
	if err != nil {
		return fmt.Errorf("seed book: %w", err)
	}

	run := uuid.NewString()[:8]
	ids := make([]string, 0, s.members)
	for i := 0; i < s.members; i++ {
		m, _, err := s.target.Members.RegisterMember(ctx, membership.MemberInput{
			Name:  fmt.Sprintf("Chaos Member %d", i),
			Email: fmt.Sprintf("chaos-%s-%d@librarium.test", run, i),
		})
		if err != nil {
			return fmt.Errorf("seed member: %w", err)
		}
		ids = append(ids, m.ID)
	}

	s.bookID = book.ID
	s.memberIDs = ids
	return nil
}

func (s *seed) book() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookID
}

func (s *seed) memberList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberIDs
}

// copiesOut is total minus available for the seeded book.
func (s *seed) copiesOut(ctx context.Context) (float64, error) {
	id := s.book()
	if id == "" {
		return 0, nil
	}
	book, err := s.target.Catalog.GetBook(ctx, id)
	if err != nil {
		return 0, err
	}
	return float64(book.TotalCopies - book.AvailableCopies), nil
}

func seedAction(s *seed) Action {
	return Action{Type: "seed", Target: "catalog", Execute: s.ensure}
}

func discrepancies(t Target) Metric {
	return Metric{
		Name: "inventory_discrepancies",
		Query: func(ctx context.Context) (float64, error) {
			report, err := t.Loans.Audit(ctx)
			if err != nil {
				return 0, err
			}
			return float64(len(report.Discrepancies)), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func zeroAssertion(metric, message string) Assertion {
	return Assertion{Metric: metric, Condition: func(v float64) bool { return v == 0 }, Message: message}
}

// ConcurrentBorrowRace borrows one book with more concurrent members than it
// has copies.
func ConcurrentBorrowRace(t Target, s Settings) Experiment {
	const copies = 3
	fx := newSeed(t, "Race Condition Handbook", copies, s.Concurrency)

	var (
		granted atomic.Int64
		mu      sync.Mutex
		loanIDs []string
	)

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "No more loans are granted than copies exist when members borrow the same book at once",
		SteadyState: []Metric{
			discrepancies(t),
			{
				Name: "overbooked_loans",
				Query: func(context.Context) (float64, error) {
					return float64(max(0, granted.Load()-copies)), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			seedAction(fx),
			{
				Type:   "concurrent-requests",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					bookID := fx.book()
					g, ctx := errgroup.WithContext(ctx)
					g.SetLimit(max(1, s.Concurrency))
					for _, memberID := range fx.memberList() {
						g.Go(func() error {
							loan, err := t.Loans.Borrow(ctx, memberID, bookID, circulation.DefaultLoanDays)
							switch {
							case err == nil:
								granted.Add(1)
								mu.Lock()
								loanIDs = append(loanIDs, loan.ID)
								mu.Unlock()
								return nil
							case errors.Is(err, apperror.ErrInvalidState):
								return nil
							default:
								return err
							}
						})
					}
					return g.Wait()
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return-loans",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					ids := loanIDs
					loanIDs = nil
					mu.Unlock()

					var errs []error
					for _, id := range ids {
						if _, err := t.Loans.Return(ctx, id); err != nil {
							errs = append(errs, err)
						}
					}
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			zeroAssertion("inventory_discrepancies", "Copy counters must match open loans"),
			zeroAssertion("overbooked_loans", "Loans granted must not exceed copies"),
		},
		Duration: s.Duration,
		Interval: s.Interval,
	}
}

// InventoryWriteFailure makes every loan insert fail after a copy was
// reserved, so each borrow must put its copy back.
func InventoryWriteFailure(t Target, s Settings) Experiment {
	fx := newSeed(t, "Compensating Transactions", 2, 4)

	return Experiment{
		Name:       "loan-write-failure",
		Hypothesis: "A borrow whose loan cannot be written returns the reserved copy to the shelf",
		SteadyState: []Metric{
			discrepancies(t),
			{
				Name:      "copies_leaked",
				Query:     fx.copiesOut,
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			seedAction(fx),
			{
				Type:   "fail-writes",
				Target: circulation.Collection,
				Execute: func(context.Context) error {
					t.Faults.Fail(OpInsert, circulation.Collection)
					return nil
				},
			},
			{
				Type:   "borrow",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					bookID := fx.book()
					for _, memberID := range fx.memberList() {
						if _, err := t.Loans.Borrow(ctx, memberID, bookID, circulation.DefaultLoanDays); err == nil {
							return errors.New("borrow succeeded while loan writes were failing")
						}
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-writes",
				Target: circulation.Collection,
				Execute: func(context.Context) error {
					t.Faults.Reset()
					return nil
				},
			},
		},
		Validation: []Assertion{
			zeroAssertion("inventory_discrepancies", "Copy counters must match open loans"),
			zeroAssertion("copies_leaked", "Failed borrows must not keep a copy off the shelf"),
		},
		Duration: s.Duration,
		Interval: s.Interval,
	}
}

// StoreLatency slows every store call and keeps lending.
func StoreLatency(t Target, s Settings) Experiment {
	fx := newSeed(t, "Latency Numbers Every Programmer Should Know", 1, 1)

	roundTrip := func(ctx context.Context) (float64, error) {
		if err := fx.ensure(ctx); err != nil {
			return 0, err
		}
		ctx, cancel := context.WithTimeout(ctx, s.ProbeTimeout)
		defer cancel()

		loan, err := t.Loans.Borrow(ctx, fx.memberList()[0], fx.book(), 1)
		if err != nil {
			return 0, nil
		}
		if _, err := t.Loans.Return(ctx, loan.ID); err != nil {
			return 0, nil
		}
		return 100, nil
	}

	return Experiment{
		Name:       "store-latency-injection",
		Hypothesis: fmt.Sprintf("Lending keeps working when every store call takes %s longer", s.Latency),
		SteadyState: []Metric{
			discrepancies(t),
			{
				Name:      "round_trip_success",
				Query:     roundTrip,
				Threshold: Threshold{Operator: "==", Value: 100},
			},
		},
		Method: []Action{
			{
				Type:   "inject-latency",
				Target: "docstore",
				Execute: func(context.Context) error {
					t.Faults.SetLatency(s.Latency)
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "remove-latency",
				Target: "docstore",
				Execute: func(context.Context) error {
					t.Faults.Reset()
					return nil
				},
			},
		},
		Validation: []Assertion{
			zeroAssertion("inventory_discrepancies", "Copy counters must match open loans"),
			{
				Metric:    "round_trip_success",
				Condition: func(v float64) bool { return v == 100 },
				Message:   "Borrow and return must succeed under latency",
			},
		},
		Duration: s.Duration,
		Interval: s.Interval,
	}
}

// BreakerOpen fails every book read until the circuit breaker opens and
// checks that later calls are rejected without reaching the store.
func BreakerOpen(t Target, s Settings) Experiment {
	fx := newSeed(t, "Release It!", 1, 0)
	var rejected atomic.Int64

	return Experiment{
		Name:       "store-breaker-open",
		Hypothesis: "Repeated store failures open the breaker and later calls fail fast as unavailable",
		SteadyState: []Metric{
			{
				Name: "breaker_open",
				Query: func(context.Context) (float64, error) {
					if t.Breaker.State() == "open" {
						return 1, nil
					}
					return 0, nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "fast_failures",
				Query: func(context.Context) (float64, error) {
					return float64(rejected.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			seedAction(fx),
			{
				Type:   "fail-reads",
				Target: catalog.Collection,
				Execute: func(context.Context) error {
					t.Faults.Fail(OpFind, catalog.Collection)
					return nil
				},
			},
			{
				Type:   "read-load",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					for i := 0; i < max(1, s.Concurrency); i++ {
						_, err := t.Catalog.GetBook(ctx, fx.book())
						if errors.Is(err, docstore.ErrUnavailable) {
							rejected.Add(1)
						}
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-reads",
				Target: catalog.Collection,
				Execute: func(context.Context) error {
					t.Faults.Reset()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "breaker_open",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Breaker must open under repeated failures",
			},
			{
				Metric:    "fast_failures",
				Condition: func(v float64) bool { return v > 0 },
				Message:   "Calls must be rejected while the breaker is open",
			},
		},
		Duration: s.Duration,
		Interval: s.Interval,
	}
}
