package circulation

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"librarium/internal/apperror"
)

// A random sequence of borrows and returns keeps the copy counter equal to
// total minus open loans, and a book is deletable exactly when no loan is open.
func TestLendingInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()

		total := rapid.IntRange(0, 4).Draw(t, "total")
		book := f.addBook(t, "Dune", total)
		member := f.addMember(t, "Ada", "ada@example.com")

		var open, closed []string
		steps := rapid.IntRange(1, 25).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				loan, err := f.loans.Borrow(ctx, member.ID, book.ID, 14)
				if len(open) == total {
					if !errors.Is(err, apperror.ErrInvalidState) {
						t.Fatalf("borrow with no copies left: %v", err)
					}
					continue
				}
				if err != nil {
					t.Fatalf("borrow: %v", err)
				}
				open = append(open, loan.ID)

			case 1:
				if len(open) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(open)-1).Draw(t, "return")
				id := open[idx]
				if _, err := f.loans.Return(ctx, id); err != nil {
					t.Fatalf("return: %v", err)
				}
				open = append(open[:idx], open[idx+1:]...)
				closed = append(closed, id)

			case 2:
				if len(closed) == 0 {
					continue
				}
				id := rapid.SampledFrom(closed).Draw(t, "re-return")
				loan, err := f.loans.Return(ctx, id)
				if err != nil || !loan.Returned {
					t.Fatalf("repeated return: %v", err)
				}
			}

			if got := f.available(t, book.ID); got != total-len(open) {
				t.Fatalf("available %d, want %d", got, total-len(open))
			}
			ok, err := f.loans.CanDeleteBook(ctx, book.ID)
			if err != nil {
				t.Fatal(err)
			}
			if ok != (len(open) == 0) {
				t.Fatalf("CanDeleteBook=%v with %d open loans", ok, len(open))
			}
		}
	})
}
