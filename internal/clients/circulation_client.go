package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"librarium/internal/circulation"
	"librarium/internal/journal"
)

type CirculationClient struct {
	api *api
}

func NewCirculationClient(baseURL string, opts ...Option) *CirculationClient {
	return &CirculationClient{api: newAPI(baseURL, opts...)}
}

// Borrow lends a copy; a nil days uses the server default.
func (c *CirculationClient) Borrow(ctx context.Context, memberID, bookID string, days *int) (*circulation.Loan, error) {
	req := circulation.BorrowRequest{MemberID: memberID, BookID: bookID, Days: days}
	var loan circulation.Loan
	if _, err := c.api.do(ctx, http.MethodPost, "/loans/borrow", nil, req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) Return(ctx context.Context, loanID string) (*circulation.Loan, error) {
	var loan circulation.Loan
	req := circulation.ReturnRequest{LoanID: loanID}
	if _, err := c.api.do(ctx, http.MethodPost, "/loans/return", nil, req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) ListLoans(ctx context.Context, filter circulation.LoanFilter) ([]*circulation.Loan, error) {
	q := url.Values{}
	if filter.MemberID != "" {
		q.Set("member_id", filter.MemberID)
	}
	if filter.Active != nil {
		q.Set("active", strconv.FormatBool(*filter.Active))
	}
	var loans []*circulation.Loan
	if _, err := c.api.do(ctx, http.MethodGet, "/loans", q, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) ActiveLoans(ctx context.Context) ([]*circulation.ActiveLoanView, error) {
	var loans []*circulation.ActiveLoanView
	if _, err := c.api.do(ctx, http.MethodGet, "/loans/active", nil, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) LoansByMemberEmail(ctx context.Context, email string) ([]*circulation.LoanView, error) {
	var loans []*circulation.LoanView
	q := url.Values{"email": {email}}
	if _, err := c.api.do(ctx, http.MethodGet, "/loans/by-email", q, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) Audit(ctx context.Context) (*circulation.AuditReport, error) {
	var report circulation.AuditReport
	if _, err := c.api.do(ctx, http.MethodGet, "/loans/audit", nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *CirculationClient) History(ctx context.Context, loanID string) ([]journal.Event, error) {
	var events []journal.Event
	if _, err := c.api.do(ctx, http.MethodGet, "/loans/"+url.PathEscape(loanID)+"/history", nil, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
