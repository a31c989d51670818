package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"librarium/internal/catalog"
	"librarium/internal/clients"
	"librarium/internal/config"
	"librarium/internal/docstore"
	"librarium/internal/docstore/memory"
	"librarium/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newTestServer(t *testing.T, store docstore.Store, opts Options) *clients.Client {
	t.Helper()
	app := New(store, zap.NewNop(), opts)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return clients.New(srv.URL, clients.WithHTTPClient(srv.Client()))
}

func newMemoryServer(t *testing.T) *clients.Client {
	t.Helper()
	store, err := memory.New(Collections)
	require.NoError(t, err)
	return newTestServer(t, store, Options{Driver: config.DriverMemory})
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.StatusCode
}

func TestCheckoutFlow(t *testing.T) {
	c := newMemoryServer(t)
	ctx := context.Background()

	member, created, err := c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Test User", Email: "test@example.com"})
	require.NoError(t, err)
	assert.True(t, created)

	total := 5
	book, err := c.Catalog.AddBook(ctx, catalog.BookInput{
		Title:           "Pride and Prejudice",
		Author:          "Jane Austen",
		TotalCopies:     &total,
		AvailableCopies: &total,
	})
	require.NoError(t, err)

	loan, err := c.Circulation.Borrow(ctx, member.ID, book.ID, nil)
	require.NoError(t, err)
	assert.False(t, loan.Returned)

	got, err := c.Catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableCopies)

	active, err := c.Circulation.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].Member)
	assert.Equal(t, "test@example.com", active[0].Member.Email)

	returned, err := c.Circulation.Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, returned.Returned)

	got, err = c.Catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableCopies)

	history, err := c.Circulation.History(ctx, loan.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	report, err := c.Circulation.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestConcurrentBorrowPreventsDoubleBooking(t *testing.T) {
	c := newMemoryServer(t)
	ctx := context.Background()

	book, err := c.Catalog.AddBook(ctx, catalog.BookInput{Title: "The Great Gatsby", Author: "F. Scott Fitzgerald"})
	require.NoError(t, err)

	var members []*membership.Member
	for i := 0; i < 10; i++ {
		m, _, err := c.Membership.RegisterMember(ctx, membership.MemberInput{
			Name:  fmt.Sprintf("Member %d", i),
			Email: fmt.Sprintf("member%d@test.com", i),
		})
		require.NoError(t, err)
		members = append(members, m)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, m := range members {
		wg.Add(1)
		go func(memberID string) {
			defer wg.Done()
			_, err := c.Circulation.Borrow(ctx, memberID, book.ID, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			var apiErr *clients.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
				conflicts++
			}
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)

	got, err := c.Catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestErrorResponses(t *testing.T) {
	c := newMemoryServer(t)
	ctx := context.Background()

	_, err := c.Catalog.GetBook(ctx, "not-an-id")
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))
	assert.Contains(t, err.Error(), "Invalid ID format")

	_, err = c.Catalog.GetBook(ctx, "7f3c2a8e-0000-4000-8000-000000000001")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))
	assert.Contains(t, err.Error(), "Book not found")

	_, err = c.Catalog.AddBook(ctx, catalog.BookInput{Title: "No author"})
	assert.Equal(t, http.StatusUnprocessableEntity, apiStatus(t, err))

	book, err := c.Catalog.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	member, _, err := c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	_, err = c.Circulation.Borrow(ctx, member.ID, book.ID, nil)
	require.NoError(t, err)

	err = c.Catalog.DeleteBook(ctx, book.ID)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))
	assert.Contains(t, err.Error(), "Cannot delete book with active loans")
}

func TestRegisterMemberIdempotentOverHTTP(t *testing.T) {
	store, err := memory.New(Collections)
	require.NoError(t, err)
	c := newTestServer(t, store, Options{RegistrationLimiter: rate.NewLimiter(0, 2)})
	ctx := context.Background()

	first, created, err := c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Bob", Email: "bob@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, apiStatus(t, err))
}

func TestSystemEndpoints(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("DATABASE_NAME", "")
	c := newMemoryServer(t)
	ctx := context.Background()

	msg, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Library Management Backend is running", msg)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "✅ Running", status["backend"])
	assert.Equal(t, "✅ Connected & Working", status["database"])
	assert.Equal(t, "Connected", status["connection_status"])
	assert.Equal(t, "✅ Set", status["database_url"])
	assert.Equal(t, "❌ Not Set", status["database_name"])
	assert.ElementsMatch(t, []any{"books", "events", "loans", "members"}, status["collections"])
}

func TestSchemaEndpoint(t *testing.T) {
	store, err := memory.New(Collections)
	require.NoError(t, err)
	srv := httptest.NewServer(New(store, zap.NewNop(), Options{}).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "book")
	assert.Contains(t, body, "member")
	assert.Contains(t, body, "loan")
	assert.Equal(t, []any{"title", "author"}, body["book"]["required"])
}

func TestCORSPreflight(t *testing.T) {
	store, err := memory.New(Collections)
	require.NoError(t, err)
	srv := httptest.NewServer(New(store, zap.NewNop(), Options{}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/books", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://frontend.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "librarium.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	c := newTestServer(t, store, Options{Driver: config.DriverSQLite})

	book, err := c.Catalog.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	member, _, err := c.Membership.RegisterMember(ctx, membership.MemberInput{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	loan, err := c.Circulation.Borrow(ctx, member.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = c.Circulation.Borrow(ctx, member.ID, book.ID, nil)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))

	byEmail, err := c.Circulation.LoansByMemberEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, loan.ID, byEmail[0].ID)
	require.NotNil(t, byEmail[0].Book)
	assert.Equal(t, "Dune", byEmail[0].Book.Title)
	assert.Equal(t, "closed", store.State())
}
