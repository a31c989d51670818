package circulation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"librarium/internal/catalog"
	"librarium/internal/docstore"
	"librarium/internal/docstore/memory"
	"librarium/internal/journal"
	"librarium/internal/membership"
)

var testNow = time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)

// faultyStore fails selected writes on demand.
type faultyStore struct {
	docstore.Store

	mu            sync.Mutex
	failInsertsTo string
	failReleases  bool
}

var errInjected = errors.New("injected store failure")

func (f *faultyStore) InsertOne(ctx context.Context, collection string, doc any) (string, error) {
	f.mu.Lock()
	fail := collection == f.failInsertsTo
	f.mu.Unlock()
	if fail {
		return "", errInjected
	}
	return f.Store.InsertOne(ctx, collection, doc)
}

func (f *faultyStore) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, update docstore.Update) (int64, error) {
	f.mu.Lock()
	fail := f.failReleases && collection == catalog.Collection && update.Inc["available_copies"] > 0
	f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return f.Store.UpdateOne(ctx, collection, filter, update)
}

func (f *faultyStore) set(failInsertsTo string, failReleases bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInsertsTo = failInsertsTo
	f.failReleases = failReleases
}

type fixture struct {
	store   *faultyStore
	books   catalog.Service
	ledger  *catalog.Ledger
	members membership.Service
	journal *journal.Journal
	loans   Service
}

func newFixture(t require.TestingT) *fixture {
	base, err := memory.New([]string{catalog.Collection, membership.Collection, Collection, journal.Collection})
	require.NoError(t, err)

	store := &faultyStore{Store: base}
	logger := zap.NewNop()
	ledger := catalog.NewLedger(store, logger)
	members := membership.NewService(store, nil, logger)
	j := journal.New(store)
	loans := NewService(store, ledger, members, j, logger, WithClock(func() time.Time { return testNow }))

	return &fixture{
		store:   store,
		books:   catalog.NewService(store, ledger, loans, logger),
		ledger:  ledger,
		members: members,
		journal: j,
		loans:   loans,
	}
}

func (f *fixture) addBook(t require.TestingT, title string, copies int) *catalog.Book {
	book, err := f.books.AddBook(context.Background(), catalog.BookInput{
		Title:           title,
		Author:          "Author of " + title,
		TotalCopies:     &copies,
		AvailableCopies: &copies,
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) addMember(t require.TestingT, name, email string) *membership.Member {
	member, _, err := f.members.RegisterMember(context.Background(), membership.MemberInput{Name: name, Email: email})
	require.NoError(t, err)
	return member
}

func (f *fixture) available(t require.TestingT, bookID string) int {
	book, err := f.ledger.Book(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}
