// Package docstoretest holds the behavioural suite every docstore.Store
// implementation runs in its own tests.
package docstoretest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/docstore"
)

// Collections are the collections a store under test must be created with.
var Collections = []string{"items", "events"}

type item struct {
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Count     int      `json:"count"`
	Active    bool     `json:"active"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Run exercises store against the docstore.Store contract. newStore must
// return an empty store holding Collections.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("insert and find by id", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id, err := store.InsertOne(ctx, "items", item{Title: "Dune", Author: "Frank Herbert", Count: 2, Active: true})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		var got item
		require.NoError(t, store.FindOne(ctx, "items", docstore.ByID(id), &got))
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "Dune", got.Title)
		assert.Equal(t, 2, got.Count)
		assert.True(t, got.Active)
		assert.NotEmpty(t, got.CreatedAt)
		assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	})

	t.Run("caller supplied id", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id, err := store.InsertOne(ctx, "items", item{ID: "fixed-id", Title: "Emma"})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", id)

		_, err = store.InsertOne(ctx, "items", item{ID: "fixed-id", Title: "Emma again"})
		assert.ErrorIs(t, err, docstore.ErrDuplicateID)
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		var got item
		err := store.FindOne(context.Background(), "items", docstore.ByID("missing"), &got)
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("unknown collection", func(t *testing.T) {
		store := newStore(t)
		_, err := store.InsertOne(context.Background(), "nope", item{Title: "x"})
		assert.ErrorIs(t, err, docstore.ErrUnknownCollection)
	})

	t.Run("find filters sorts and limits", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seed(t, store,
			item{Title: "Persuasion", Author: "Jane Austen", Count: 1, Active: true},
			item{Title: "Emma", Author: "Jane Austen", Count: 0, Active: false},
			item{Title: "Beloved", Author: "Toni Morrison", Count: 3, Active: true, Tags: []string{"Classic"}},
		)

		cur, err := store.Find(ctx, "items", docstore.Eq("active", true), docstore.SortAsc("title"))
		require.NoError(t, err)
		got, err := docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"Beloved", "Persuasion"}, titles(got))

		cur, err = store.Find(ctx, "items", nil, docstore.SortDesc("title"), docstore.Limit(2))
		require.NoError(t, err)
		got, err = docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"Persuasion", "Emma"}, titles(got))

		cur, err = store.Find(ctx, "items", docstore.Gt("count", 0), docstore.SortAsc("count"))
		require.NoError(t, err)
		got, err = docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"Persuasion", "Beloved"}, titles(got))

		cur, err = store.Find(ctx, "items", docstore.Eq("title", "Nothing"))
		require.NoError(t, err)
		got, err = docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("contains fold", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seed(t, store,
			item{Title: "Persuasion", Author: "Jane Austen"},
			item{Title: "Beloved", Author: "Toni Morrison", Tags: []string{"Classic"}},
		)

		cur, err := store.Find(ctx, "items", docstore.ContainsFold("AUSTEN", "title", "author", "tags"))
		require.NoError(t, err)
		got, err := docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"Persuasion"}, titles(got))

		cur, err = store.Find(ctx, "items", docstore.ContainsFold("classic", "title", "author", "tags"))
		require.NoError(t, err)
		got, err = docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"Beloved"}, titles(got))
	})

	t.Run("contains fold beyond ascii", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seed(t, store,
			item{Title: "Émile Zola", Author: "Zola"},
			item{Title: "Lab Notes", Tags: []string{"R&D", "ÜNÏCODE"}},
			item{Title: "Pairs", Tags: []string{"a", "b"}},
			item{Title: "Numbers", Count: 7},
		)

		find := func(q string) []string {
			cur, err := store.Find(ctx, "items", docstore.ContainsFold(q, "title", "tags", "count"))
			require.NoError(t, err)
			got, err := docstore.Collect[item](ctx, cur)
			require.NoError(t, err)
			return titles(got)
		}

		assert.Equal(t, []string{"Émile Zola"}, find("émile"))
		assert.Equal(t, []string{"Lab Notes"}, find("r&d"))
		assert.Equal(t, []string{"Lab Notes"}, find("ünïcode"))
		// Tags are matched element by element, never as encoded JSON text.
		assert.Empty(t, find(`","`))
		assert.Empty(t, find(`["a`))
		// Only text values take part.
		assert.Empty(t, find("7"))
	})

	t.Run("find is ordered by creation", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seed(t, store, item{Title: "first"}, item{Title: "second"}, item{Title: "third"})

		cur, err := store.Find(ctx, "items", nil, docstore.SortDesc(docstore.FieldCreatedAt))
		require.NoError(t, err)
		got, err := docstore.Collect[item](ctx, cur)
		require.NoError(t, err)
		assert.Equal(t, []string{"third", "second", "first"}, titles(got))
	})

	t.Run("update set and inc", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id, err := store.InsertOne(ctx, "items", item{Title: "Dune", Count: 1, Active: true})
		require.NoError(t, err)

		var before item
		require.NoError(t, store.FindOne(ctx, "items", docstore.ByID(id), &before))

		matched, err := store.UpdateOne(ctx, "items", docstore.ByID(id), docstore.Update{
			Set: map[string]any{"title": "Dune Messiah", "active": false},
			Inc: map[string]int{"count": 2},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, matched)

		var after item
		require.NoError(t, store.FindOne(ctx, "items", docstore.ByID(id), &after))
		assert.Equal(t, "Dune Messiah", after.Title)
		assert.Equal(t, 3, after.Count)
		assert.False(t, after.Active)
		assert.Equal(t, before.CreatedAt, after.CreatedAt)
		assert.Greater(t, after.UpdatedAt, before.UpdatedAt)
	})

	t.Run("guarded update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id, err := store.InsertOne(ctx, "items", item{Title: "Dune", Count: 1})
		require.NoError(t, err)

		guard := docstore.And(docstore.ByID(id), docstore.Gt("count", 0))
		dec := docstore.Update{Inc: map[string]int{"count": -1}}

		matched, err := store.UpdateOne(ctx, "items", guard, dec)
		require.NoError(t, err)
		assert.EqualValues(t, 1, matched)

		matched, err = store.UpdateOne(ctx, "items", guard, dec)
		require.NoError(t, err)
		assert.EqualValues(t, 0, matched)

		matched, err = store.UpdateOne(ctx, "items", docstore.ByID("missing"), dec)
		require.NoError(t, err)
		assert.EqualValues(t, 0, matched)

		var got item
		require.NoError(t, store.FindOne(ctx, "items", docstore.ByID(id), &got))
		assert.Equal(t, 0, got.Count)
	})

	t.Run("concurrent guarded decrements never go negative", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id, err := store.InsertOne(ctx, "items", item{Title: "Dune", Count: 5})
		require.NoError(t, err)

		guard := docstore.And(docstore.ByID(id), docstore.Gt("count", 0))
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int64
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				matched, err := store.UpdateOne(ctx, "items", guard, docstore.Update{Inc: map[string]int{"count": -1}})
				assert.NoError(t, err)
				mu.Lock()
				success += matched
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 5, success)
		var got item
		require.NoError(t, store.FindOne(ctx, "items", docstore.ByID(id), &got))
		assert.Equal(t, 0, got.Count)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id, err := store.InsertOne(ctx, "items", item{Title: "Dune"})
		require.NoError(t, err)

		deleted, err := store.DeleteOne(ctx, "items", docstore.ByID(id))
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)

		deleted, err = store.DeleteOne(ctx, "items", docstore.ByID(id))
		require.NoError(t, err)
		assert.EqualValues(t, 0, deleted)

		var got item
		assert.ErrorIs(t, store.FindOne(ctx, "items", docstore.ByID(id), &got), docstore.ErrNotFound)
	})

	t.Run("collections and ping", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		names, err := store.Collections(ctx)
		require.NoError(t, err)
		assert.Subset(t, names, Collections)
		assert.NoError(t, store.Ping(ctx))
	})
}

func seed(t *testing.T, store docstore.Store, items ...item) {
	t.Helper()
	for _, it := range items {
		_, err := store.InsertOne(context.Background(), "items", it)
		require.NoError(t, err)
	}
}

func titles(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}
