// Package memory provides an in-memory docstore.Store backed by go-memdb.
//
// Each collection is a memdb table indexed by document id. Stored documents
// are never mutated in place: updates write a fresh copy inside a write
// transaction, so readers always observe a committed snapshot and a guarded
// UpdateOne is atomic with respect to other writers.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"librarium/internal/docstore"
)

const idIndex = "id"

type record struct {
	ID  string
	Doc docstore.Document
}

// Store is a thread-safe in-memory document store.
type Store struct {
	db          *memdb.MemDB
	collections map[string]struct{}
	clock       *docstore.Clock
}

var _ docstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(clock *docstore.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates a store with one table per collection.
func New(collections []string, opts ...Option) (*Store, error) {
	tables := make(map[string]*memdb.TableSchema, len(collections))
	known := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		known[name] = struct{}{}
		tables[name] = &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		}
	}

	db, err := memdb.NewMemDB(&memdb.DBSchema{Tables: tables})
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}

	s := &Store{
		db:          db,
		collections: known,
		clock:       docstore.NewClock(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) checkCollection(collection string) error {
	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, collection)
	}
	return nil
}

// InsertOne stores doc under a new or caller-supplied id.
func (s *Store) InsertOne(ctx context.Context, collection string, doc any) (string, error) {
	if err := s.checkCollection(collection); err != nil {
		return "", err
	}

	prepared, id, err := docstore.PrepareInsert(doc, s.clock.Now())
	if err != nil {
		return "", err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(collection, idIndex, id)
	if err != nil {
		return "", fmt.Errorf("lookup id: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("insert into %s: %w: %s", collection, docstore.ErrDuplicateID, id)
	}
	if err := txn.Insert(collection, &record{ID: id, Doc: prepared}); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	txn.Commit()

	return id, nil
}

// FindOne decodes the first matching document into out.
func (s *Store) FindOne(ctx context.Context, collection string, filter docstore.Filter, out any) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	rec, err := first(txn, collection, filter)
	if err != nil {
		return err
	}
	if rec == nil {
		return docstore.ErrNotFound
	}
	return docstore.DecodeDocument(rec.Doc, out)
}

// Find snapshots the matching documents, sorts them and returns a cursor.
func (s *Store) Find(ctx context.Context, collection string, filter docstore.Filter, opts ...docstore.FindOption) (docstore.Cursor, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}
	options := docstore.ApplyFindOptions(opts...)

	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(collection, idIndex)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}

	var docs []docstore.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		if docstore.Matches(filter, rec.Doc) {
			docs = append(docs, rec.Doc)
		}
	}

	if len(options.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, key := range options.Sort {
				c := docstore.CompareValues(docs[i][key.Field], docs[j][key.Field])
				if c == 0 {
					continue
				}
				if key.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if options.Limit > 0 && len(docs) > options.Limit {
		docs = docs[:options.Limit]
	}

	return &cursor{docs: docs}, nil
}

// UpdateOne applies update to the first matching document in one write
// transaction.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, update docstore.Update) (int64, error) {
	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}

	set, err := docstore.EncodeDocument(orEmpty(update.Set))
	if err != nil {
		return 0, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	rec, err := first(txn, collection, filter)
	if err != nil || rec == nil {
		return 0, err
	}

	doc := make(docstore.Document, len(rec.Doc)+len(set)+1)
	for k, v := range rec.Doc {
		doc[k] = v
	}
	for k, v := range set {
		doc[k] = v
	}
	for field, delta := range update.Inc {
		current, _ := doc[field].(float64)
		doc[field] = current + float64(delta)
	}
	doc[docstore.FieldID] = rec.ID
	doc[docstore.FieldUpdatedAt] = docstore.FormatTime(s.clock.Now())

	if err := txn.Insert(collection, &record{ID: rec.ID, Doc: doc}); err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	txn.Commit()

	return 1, nil
}

// DeleteOne removes the first matching document.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter docstore.Filter) (int64, error) {
	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	rec, err := first(txn, collection, filter)
	if err != nil || rec == nil {
		return 0, err
	}
	if err := txn.Delete(collection, rec); err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	txn.Commit()

	return 1, nil
}

// Collections lists the configured collections in name order.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// first returns the first record matching filter, using the id index when
// the filter is a plain id lookup.
func first(txn *memdb.Txn, collection string, filter docstore.Filter) (*record, error) {
	if eq, ok := filter.(docstore.EqFilter); ok && eq.Field == docstore.FieldID {
		id, _ := eq.Value.(string)
		raw, err := txn.First(collection, idIndex, id)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", collection, err)
		}
		if raw == nil {
			return nil, nil
		}
		return raw.(*record), nil
	}

	it, err := txn.Get(collection, idIndex)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		if docstore.Matches(filter, rec.Doc) {
			return rec, nil
		}
	}
	return nil, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type cursor struct {
	docs    []docstore.Document
	current docstore.Document
	pos     int
	closed  bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.pos >= len(c.docs) || ctx.Err() != nil {
		c.current = nil
		return false
	}
	c.current = c.docs[c.pos]
	c.pos++
	return true
}

func (c *cursor) Decode(out any) error {
	if c.current == nil {
		return fmt.Errorf("decode: cursor is not positioned on a document")
	}
	return docstore.DecodeDocument(c.current, out)
}

func (c *cursor) Err() error { return nil }

func (c *cursor) Close(ctx context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}
