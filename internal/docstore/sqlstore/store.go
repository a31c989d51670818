// Package sqlstore implements docstore.Store on top of a SQL database. Each
// collection is a table of (id, doc) rows where doc holds the JSON document:
// JSONB on PostgreSQL, TEXT with the JSON1 functions on SQLite.
//
// Queries are built with goqu and executed through sqlx. Guarded updates and
// deletes run as a single statement of the form
//
//	UPDATE t SET doc = ... WHERE <filter> AND id = (SELECT id FROM t WHERE <filter> LIMIT 1)
//
// so the filter is re-checked against the row that is actually written.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/docstore"
)

// Config selects the driver and database the store connects to.
type Config struct {
	// Driver is one of "postgres" (lib/pq), "pgx" (pgx stdlib) or "sqlite3".
	Driver string
	DSN    string

	Collections  []string
	MaxOpenConns int
}

// Store is a SQL-backed document store.
type Store struct {
	db          *sqlx.DB
	dialect     dialect
	collections []string
	known       map[string]struct{}
	clock       *docstore.Clock
	tracer      trace.Tracer
}

var _ docstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithTracer replaces the tracer used for per-operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) error {
		if tracer == nil {
			return errors.New("nil tracer")
		}
		s.tracer = tracer
		return nil
	}
}

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(clock *docstore.Clock) Option {
	return func(s *Store) error {
		s.clock = clock
		return nil
	}
}

// SQLiteDSN builds a DSN for a SQLite database file with a busy timeout so
// concurrent writers wait instead of failing.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
}

// Open connects to the configured database and creates the collection tables.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	db, err := sqlx.Open(driverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	store, err := NewFromSQLX(ctx, db, cfg.Collections, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromSQLX wraps an existing connection pool. The driver name of db picks
// the SQL dialect; SQLite pools must be opened with SQLiteDriver.
func NewFromSQLX(ctx context.Context, db *sqlx.DB, collections []string, opts ...Option) (*Store, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:          db,
		dialect:     d,
		collections: slices.Sorted(slices.Values(collections)),
		known:       make(map[string]struct{}, len(collections)),
		clock:       docstore.NewClock(nil),
		tracer:      otel.Tracer("librarium/docstore"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, ok := s.dialect.(sqliteDialect); ok {
		// WAL lets readers proceed while a writer holds the lock.
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	for _, name := range s.collections {
		if err := docstore.ValidateField(name); err != nil {
			return fmt.Errorf("collection name: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable(name)); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		s.known[name] = struct{}{}
	}
	return nil
}

func (s *Store) start(ctx context.Context, operation, collection string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "docstore."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.dialect.system()),
			attribute.String("db.operation", operation),
			attribute.String("docstore.collection", collection),
		),
	)
}

func finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Store) checkCollection(collection string) error {
	if _, ok := s.known[collection]; !ok {
		return fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, collection)
	}
	return nil
}

func (s *Store) builder() goqu.DialectWrapper {
	return goqu.Dialect(s.dialect.name())
}

// InsertOne stores doc under a new or caller-supplied id.
func (s *Store) InsertOne(ctx context.Context, collection string, doc any) (id string, err error) {
	ctx, span := s.start(ctx, "insert", collection)
	defer func() { finish(span, err) }()

	if err := s.checkCollection(collection); err != nil {
		return "", err
	}

	prepared, id, err := docstore.PrepareInsert(doc, s.clock.Now())
	if err != nil {
		return "", err
	}
	raw, err := docstore.Marshal(prepared)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	span.SetAttributes(attribute.String("docstore.id", id))

	query, args, err := s.builder().
		Insert(collection).
		Rows(goqu.Record{colID: id, colDoc: s.dialect.docValue(raw)}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isDuplicate(err) {
			return "", fmt.Errorf("insert into %s: %w: %s", collection, docstore.ErrDuplicateID, id)
		}
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return id, nil
}

// FindOne decodes the first matching document into out.
func (s *Store) FindOne(ctx context.Context, collection string, filter docstore.Filter, out any) (err error) {
	ctx, span := s.start(ctx, "find_one", collection)
	defer func() { finish(span, err) }()

	if err := s.checkCollection(collection); err != nil {
		return err
	}

	query, args, err := s.selectQuery(collection, filter, docstore.FindOptions{Limit: 1})
	if err != nil {
		return err
	}

	var raw []byte
	if err := s.db.GetContext(ctx, &raw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.ErrNotFound
		}
		return fmt.Errorf("find in %s: %w", collection, err)
	}
	if err := docstore.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Find runs the query and returns a cursor over the result rows.
func (s *Store) Find(ctx context.Context, collection string, filter docstore.Filter, opts ...docstore.FindOption) (_ docstore.Cursor, err error) {
	ctx, span := s.start(ctx, "find", collection)
	defer func() { finish(span, err) }()

	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	query, args, err := s.selectQuery(collection, filter, docstore.ApplyFindOptions(opts...))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return &cursor{rows: rows}, nil
}

func (s *Store) selectQuery(collection string, filter docstore.Filter, options docstore.FindOptions) (string, []any, error) {
	ds := s.builder().From(collection).Select(goqu.C(colDoc)).Prepared(true)

	cond, err := where(s.dialect, filter)
	if err != nil {
		return "", nil, err
	}
	if cond != nil {
		ds = ds.Where(cond)
	}

	order := make([]exp.OrderedExpression, 0, len(options.Sort))
	for _, key := range options.Sort {
		if err := docstore.ValidateField(key.Field); err != nil {
			return "", nil, err
		}
		if key.Desc {
			order = append(order, s.dialect.sortKey(key.Field).Desc())
		} else {
			order = append(order, s.dialect.sortKey(key.Field).Asc())
		}
	}
	if len(order) > 0 {
		ds = ds.Order(order...)
	}
	if options.Limit > 0 {
		ds = ds.Limit(uint(options.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build select: %w", err)
	}
	return query, args, nil
}

// targetRow restricts a statement to the first row matching filter, with the
// filter repeated on the outer statement so a concurrent writer that changed
// the row in between makes the statement match nothing.
func (s *Store) targetRow(collection string, filter docstore.Filter) (exp.Expression, error) {
	cond, err := where(s.dialect, filter)
	if err != nil {
		return nil, err
	}

	sub := s.builder().From(collection).Select(goqu.C(colID)).Limit(1)
	if cond == nil {
		return goqu.C(colID).Eq(sub), nil
	}
	return goqu.And(cond, goqu.C(colID).Eq(sub.Where(cond))), nil
}

// UpdateOne applies update to the first matching document.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, update docstore.Update) (matched int64, err error) {
	ctx, span := s.start(ctx, "update", collection)
	defer func() {
		span.SetAttributes(attribute.Int64("docstore.matched", matched))
		finish(span, err)
	}()

	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}
	for field := range update.Inc {
		if err := docstore.ValidateField(field); err != nil {
			return 0, err
		}
	}

	set := make(map[string]any, len(update.Set)+1)
	for field, value := range update.Set {
		set[field] = value
	}
	set[docstore.FieldUpdatedAt] = docstore.FormatTime(s.clock.Now())
	rawSet, err := docstore.Marshal(set)
	if err != nil {
		return 0, fmt.Errorf("encode update: %w", err)
	}

	target, err := s.targetRow(collection, filter)
	if err != nil {
		return 0, err
	}

	query, args, err := s.builder().
		Update(collection).
		Set(goqu.Record{colDoc: s.dialect.applyUpdate(rawSet, update.Inc)}).
		Where(target).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	matched, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	return matched, nil
}

// DeleteOne removes the first matching document.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter docstore.Filter) (deleted int64, err error) {
	ctx, span := s.start(ctx, "delete", collection)
	defer func() { finish(span, err) }()

	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}

	target, err := s.targetRow(collection, filter)
	if err != nil {
		return 0, err
	}

	query, args, err := s.builder().Delete(collection).Where(target).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.RowsAffected()
}

// Collections lists the collections this store manages.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	return slices.Clone(s.collections), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for maintenance tasks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type cursor struct {
	rows *sqlx.Rows
	raw  []byte
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.raw = c.raw[:0]
	if err := c.rows.Scan(&c.raw); err != nil {
		c.err = fmt.Errorf("scan document: %w", err)
		return false
	}
	return true
}

func (c *cursor) Decode(out any) error {
	if len(c.raw) == 0 {
		return errors.New("decode: cursor is not positioned on a document")
	}
	if err := docstore.Unmarshal(c.raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	return c.rows.Close()
}

// uniqueViolation is the SQLSTATE PostgreSQL reports for a duplicate key.
const uniqueViolation = "23505"

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	var liteErr sqlite3.Error
	return errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
