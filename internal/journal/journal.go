// Package journal is an append-only, versioned event log kept in the document
// store. Every aggregate (a loan, a book) has its own stream whose versions
// start at 1 and increase without gaps; appends use optimistic concurrency.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/docstore"
)

// Collection holds the journal events.
const Collection = "events"

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one entry in an aggregate's stream.
type Event struct {
	ID            string          `json:"id,omitempty"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// Journal appends and loads event streams.
type Journal struct {
	store    docstore.Store
	tracer   trace.Tracer
	maxTries uint
}

// New creates a journal over store, which must hold Collection.
func New(store docstore.Store) *Journal {
	return &Journal{
		store:    store,
		tracer:   otel.Tracer("librarium/journal"),
		maxTries: 5,
	}
}

func eventID(aggregateID string, version int) string {
	return fmt.Sprintf("%s:%08d", aggregateID, version)
}

// Append adds events to the stream of aggregateID, which must currently be at
// expectedVersion. The version check is backed by the event id, so two
// writers racing for the same version cannot both succeed.
func (j *Journal) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	currentVersion, err := j.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := expectedVersion + i + 1
		event.ID = eventID(aggregateID, version)
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = version
		event.CreatedAt = ""
		if len(event.EventData) == 0 {
			event.EventData = json.RawMessage("{}")
		}

		if _, err := j.store.InsertOne(ctx, Collection, event); err != nil {
			if errors.Is(err, docstore.ErrDuplicateID) {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Record appends a single event of eventType carrying data, retrying with
// backoff when another writer advances the stream first.
func (j *Journal) Record(ctx context.Context, aggregateID, aggregateType, eventType string, data any) error {
	payload, err := docstore.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	metadata := map[string]any{}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		version, err := j.CurrentVersion(ctx, aggregateID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err = j.Append(ctx, aggregateID, aggregateType, version, []Event{{
			EventType: eventType,
			EventData: payload,
			Metadata:  metadata,
		}})
		if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(j.maxTries))
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", eventType, aggregateID, err)
	}
	return nil
}

// Load returns the events of aggregateID with fromVersion <= version <=
// toVersion, in version order. A toVersion of 0 means no upper bound.
func (j *Journal) Load(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	cur, err := j.store.Find(ctx, Collection,
		docstore.And(
			docstore.Eq("aggregate_id", aggregateID),
			docstore.Gt("version", float64(fromVersion-1)),
		),
		docstore.SortAsc("version"),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	all, err := docstore.Collect[Event](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	events := all[:0]
	for _, event := range all {
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of aggregateID, 0 for an empty
// stream.
func (j *Journal) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	ctx, span := j.tracer.Start(ctx, "journal.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	cur, err := j.store.Find(ctx, Collection,
		docstore.Eq("aggregate_id", aggregateID),
		docstore.SortDesc("version"),
		docstore.Limit(1),
	)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	latest, err := docstore.Collect[Event](ctx, cur)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}

	version := 0
	if len(latest) > 0 {
		version = latest[0].Version
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// ByType returns up to limit events of eventType, newest first. A limit of 0
// means no limit.
func (j *Journal) ByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.by_type",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	cur, err := j.store.Find(ctx, Collection,
		docstore.Eq("event_type", eventType),
		docstore.SortDesc(docstore.FieldCreatedAt),
		docstore.Limit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events, err := docstore.Collect[Event](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
