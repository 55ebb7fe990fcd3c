package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Table holds one row per event; (stream_id, version) is unique.
const Table = "events"

// Event represents one entry of a stream.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	EventID   uuid.UUID `json:"event_id" db:"event_id"`
	StreamID  string    `json:"stream_id" db:"stream_id"`
	EventType string    `json:"event_type" db:"event_type"`
	EventData []byte    `json:"event_data" db:"event_data"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventStore appends to and reads event streams kept in Table.
type EventStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates an event store. dialect is a goqu dialect name, "postgres" or
// "sqlite3".
func New(db *sqlx.DB, dialect string) *EventStore {
	return &EventStore{
		db:      db,
		dialect: goqu.Dialect(dialect),
		tracer:  otel.Tracer("shelfkeeper/eventstore"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AppendTx appends events inside the caller's transaction with optimistic
// concurrency control. The stream must currently be at expectedVersion; the
// appended events get consecutive versions after it. The stored events are
// returned with their ids, versions and timestamps filled in.
func (es *EventStore) AppendTx(ctx context.Context, tx *sqlx.Tx, streamID string, expectedVersion int, events []Event) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return nil, ErrInvalidVersion
	}

	currentVersion, err := es.currentVersion(ctx, tx, streamID)
	if err != nil {
		return nil, err
	}

	// Optimistic concurrency check
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return nil, ErrConcurrencyConflict
	}

	stored := make([]Event, 0, len(events))
	for i, event := range events {
		event.StreamID = streamID
		event.Version = expectedVersion + i + 1
		event.CreatedAt = es.now()
		if event.EventID == uuid.Nil {
			event.EventID = uuid.New()
		}

		query, args, err := es.dialect.Insert(Table).Rows(goqu.Record{
			"event_id":   event.EventID.String(),
			"stream_id":  event.StreamID,
			"event_type": event.EventType,
			"event_data": string(event.EventData),
			"version":    event.Version,
			"created_at": event.CreatedAt,
		}).Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if IsUniqueViolation(err) {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
		stored = append(stored, event)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return stored, nil
}

// LoadEvents retrieves the events of a stream in version order. A toVersion of
// zero means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, streamID string, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	ds := es.dialect.From(Table).
		Select("id", "event_id", "stream_id", "event_type", "event_data", "version", "created_at").
		Where(
			goqu.C("stream_id").Eq(streamID),
			goqu.C("version").Gte(fromVersion),
		)
	if toVersion > 0 {
		ds = ds.Where(goqu.C("version").Lte(toVersion))
	}

	query, args, err := ds.Order(goqu.C("version").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var events []Event
	if err := es.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version of a stream, zero when empty.
func (es *EventStore) GetCurrentVersion(ctx context.Context, streamID string) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
		),
	)
	defer span.End()

	version, err := es.currentVersion(ctx, es.db, streamID)
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

func (es *EventStore) currentVersion(ctx context.Context, q sqlx.QueryerContext, streamID string) (int, error) {
	query, args, err := es.dialect.From(Table).
		Select(goqu.COALESCE(goqu.MAX("version"), goqu.L("0"))).
		Where(goqu.C("stream_id").Eq(streamID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}

	var version int
	err = sqlx.GetContext(ctx, q, &version, query, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

// IsUniqueViolation reports whether err is a unique constraint violation from
// PostgreSQL or SQLite.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// IsSerializationFailure reports whether a PostgreSQL transaction lost a
// serializable conflict and may be retried.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
