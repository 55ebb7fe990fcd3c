// internal/ledger/ledger.go
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/library"
	"shelfkeeper/pkg/eventstore"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	librariesTable = "libraries"
	maxTries       = 6
)

var ErrUnknownDriver = errors.New("unknown store driver")

var _ library.Store = (*Store)(nil)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store keeps library records and their journal in PostgreSQL or SQLite.
// Updates are serialized per address with a version check on the row.
type Store struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
	events  *eventstore.EventStore
	now     func() time.Time
}

type libraryRow struct {
	Record  []byte `db:"record"`
	Version int    `db:"version"`
}

// Open connects to the database, applies the schema and returns a ready store.
// driver is DriverPostgres or DriverSQLite; dsn is passed to the driver as is.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := applySchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:      db,
		driver:  driver,
		dialect: goqu.Dialect(driver),
		events:  eventstore.New(db, driver),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sqlx.DB, driver string) error {
	schema, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(schema))
	return err
}

func (s *Store) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	// Writers take a row lock on PostgreSQL, so read committed sees the
	// latest version once the lock is granted.
	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// Create inserts the record at version 1 together with its first event.
func (s *Store) Create(ctx context.Context, addr address.Address, lib *library.Library, ev library.Event) error {
	data, err := lib.MarshalBinary()
	if err != nil {
		return err
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	query, args, err := s.dialect.Insert(librariesTable).Rows(goqu.Record{
		"address":    addr.String(),
		"owner":      lib.Owner.String(),
		"name":       lib.Name,
		"record":     data,
		"version":    1,
		"created_at": now,
		"updated_at": now,
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if eventstore.IsUniqueViolation(err) {
			return library.ErrLibraryExists
		}
		return fmt.Errorf("insert library: %w", err)
	}

	if _, err := s.events.AppendTx(ctx, tx, addr.String(), 0, []eventstore.Event{toStored(ev)}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return library.ErrLibraryExists
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if eventstore.IsUniqueViolation(err) || eventstore.IsSerializationFailure(err) {
			return library.ErrLibraryExists
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load decodes the record stored at addr.
func (s *Store) Load(ctx context.Context, addr address.Address) (*library.Library, error) {
	query, args, err := s.selectRecord(addr).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row libraryRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, library.ErrLibraryNotFound
		}
		return nil, fmt.Errorf("load library: %w", err)
	}

	lib := &library.Library{}
	if err := lib.UnmarshalBinary(row.Record); err != nil {
		return nil, err
	}
	return lib, nil
}

// Update runs fn against a private copy of the record and commits the new
// record and fn's event in one transaction. Lost races are retried with
// exponential backoff; errors from fn are returned unchanged.
func (s *Store) Update(ctx context.Context, addr address.Address, fn library.UpdateFunc) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.update(ctx, addr, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, eventstore.ErrConcurrencyConflict) || eventstore.IsSerializationFailure(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	return err
}

func (s *Store) update(ctx context.Context, addr address.Address, fn library.UpdateFunc) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ds := s.selectRecord(addr)
	if s.driver == DriverPostgres {
		ds = ds.ForUpdate(exp.Wait)
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var row libraryRow
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return library.ErrLibraryNotFound
		}
		return fmt.Errorf("load library: %w", err)
	}

	lib := &library.Library{}
	if err := lib.UnmarshalBinary(row.Record); err != nil {
		return err
	}
	ev, err := fn(lib)
	if err != nil {
		return err
	}
	data, err := lib.MarshalBinary()
	if err != nil {
		return err
	}

	query, args, err = s.dialect.Update(librariesTable).
		Set(goqu.Record{
			"record":     data,
			"version":    row.Version + 1,
			"updated_at": s.now(),
		}).
		Where(
			goqu.C("address").Eq(addr.String()),
			goqu.C("version").Eq(row.Version),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update library: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update library: %w", err)
	} else if n != 1 {
		return eventstore.ErrConcurrencyConflict
	}

	if _, err := s.events.AppendTx(ctx, tx, addr.String(), row.Version, []eventstore.Event{toStored(ev)}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Events returns the journal of the library at addr, oldest first.
func (s *Store) Events(ctx context.Context, addr address.Address) ([]library.Event, error) {
	stored, err := s.events.LoadEvents(ctx, addr.String(), 0, 0)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, library.ErrLibraryNotFound
	}

	events := make([]library.Event, len(stored))
	for i, e := range stored {
		events[i] = library.Event{
			ID:        e.EventID,
			Type:      e.EventType,
			Data:      jsoniter.RawMessage(e.EventData),
			Version:   e.Version,
			CreatedAt: e.CreatedAt,
		}
	}
	return events, nil
}

func (s *Store) selectRecord(addr address.Address) *goqu.SelectDataset {
	return s.dialect.From(librariesTable).
		Select("record", "version").
		Where(goqu.C("address").Eq(addr.String())).
		Prepared(true)
}

func toStored(ev library.Event) eventstore.Event {
	return eventstore.Event{
		EventID:   ev.ID,
		EventType: ev.Type,
		EventData: ev.Data,
	}
}
