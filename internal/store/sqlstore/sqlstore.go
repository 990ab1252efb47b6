// Package sqlstore is the durable store. One database/sql implementation
// serves both the embedded SQLite file and a networked PostgreSQL database;
// the Dialect only changes placeholders, locking and migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"stars/internal/log"
	"stars/internal/store"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	hub     *store.Hub
}

var _ store.Store = (*Store)(nil)

// SQLiteDSN builds the connection string for a SQLite file. BEGIN IMMEDIATE
// makes every write transaction take the write lock up front, so writers on
// the same file are serialised.
func SQLiteDSN(path string) string {
	return "file:" + filepath.Clean(path) +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
}

// OpenSQLite opens (creating if needed) a SQLite database file and applies
// migrations.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return Open(ctx, SQLite, SQLiteDSN(path))
}

// OpenPostgres connects to a PostgreSQL database and applies migrations.
func OpenPostgres(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("database url is required")
	}
	return Open(ctx, Postgres, url)
}

func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}
	if err := Migrate(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.ForComponent(log.ComponentStorage).InfoContext(ctx, "Durable store opened",
		"dialect", string(dialect), log.FieldOperation, log.OpStartup)
	return &Store{db: db, dialect: dialect, hub: store.NewHub()}, nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Update runs fn in one database transaction. Changes are published only
// after a successful commit.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	t := &tx{tx: sqlTx, dialect: s.dialect, writable: true}
	if err := fn(t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.hub.Publish(t.changes...)
	return nil
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == Postgres {
		opts = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&tx{tx: sqlTx, dialect: s.dialect})
}

// Subscribe only sees writes made through this Store value; other processes
// sharing the database are not observed.
func (s *Store) Subscribe(ctx context.Context, f store.Filter) (<-chan store.Change, error) {
	return s.hub.Subscribe(ctx, f)
}

func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type tx struct {
	tx       *sql.Tx
	dialect  Dialect
	writable bool
	changes  []store.Change
}

var errReadOnly = errors.New("sqlstore: write in read-only transaction")

func (t *tx) checkWrite() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) record(entity store.Entity, op store.Op, id, familyID, childID string) {
	t.changes = append(t.changes, store.Change{
		Entity:   entity,
		Op:       op,
		ID:       id,
		FamilyID: familyID,
		ChildID:  childID,
		At:       time.Now().UTC(),
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullMillis stores the zero time as NULL.
func toNullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// insertErr maps unique violations to store.ErrDuplicate.
func insertErr(entity, id string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", entity, id, store.ErrDuplicate)
	}
	return fmt.Errorf("insert %s %s: %w", entity, id, err)
}
