package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq" // Postgres driver
	"github.com/mattn/go-sqlite3"
	"github.com/pliu/parley/internal/store"
	"modernc.org/sqlite" // pure Go SQLite driver, registered as "sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	DriverSQLite3  = "sqlite3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ store.Store = (*SQLStore)(nil)

type SQLStore struct {
	db         *sql.DB
	driverName string
	locks      *keyedLocks
	slowQuery  time.Duration

	clockMu sync.Mutex
	now     func() time.Time
	lastTS  time.Time
}

type Option func(*SQLStore)

// WithSlowQueryThreshold sets the duration above which a statement is logged
// at WARN.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(s *SQLStore) { s.slowQuery = d }
}

// WithClock replaces time.Now for message and membership timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

func New(driverName, dataSourceName string, opts ...Option) (*SQLStore, error) {
	switch driverName {
	case DriverSQLite3, DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driverName)
	}

	db, err := sql.Open(driverName, withDriverParams(driverName, dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(dataSourceName) {
		// Every pooled connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &SQLStore{
		db:         db,
		driverName: driverName,
		locks:      newKeyedLocks(),
		slowQuery:  50 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// withDriverParams appends the connection settings each SQLite driver needs:
// WAL, a busy timeout, foreign keys, and BEGIN IMMEDIATE so writers queue at
// the start of a transaction rather than failing on upgrade.
func withDriverParams(driverName, dsn string) string {
	var params string
	switch driverName {
	case DriverSQLite3:
		params = "_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
		if !isMemory(dsn) {
			params += "&_journal_mode=WAL"
		}
	case DriverSQLite:
		params = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_txlock=immediate"
		if !isMemory(dsn) {
			params += "&_pragma=journal_mode(WAL)"
		}
	default:
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	is_superuser BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	creator_id INTEGER NOT NULL REFERENCES users(id),
	is_group BOOLEAN NOT NULL DEFAULT FALSE,
	max_file_size INTEGER NOT NULL CHECK (max_file_size > 0),
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	can_send BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at TEXT NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL REFERENCES users(id),
	channel_id INTEGER REFERENCES channels(id),
	recipient_id INTEGER REFERENCES users(id),
	content TEXT NOT NULL DEFAULT '',
	file_url TEXT,
	file_name TEXT,
	file_size INTEGER,
	file_type TEXT,
	file_digest TEXT,
	client_token TEXT,
	created_at TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	CHECK ((channel_id IS NULL) <> (recipient_id IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(recipient_id, sender_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, recipient_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(channel_id, is_read, sender_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_token ON messages(sender_id, client_token) WHERE client_token IS NOT NULL;
`

func (s *SQLStore) createTables() error {
	query := schema
	if s.driverName == DriverPostgres {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "INTEGER", "BIGINT")
	}
	_, err := s.db.Exec(query)
	return err
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driverName != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTx runs fn in a transaction, rolling back on error or cancellation.
func (s *SQLStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(s.timed(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// stamp returns a timestamp no earlier than any previously issued one.
// Callers hold the write transaction, so stamps follow id order.
func (s *SQLStore) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = t
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

// isUniqueViolation reports whether err is a unique or primary key
// violation from any of the supported drivers.
func isUniqueViolation(err error) bool {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var modernErr *sqlite.Error
	if errors.As(err, &modernErr) {
		return modernErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			modernErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
