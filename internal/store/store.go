// Package store provides the SQL persistence behind the query engine:
// the server tables of each index, the business continuity side table and
// the annotation store. SQLite and PostgreSQL are supported.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Error wraps a persistence failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// Options selects and configures the database backend.
type Options struct {
	Driver       string // "sqlite" or "postgres"
	Path         string
	DSN          string
	MaxOpenConns int
}

// Store wraps a SQL database holding the server tables.
type Store struct {
	db *sql.DB
	d  *dialect
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Options{Driver: "sqlite", Path: dbPath, MaxOpenConns: 4})
}

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var (
		d   *dialect
		dsn string
	)
	switch opts.Driver {
	case "sqlite":
		d = sqliteDialect
		dsn = sqliteDSN(opts.Path)
	case "postgres":
		d = postgresDialect
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Streaming holds one connection for its cursor while the annotation
	// joiner and enrich lookups use another.
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	for _, stmt := range schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return &Store{db: db, d: d}, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.d.name
}

// dialect captures the SQL differences between the backends.
type dialect struct {
	name     string
	driver   string
	idColumn string
	// placeholders rewrites "?" markers into the backend's syntax.
	placeholders func(string) string
	// regex renders a case-insensitive match of col against the bound
	// pattern, and converts the pattern to the bound argument.
	regex    func(col string) string
	regexArg func(pattern string) any
	// lower renders the Unicode case fold of col.
	lower func(col string) string
	// inSet renders membership of col in a bound list.
	inSet    func(col string) string
	inSetArg func(values []string) (any, error)
	columns  string
}

var sqliteDialect = &dialect{
	name:         "sqlite",
	driver:       "sqlite",
	idColumn:     "INTEGER PRIMARY KEY",
	placeholders: func(q string) string { return q },
	regex:        func(col string) string { return "regexp(?, " + col + ")" },
	regexArg:     func(p string) any { return "(?i)" + p },
	lower:        func(col string) string { return "fold(" + col + ")" },
	inSet:        func(col string) string { return col + " IN (SELECT value FROM json_each(?))" },
	inSetArg:     jsonArray,
	columns:      `SELECT name FROM pragma_table_info(?)`,
}

var postgresDialect = &dialect{
	name:         "postgres",
	driver:       "pgx",
	idColumn:     "BIGSERIAL PRIMARY KEY",
	placeholders: numberedPlaceholders,
	regex:        func(col string) string { return col + " ~* ?" },
	regexArg:     func(p string) any { return p },
	lower:        func(col string) string { return "LOWER(" + col + ")" },
	inSet:        func(col string) string { return col + " = ANY(?)" },
	inSetArg:     func(v []string) (any, error) { return v, nil },
	columns:      `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`,
}

// numberedPlaceholders turns "?" into "$1", "$2", ... outside quoted text.
func numberedPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
