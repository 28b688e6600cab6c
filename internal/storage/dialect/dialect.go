// Package dialect describes the SQL engines the request store can run on.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect is the engine-specific part of the request store's SQL.
type Dialect interface {
	// Name returns the dialect name ("sqlite" or "postgres").
	Name() string

	// DriverName returns the database/sql driver to open.
	DriverName() string

	// Rebind rewrites ? placeholders into the engine's bind style.
	Rebind(query string) string

	// AutoIncrementClause is the column definition of the insertion-order key.
	AutoIncrementClause() string

	// TimestampType is the column type for created/completed/sent times.
	TimestampType() string

	// TextType is the column type for JSON documents and messages.
	TextType() string

	// PragmaStatements run once after the pool is opened.
	PragmaStatements() []string

	// MaxOpenConns bounds the connection pool; 0 leaves it unbounded.
	MaxOpenConns() int
}

// DialectType names a supported engine.
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

type engine struct {
	name          DialectType
	driver        string
	bindType      int
	autoIncrement string
	timestamp     string
	pragmas       []string
	maxOpenConns  int
}

// SQLite serialises all access through one connection: pragmas and
// :memory: databases are per connection, and a single writer keeps status
// updates for a record ordered.
var sqlite = &engine{
	name:          SQLite,
	driver:        "sqlite",
	bindType:      sqlx.QUESTION,
	autoIncrement: "INTEGER PRIMARY KEY AUTOINCREMENT",
	timestamp:     "TIMESTAMP",
	pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	},
	maxOpenConns: 1,
}

var postgres = &engine{
	name:          Postgres,
	driver:        "pgx",
	bindType:      sqlx.DOLLAR,
	autoIncrement: "BIGSERIAL PRIMARY KEY",
	timestamp:     "TIMESTAMPTZ",
}

// New returns the dialect for t.
func New(t DialectType) (Dialect, error) {
	switch t {
	case SQLite:
		return sqlite, nil
	case Postgres:
		return postgres, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", t)
	}
}

// FromDriverName maps a configured driver name, including common aliases,
// to its dialect.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return sqlite, nil
	case "postgres", "postgresql", "pgx":
		return postgres, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

func (e *engine) Name() string                { return string(e.name) }
func (e *engine) DriverName() string          { return e.driver }
func (e *engine) Rebind(query string) string  { return sqlx.Rebind(e.bindType, query) }
func (e *engine) AutoIncrementClause() string { return e.autoIncrement }
func (e *engine) TimestampType() string       { return e.timestamp }
func (e *engine) TextType() string            { return "TEXT" }
func (e *engine) MaxOpenConns() int           { return e.maxOpenConns }

func (e *engine) PragmaStatements() []string {
	return append([]string(nil), e.pragmas...)
}
