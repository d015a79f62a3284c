package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect abstracts the SQL that differs between backends.
type Dialect interface {
	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	// SQLite: "?" (ignoring index), PostgreSQL: "$1", "$2", etc.
	Placeholder(index int) string

	// CreateTableSQL returns the DDL for the agenda_events table.
	CreateTableSQL() string

	// CreateIndexSQL returns DDL to create an index on a table column.
	CreateIndexSQL(indexName, tableName, column string) string
}

// SQLiteDialect targets modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string           { return "sqlite" }
func (d *SQLiteDialect) Placeholder(index int) string { return "?" }

func (d *SQLiteDialect) CreateTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS agenda_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL, instance_id INTEGER NOT NULL,
		color TEXT, title TEXT, location TEXT,
		start_day INTEGER NOT NULL, end_day INTEGER NOT NULL,
		start_minute INTEGER NOT NULL, end_minute INTEGER NOT NULL,
		all_day INTEGER NOT NULL DEFAULT 0, self_status INTEGER NOT NULL DEFAULT 0,
		begin_unix INTEGER, end_unix INTEGER
	)`
}

func (d *SQLiteDialect) CreateIndexSQL(indexName, tableName, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, column)
}

// PostgresDialect targets the pgx stdlib driver.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string           { return "pgx" }
func (d *PostgresDialect) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

func (d *PostgresDialect) CreateTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS agenda_events (
		id BIGSERIAL PRIMARY KEY,
		event_id BIGINT NOT NULL, instance_id BIGINT NOT NULL,
		color TEXT, title TEXT, location TEXT,
		start_day INT NOT NULL, end_day INT NOT NULL,
		start_minute INT NOT NULL, end_minute INT NOT NULL,
		all_day INT NOT NULL DEFAULT 0, self_status INT NOT NULL DEFAULT 0,
		begin_unix BIGINT, end_unix BIGINT
	)`
}

func (d *PostgresDialect) CreateIndexSQL(indexName, tableName, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, column)
}

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return &SQLiteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// placeholders renders n consecutive placeholders starting at from.
func placeholders(d Dialect, from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}
