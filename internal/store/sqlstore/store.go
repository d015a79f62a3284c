// Package sqlstore is a RecordStore backed by a SQL table of event
// instances, on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/store"
)

const table = "agenda_events"

// indexFields are indexed on creation; range lookups use both day columns.
var indexFields = []string{"start_day", "end_day", "instance_id"}

const columns = "event_id, instance_id, color, title, location, start_day, end_day, " +
	"start_minute, end_minute, all_day, self_status, begin_unix, end_unix"

// Store reads and writes agenda_events.
type Store struct {
	driver  string
	conn    *sql.DB
	dialect Dialect
	closed  atomic.Bool
}

// Open connects using driver ("sqlite" or "postgres") and creates the
// schema if it is missing. For SQLite dsn is the file path.
func Open(driver, dsn string) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("opening %s store: empty dsn", driver)
	}

	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, ok := d.(*SQLiteDialect); ok {
		// One writer at a time; concurrent readers share the connection.
		conn.SetMaxOpenConns(1)
	}

	s := &Store{driver: driver, conn: conn, dialect: d}
	if err := s.createSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	if _, err := s.conn.Exec(s.dialect.CreateTableSQL()); err != nil {
		return err
	}
	for _, field := range indexFields {
		name := fmt.Sprintf("idx_%s_%s", table, field)
		if _, err := s.conn.Exec(s.dialect.CreateIndexSQL(name, table, field)); err != nil {
			return fmt.Errorf("creating index on %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the connection. Later fetches report ErrStoreUnavailable.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Fetch implements store.RecordStore.
func (s *Store) Fetch(ctx context.Context, q store.Query) ([]model.EventRecord, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreUnavailable
	}

	ph := s.dialect.Placeholder
	where := []string{
		"start_day <= " + ph(1),
		"end_day >= " + ph(2),
	}
	args := []any{int64(q.EndDay), int64(q.StartDay)}
	if q.HideDeclined {
		args = append(args, int64(model.StatusDeclined))
		where = append(where, "self_status <> "+ph(len(args)))
	}
	// Search is applied with store.Match after the scan: SQL lower() folds
	// only ASCII on SQLite and follows the server locale on Postgres.

	query := "SELECT " + columns + " FROM " + table +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY start_day, all_day DESC, start_minute, title"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var recs []model.EventRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if q.Search != "" && !store.Match(rec, q) {
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	// Collations differ between backends; agenda order is defined in Go.
	if !model.RecordsSorted(recs) {
		model.SortRecords(recs)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (model.EventRecord, error) {
	var (
		rec                model.EventRecord
		color, title, loc  sql.NullString
		startDay, endDay   int64
		allDay, status     int64
		beginUnix, endUnix sql.NullInt64
	)
	err := rows.Scan(&rec.ID, &rec.InstanceID, &color, &title, &loc,
		&startDay, &endDay, &rec.StartMinute, &rec.EndMinute,
		&allDay, &status, &beginUnix, &endUnix)
	if err != nil {
		return rec, fmt.Errorf("scanning event: %w", err)
	}
	rec.CalendarColor = color.String
	rec.Title = title.String
	rec.Location = loc.String
	rec.StartDay = model.Day(startDay)
	rec.EndDay = model.Day(endDay)
	rec.AllDay = allDay != 0
	rec.SelfAttendeeStatus = model.AttendeeStatus(status)
	if beginUnix.Valid {
		rec.Begin = time.Unix(beginUnix.Int64, 0)
	}
	if endUnix.Valid {
		rec.End = time.Unix(endUnix.Int64, 0)
	}
	return rec, nil
}

// ReplaceRange deletes every stored record touching [start, end] and
// inserts recs, in one transaction.
func (s *Store) ReplaceRange(ctx context.Context, start, end model.Day, recs []model.EventRecord) error {
	if s.closed.Load() {
		return store.ErrStoreUnavailable
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ph := s.dialect.Placeholder
	del := "DELETE FROM " + table + " WHERE start_day <= " + ph(1) + " AND end_day >= " + ph(2)
	if _, err := tx.ExecContext(ctx, del, int64(end), int64(start)); err != nil {
		return fmt.Errorf("deleting range: %w", err)
	}

	insert := "INSERT INTO " + table + " (" + columns + ") VALUES (" + placeholders(s.dialect, 1, 13) + ")"
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, insertArgs(rec)...); err != nil {
			return fmt.Errorf("inserting %q: %w", rec.Title, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	appLog.Info("sql store range replaced", "driver", s.driver, "start", start, "end", end, "records", len(recs))
	return nil
}

func insertArgs(rec model.EventRecord) []any {
	allDay := 0
	if rec.AllDay {
		allDay = 1
	}
	var begin, end any
	if !rec.Begin.IsZero() {
		begin = rec.Begin.Unix()
	}
	if !rec.End.IsZero() {
		end = rec.End.Unix()
	}
	return []any{
		rec.ID, rec.InstanceID,
		sanitize(rec.CalendarColor), sanitize(rec.Title), sanitize(rec.Location),
		int64(rec.StartDay), int64(rec.EndDay),
		rec.StartMinute, rec.EndMinute,
		allDay, int64(rec.SelfAttendeeStatus),
		begin, end,
	}
}

// sanitize strips NUL bytes, which PostgreSQL rejects in text columns.
func sanitize(s string) string {
	if strings.ContainsRune(s, '\x00') {
		return strings.ReplaceAll(s, "\x00", "")
	}
	return s
}

// ImportFrom copies every record src has for [start, end] into the table.
func (s *Store) ImportFrom(ctx context.Context, src store.RecordStore, start, end model.Day) (int, error) {
	recs, err := src.Fetch(ctx, store.Query{StartDay: start, EndDay: end})
	if err != nil {
		return 0, fmt.Errorf("reading source: %w", err)
	}
	if err := s.ReplaceRange(ctx, start, end, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, store.ErrStoreUnavailable
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
