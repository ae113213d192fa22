// Package store keeps the last refreshed portal snapshot in SQLite so the
// calendar can be served while the portal is unreachable.
//
// Class and attendance dates are normalized once, at ingestion. Rows whose
// date cannot be normalized never reach the database; the count of such
// rows is returned to the caller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"portalcal/internal/calendar"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const timeFormat = time.RFC3339

// Store is a SQLite-backed snapshot of entries, attendance and refresh
// history.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// IngestStats reports how many rows were written and how many were
// dropped for having no usable date.
type IngestStats struct {
	Stored  int
	Dropped int
}

// Refresh is one row of refresh history.
type Refresh struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    int
	Attendance int
	Dropped    int
	// Err is empty for successful refreshes.
	Err string
}

// Open opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway store. loc is the zone instants are normalized in.
func Open(path string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := InitDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, loc: loc}, nil
}

// InitDB creates the schema.
func InitDB(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("store: enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS schedule_entry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_key TEXT NOT NULL,
		course_name TEXT NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		room TEXT NOT NULL DEFAULT '',
		lecturer_name TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_entry_date ON schedule_entry(date_key);

	CREATE TABLE IF NOT EXISTS attendance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_key TEXT NOT NULL,
		check_in TEXT NOT NULL DEFAULT '',
		check_out TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date_key);

	CREATE TABLE IF NOT EXISTS refresh_log (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		entries INTEGER NOT NULL DEFAULT 0,
		attendance INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attendance_summary (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		rate REAL NOT NULL,
		fetched_at TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Snapshot is everything one refresh writes.
type Snapshot struct {
	Entries    []model.ScheduleEntry
	Attendance []model.AttendanceRecord
	// PortalRate is the portal's own attendance percentage. Nil keeps the
	// previously stored rate.
	PortalRate *float64
	FetchedAt  time.Time
}

// SnapshotStats reports ingestion counts for both tables.
type SnapshotStats struct {
	Entries    IngestStats
	Attendance IngestStats
}

// ReplaceSnapshot swaps entries, attendance and the portal rate in one
// transaction. On error nothing is changed.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap Snapshot) (SnapshotStats, error) {
	var stats SnapshotStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if stats.Entries, err = s.writeEntries(ctx, tx, snap.Entries); err != nil {
			return fmt.Errorf("entries: %w", err)
		}
		if stats.Attendance, err = s.writeAttendance(ctx, tx, snap.Attendance); err != nil {
			return fmt.Errorf("attendance: %w", err)
		}
		if snap.PortalRate != nil {
			if err := writePortalRate(ctx, tx, *snap.PortalRate, snap.FetchedAt); err != nil {
				return fmt.Errorf("attendance summary: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return SnapshotStats{}, fmt.Errorf("store: replace snapshot: %w", err)
	}
	logDropped(stats.Entries, stats.Attendance)
	return stats, nil
}

func (s *Store) writeEntries(ctx context.Context, tx *sql.Tx, entries []model.ScheduleEntry) (IngestStats, error) {
	var stats IngestStats
	if _, err := tx.ExecContext(ctx, "DELETE FROM schedule_entry"); err != nil {
		return stats, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedule_entry
		(date_key, course_name, start_time, end_time, duration_minutes, room, lecturer_name, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return stats, err
	}
	defer stmt.Close()

	for _, e := range entries {
		key, ok := calendar.NormalizeIn(e.ClassDate, s.loc)
		if !ok {
			stats.Dropped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, e.CourseName, e.StartTime, e.EndTime,
			e.DurationMinutes, e.Room, e.LecturerName, e.Source); err != nil {
			return stats, err
		}
		stats.Stored++
	}
	return stats, nil
}

func logDropped(entries, attendance IngestStats) {
	if entries.Dropped > 0 {
		appLog.Warn("store dropped entries without a usable class date", "dropped", entries.Dropped)
	}
	if attendance.Dropped > 0 {
		appLog.Warn("store dropped attendance rows without a usable date", "dropped", attendance.Dropped)
	}
}

// Entries returns all stored entries ordered by date then start time.
// Class dates come back as canonical "YYYY-MM-DD" strings.
func (s *Store) Entries(ctx context.Context) ([]model.ScheduleEntry, error) {
	return s.queryEntries(ctx, "", "")
}

// EntriesBetween returns entries whose date key lies in [from, to].
func (s *Store) EntriesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleEntry, error) {
	return s.queryEntries(ctx, calendar.Key(from), calendar.Key(to))
}

func (s *Store) queryEntries(ctx context.Context, from, to string) ([]model.ScheduleEntry, error) {
	q := `SELECT date_key, course_name, start_time, end_time, duration_minutes, room, lecturer_name, source
		FROM schedule_entry`
	args := []any{}
	if from != "" {
		q += " WHERE date_key >= ? AND date_key <= ?"
		args = append(args, from, to)
	}
	q += " ORDER BY date_key, start_time, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query entries: %w", err)
	}
	defer rows.Close()

	results := make([]model.ScheduleEntry, 0)
	for rows.Next() {
		var e model.ScheduleEntry
		var key string
		if err := rows.Scan(&key, &e.CourseName, &e.StartTime, &e.EndTime,
			&e.DurationMinutes, &e.Room, &e.LecturerName, &e.Source); err != nil {
			return nil, err
		}
		e.ClassDate = model.DateString(key)
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) writeAttendance(ctx context.Context, tx *sql.Tx, records []model.AttendanceRecord) (IngestStats, error) {
	var stats IngestStats
	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance"); err != nil {
		return stats, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO attendance
		(date_key, check_in, check_out, status, note, course_name) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return stats, err
	}
	defer stmt.Close()

	for _, r := range records {
		key, ok := calendar.NormalizeIn(r.Date, s.loc)
		if !ok {
			stats.Dropped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, r.CheckIn, r.CheckOut, r.Status, r.Note, r.CourseName); err != nil {
			return stats, err
		}
		stats.Stored++
	}
	return stats, nil
}

func writePortalRate(ctx context.Context, tx *sql.Tx, rate float64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attendance_summary (id, rate, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at`,
		rate, at.UTC().Format(timeFormat))
	return err
}

// PortalAttendanceRate returns the last attendance percentage reported
// by the portal. ok is false when none has been stored.
func (s *Store) PortalAttendanceRate(ctx context.Context) (rate float64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT rate FROM attendance_summary WHERE id = 1").Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: portal attendance rate: %w", err)
	}
	return rate, true, nil
}

// Attendance returns the stored attendance log, newest day first.
func (s *Store) Attendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date_key, check_in, check_out, status, note, course_name
		FROM attendance ORDER BY date_key DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: query attendance: %w", err)
	}
	defer rows.Close()

	results := make([]model.AttendanceRecord, 0)
	for rows.Next() {
		var r model.AttendanceRecord
		var key string
		if err := rows.Scan(&key, &r.CheckIn, &r.CheckOut, &r.Status, &r.Note, &r.CourseName); err != nil {
			return nil, err
		}
		r.Date = model.DateString(key)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordRefresh appends r to the refresh history, assigning an ID when
// r has none.
func (s *Store) RecordRefresh(ctx context.Context, r Refresh) (Refresh, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO refresh_log
		(id, started_at, finished_at, entries, attendance, dropped, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(timeFormat), r.FinishedAt.UTC().Format(timeFormat),
		r.Entries, r.Attendance, r.Dropped, r.Err,
	)
	if err != nil {
		return Refresh{}, fmt.Errorf("store: record refresh: %w", err)
	}
	return r, nil
}

// LastRefresh returns the most recent refresh. ok is false when none has
// been recorded yet.
func (s *Store) LastRefresh(ctx context.Context) (r Refresh, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, entries, attendance, dropped, error
		FROM refresh_log ORDER BY finished_at DESC LIMIT 1`)
	var startStr, finishStr string
	err = row.Scan(&r.ID, &startStr, &finishStr, &r.Entries, &r.Attendance, &r.Dropped, &r.Err)
	if errors.Is(err, sql.ErrNoRows) {
		return Refresh{}, false, nil
	}
	if err != nil {
		return Refresh{}, false, fmt.Errorf("store: last refresh: %w", err)
	}
	r.StartedAt, _ = time.Parse(timeFormat, startStr)
	r.FinishedAt, _ = time.Parse(timeFormat, finishStr)
	return r, true, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
