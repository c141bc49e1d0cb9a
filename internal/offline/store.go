package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/noah-isme/classmark-api/internal/models"
)

// Store is the durable map of pending marks, keyed by (class, student, date).
// Implementations must write through on every mutation so state survives a
// process crash, and Put must never block on network I/O.
type Store interface {
	Put(ctx context.Context, key Key, status models.AttendanceStatus, notes *string) error
	Get(ctx context.Context, key Key) (*PendingMark, error)
	AllQueued(ctx context.Context) ([]PendingMark, error)
	MarkSyncing(ctx context.Context, keys []Key) error
	MarkSynced(ctx context.Context, keys []Key) error
	MarkFailed(ctx context.Context, keys []Key) error
	CountQueued(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

const storeSchemaVersion = 1

// SQLiteStore persists pending marks in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the pending mark database at
// path. Marks left in the syncing state by a crashed process are re-queued.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS pending_marks (
			class_id   TEXT NOT NULL,
			student_id TEXT NOT NULL,
			date       TEXT NOT NULL,
			status     TEXT NOT NULL,
			notes      TEXT,
			local_ts   TEXT NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'QUEUED',
			PRIMARY KEY (class_id, student_id, date)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init pending store: %w", err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, storeSchemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > storeSchemaVersion:
		return fmt.Errorf("pending store schema version %d is newer than supported %d", version, storeSchemaVersion)
	}

	// Recover marks orphaned mid-sync by a crash.
	if _, err := s.db.Exec(`UPDATE pending_marks SET sync_state = ? WHERE sync_state = ?`, StateQueued, StateSyncing); err != nil {
		return fmt.Errorf("requeue interrupted marks: %w", err)
	}
	return nil
}

// Put inserts or overwrites the pending mark for key. The previous mark for
// the same key is discarded; only the most recent local intent survives.
func (s *SQLiteStore) Put(ctx context.Context, key Key, status models.AttendanceStatus, notes *string) error {
	query := `INSERT INTO pending_marks (class_id, student_id, date, status, notes, local_ts, sync_state)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (class_id, student_id, date)
DO UPDATE SET status = excluded.status, notes = excluded.notes, local_ts = excluded.local_ts, sync_state = excluded.sync_state`
	ts := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, key.ClassID, key.StudentID, key.Date, status, notes, ts, StateQueued); err != nil {
		return fmt.Errorf("put pending mark: %w", err)
	}
	return nil
}

// Get returns the pending mark for key, or nil when none exists.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*PendingMark, error) {
	query := `SELECT class_id, student_id, date, status, notes, local_ts, sync_state
FROM pending_marks WHERE class_id = ? AND student_id = ? AND date = ?`
	mark, err := scanMark(s.db.QueryRowContext(ctx, query, key.ClassID, key.StudentID, key.Date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending mark: %w", err)
	}
	return mark, nil
}

// AllQueued returns every mark still awaiting confirmation, oldest first.
func (s *SQLiteStore) AllQueued(ctx context.Context) ([]PendingMark, error) {
	query := `SELECT class_id, student_id, date, status, notes, local_ts, sync_state
FROM pending_marks WHERE sync_state IN (?, ?) ORDER BY local_ts`
	rows, err := s.db.QueryContext(ctx, query, StateQueued, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("list queued marks: %w", err)
	}
	defer rows.Close()

	var marks []PendingMark
	for rows.Next() {
		mark, err := scanMark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued mark: %w", err)
		}
		marks = append(marks, *mark)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queued marks: %w", err)
	}
	return marks, nil
}

// MarkSyncing flags a snapshot as in flight so it is excluded from the next
// AllQueued call while the batch request is pending.
func (s *SQLiteStore) MarkSyncing(ctx context.Context, keys []Key) error {
	return s.transition(ctx, keys, StateSyncing)
}

// MarkSynced removes confirmed marks; the queue shrinks. Only rows still in
// the syncing state are removed: a Put racing the in-flight batch re-queues
// the key with a newer intent, and that newer mark must survive the stale
// snapshot's confirmation.
func (s *SQLiteStore) MarkSynced(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keysPredicate(keys)
	args = append(args, StateSyncing)
	query := `DELETE FROM pending_marks WHERE (` + where + `) AND sync_state = ?`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove synced marks: %w", err)
	}
	return nil
}

// MarkFailed re-queues marks for the next sync attempt. Rows already reset to
// queued by a newer Put are left alone for the same reason as in MarkSynced.
func (s *SQLiteStore) MarkFailed(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keysPredicate(keys)
	args = append([]interface{}{StateFailed}, args...)
	args = append(args, StateSyncing)
	query := `UPDATE pending_marks SET sync_state = ? WHERE (` + where + `) AND sync_state = ?`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("fail syncing marks: %w", err)
	}
	return nil
}

// CountQueued returns the number of marks awaiting confirmation.
func (s *SQLiteStore) CountQueued(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM pending_marks WHERE sync_state IN (?, ?)`
	if err := s.db.QueryRowContext(ctx, query, StateQueued, StateFailed).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queued marks: %w", err)
	}
	return count, nil
}

// Clear drops all pending state. Explicit user or maintenance action only.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_marks`); err != nil {
		return fmt.Errorf("clear pending marks: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) transition(ctx context.Context, keys []Key, state SyncState) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keysPredicate(keys)
	args = append([]interface{}{state}, args...)
	if _, err := s.db.ExecContext(ctx, `UPDATE pending_marks SET sync_state = ? WHERE `+where, args...); err != nil {
		return fmt.Errorf("transition marks to %s: %w", state, err)
	}
	return nil
}

func keysPredicate(keys []Key) (string, []interface{}) {
	clauses := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)*3)
	for i, key := range keys {
		clauses[i] = `(class_id = ? AND student_id = ? AND date = ?)`
		args = append(args, key.ClassID, key.StudentID, key.Date)
	}
	return strings.Join(clauses, " OR "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMark(row rowScanner) (*PendingMark, error) {
	var mark PendingMark
	var notes sql.NullString
	var localTS string
	var state string
	if err := row.Scan(&mark.Key.ClassID, &mark.Key.StudentID, &mark.Key.Date, &mark.Status, &notes, &localTS, &state); err != nil {
		return nil, err
	}
	if notes.Valid {
		mark.Notes = &notes.String
	}
	parsed, err := time.Parse(time.RFC3339Nano, localTS)
	if err != nil {
		return nil, fmt.Errorf("parse local timestamp: %w", err)
	}
	mark.LocalTimestamp = parsed
	mark.State = SyncState(state)
	return &mark, nil
}
