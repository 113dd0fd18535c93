package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists trail entries in SQLite so a launch record survives
// the process. Attach its Handler to a Trail to mirror appends.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS trail_entries (
        entry_id TEXT PRIMARY KEY,
        sequence INTEGER NOT NULL,
        timestamp TEXT NOT NULL,
        class_name TEXT NOT NULL,
        fields JSON,
        previous_hash TEXT NOT NULL,
        entry_hash TEXT NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return err
	}
	_, err := s.db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS idx_trail_class ON trail_entries(class_name);`)
	return err
}

// SaveEntry inserts one entry. Entries are immutable; replays of the same
// entry ID fail on the primary key.
func (s *SQLiteStore) SaveEntry(ctx context.Context, e *Entry) error {
	fieldsJSON, _ := json.Marshal(e.Fields)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trail_entries (entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Sequence, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ClassName, string(fieldsJSON), e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trail entry: %w", err)
	}
	return nil
}

// List returns up to limit entries in sequence order.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries ORDER BY sequence ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// ByClass returns up to limit entries for one class, in sequence order.
func (s *SQLiteStore) ByClass(ctx context.Context, className string, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries WHERE class_name = ? ORDER BY sequence ASC LIMIT ?`, className, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// VerifyChain loads every entry and recomputes the chain.
func (s *SQLiteStore) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanEntries(rows)
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// Handler returns an EntryHandler mirroring appends into the store.
func (s *SQLiteStore) Handler() EntryHandler {
	return func(e *Entry) {
		_ = s.SaveEntry(context.Background(), e)
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var (
			e          Entry
			ts         string
			fieldsJSON sql.NullString
		)
		if err := rows.Scan(&e.EntryID, &e.Sequence, &ts, &e.ClassName, &fieldsJSON, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Timestamp = parseEntryTime(ts)
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			_ = json.Unmarshal([]byte(fieldsJSON.String), &e.Fields)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseEntryTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
