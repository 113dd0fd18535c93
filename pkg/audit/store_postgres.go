package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Timestamps are kept as RFC 3339 text so recomputed entry hashes match the
// original bit for bit; TIMESTAMPTZ rounds to microseconds.
const pgTrailSchema = `
CREATE TABLE IF NOT EXISTS trail_entries (
    entry_id TEXT PRIMARY KEY,
    sequence BIGINT NOT NULL,
    timestamp TEXT NOT NULL,
    class_name TEXT NOT NULL,
    fields JSONB,
    previous_hash TEXT NOT NULL,
    entry_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trail_class ON trail_entries(class_name);
`

// PostgresStore persists trail entries in PostgreSQL for deployments where
// several launches share one audit backend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the schema. Call once at startup.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgTrailSchema); err != nil {
		return fmt.Errorf("failed to init trail schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveEntry(ctx context.Context, e *Entry) error {
	fieldsJSON, _ := json.Marshal(e.Fields)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trail_entries (entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EntryID, e.Sequence, e.Timestamp.UTC().Format(time.RFC3339Nano), e.ClassName, string(fieldsJSON), e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trail entry: %w", err)
	}
	return nil
}

// List returns up to limit entries in sequence order.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries ORDER BY sequence ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPgEntries(rows)
}

// ByClass returns up to limit entries for one class, in sequence order.
func (s *PostgresStore) ByClass(ctx context.Context, className string, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries WHERE class_name = $1 ORDER BY sequence ASC LIMIT $2`, className, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPgEntries(rows)
}

// VerifyChain loads every entry and recomputes the chain.
func (s *PostgresStore) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, class_name, fields, previous_hash, entry_hash
         FROM trail_entries ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanPgEntries(rows)
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// Handler returns an EntryHandler mirroring appends into the store.
func (s *PostgresStore) Handler() EntryHandler {
	return func(e *Entry) {
		_ = s.SaveEntry(context.Background(), e)
	}
}

func scanPgEntries(rows *sql.Rows) ([]*Entry, error) {
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
