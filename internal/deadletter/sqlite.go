package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"workpipe/internal/models"
)

// SQLiteSink persists dead letters to a SQLite database
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at dbPath
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sink := &SQLiteSink{db: db}
	if err := sink.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return sink, nil
}

// Close closes the database connection
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// initSchema initializes the database schema
func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		envelope_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_kind ON dead_letters(kind);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_envelope_id ON dead_letters(envelope_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Store records a permanently failed envelope
func (s *SQLiteSink) Store(ctx context.Context, d models.DeadLetter) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.FailedAt.IsZero() {
		d.FailedAt = time.Now()
	}

	query := `
		INSERT INTO dead_letters (id, envelope_id, kind, payload, failure_reason, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.EnvelopeID,
		d.Kind,
		d.Payload,
		d.Reason,
		d.Attempts,
		d.FailedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}

	return nil
}

// List returns all dead letters, newest first
func (s *SQLiteSink) List(ctx context.Context) ([]models.DeadLetter, error) {
	query := `
		SELECT id, envelope_id, kind, payload, failure_reason, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var d models.DeadLetter
		var failedAt int64
		if err := rows.Scan(&d.ID, &d.EnvelopeID, &d.Kind, &d.Payload, &d.Reason, &d.Attempts, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		d.FailedAt = time.Unix(failedAt, 0)
		letters = append(letters, d)
	}

	return letters, rows.Err()
}
