package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/vigil/internal/vectorindex/sqlite"
	"github.com/scrypster/vigil/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    alert_id TEXT NOT NULL UNIQUE,
    alert TEXT NOT NULL,
    was_useful INTEGER NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is an append-only feedback log in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the feedback log at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlite.OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create feedback schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save appends rec.
func (s *SQLiteStore) Save(ctx context.Context, rec types.FeedbackRecord) error {
	alert, err := json.Marshal(rec.Alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	useful := 0
	if rec.WasUseful {
		useful = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, alert_id, alert, was_useful, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AlertID, string(alert), useful, rec.Note, rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// LoadAll returns every record in insertion order.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]types.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, alert, was_useful, note, created_at FROM feedback ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []types.FeedbackRecord
	for rows.Next() {
		var (
			rec       types.FeedbackRecord
			alert     string
			useful    int
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.AlertID, &alert, &useful, &rec.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(alert), &rec.Alert); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert for %s: %w", rec.ID, err)
		}
		rec.WasUseful = useful != 0
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp for %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close checkpoints and closes the database.
func (s *SQLiteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
