package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/scrypster/vigil/internal/vectorindex"
)

// Schema creates the vectors table.
const Schema = `
CREATE TABLE IF NOT EXISTS vectors (
    id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    document TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

var _ vectorindex.Index = (*Index)(nil)

// Index implements vectorindex.Index on SQLite.
type Index struct {
	db *sql.DB
}

// New opens (or creates) the index at dsn.
func New(dsn string) (*Index, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Upsert creates or replaces the row for id.
func (x *Index) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any, document string) error {
	if err := vectorindex.ValidateUpsert(id, embedding); err != nil {
		return err
	}
	meta, err := vectorindex.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vectors (id, embedding, dimension, metadata, document, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := x.db.ExecContext(ctx, query, id, vectorindex.EncodeEmbedding(embedding), len(embedding), meta, document); err != nil {
		return fmt.Errorf("sqlite: failed to upsert vector %s: %w", id, err)
	}
	return nil
}

// Query loads every row with a matching dimension and ranks it in Go.
func (x *Index) Query(ctx context.Context, embedding []float32, k int) ([]vectorindex.Result, error) {
	if k <= 0 || len(embedding) == 0 {
		return []vectorindex.Result{}, nil
	}

	rows, err := x.db.QueryContext(ctx,
		`SELECT id, embedding, dimension, metadata, document FROM vectors WHERE dimension = ?`,
		len(embedding))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query vectors: %w", err)
	}
	defer rows.Close()

	results := []vectorindex.Result{}
	for rows.Next() {
		var (
			id, meta, doc string
			blob          []byte
			dim           int
		)
		if err := rows.Scan(&id, &blob, &dim, &meta, &doc); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan vector: %w", err)
		}
		vec, err := vectorindex.DecodeEmbedding(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("sqlite: corrupt embedding for %s: %w", id, err)
		}
		metadata, err := vectorindex.DecodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("sqlite: corrupt metadata for %s: %w", id, err)
		}
		results = append(results, vectorindex.Result{
			ID:       id,
			Metadata: metadata,
			Document: doc,
			Distance: vectorindex.CosineDistance(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}
	return vectorindex.SortResults(results, k), nil
}

// Count returns the number of stored rows.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count vectors: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (x *Index) Close() error {
	if _, err := x.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("sqlite: WAL checkpoint failed on close", "error", err)
	}
	return x.db.Close()
}
