// Package duckdb provides an embedded DuckDB vector index. Embeddings are kept
// in a FLOAT[] column and ranked with list_cosine_similarity.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/scrypster/vigil/internal/vectorindex"
)

const schema = `
	CREATE TABLE IF NOT EXISTS vectors (
		id VARCHAR PRIMARY KEY,
		embedding FLOAT[] NOT NULL,
		dimension INTEGER NOT NULL,
		metadata VARCHAR NOT NULL DEFAULT '{}',
		document VARCHAR NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);
`

var _ vectorindex.Index = (*Index)(nil)

// Index implements vectorindex.Index on DuckDB.
type Index struct {
	db *sql.DB
}

// New opens the database at path. An empty path opens an in-memory database.
func New(path string) (*Index, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
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
	// DuckDB casts a JSON array literal straight to FLOAT[].
	vec, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO vectors (id, embedding, dimension, metadata, document, updated_at)
		VALUES (?, ?::FLOAT[], ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := x.db.ExecContext(ctx, query, id, string(vec), len(embedding), meta, document); err != nil {
		return fmt.Errorf("duckdb: failed to upsert vector %s: %w", id, err)
	}
	return nil
}

// Query returns the k nearest rows of the same dimension.
func (x *Index) Query(ctx context.Context, embedding []float32, k int) ([]vectorindex.Result, error) {
	if k <= 0 || len(embedding) == 0 {
		return []vectorindex.Result{}, nil
	}
	vec, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	// Zero vectors have no defined similarity; they rank as maximally distant.
	query := `
		WITH scored AS (
			SELECT id, metadata, document,
				COALESCE(1 - list_cosine_similarity(embedding, ?::FLOAT[]), 1) AS distance
			FROM vectors
			WHERE dimension = ?
		)
		SELECT id, metadata, document,
			CASE WHEN isnan(distance) THEN 1 ELSE distance END AS distance
		FROM scored
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`
	rows, err := x.db.QueryContext(ctx, query, string(vec), len(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("duckdb: failed to query vectors: %w", err)
	}
	defer rows.Close()

	results := []vectorindex.Result{}
	for rows.Next() {
		var (
			r    vectorindex.Result
			meta string
			dist sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &meta, &r.Document, &dist); err != nil {
			return nil, fmt.Errorf("duckdb: failed to scan vector: %w", err)
		}
		if r.Metadata, err = vectorindex.DecodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("duckdb: corrupt metadata for %s: %w", r.ID, err)
		}
		r.Distance = 1
		if dist.Valid && !math.IsNaN(dist.Float64) {
			r.Distance = dist.Float64
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: row iteration failed: %w", err)
	}
	return results, nil
}

// Count returns the number of stored rows.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("duckdb: failed to count vectors: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}
