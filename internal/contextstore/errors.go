package contextstore

import "errors"

// Error kinds reported by Ingest and logged by Retrieve. Ingest joins the
// isolated failures of a batch with errors.Join, so callers classify them
// with errors.Is.
var (
	// ErrIngestion marks a malformed source record. The record is skipped.
	ErrIngestion = errors.New("ingestion error")

	// ErrEmbedding marks an encoder failure. The entity is not stored.
	ErrEmbedding = errors.New("embedding error")

	// ErrIndexWrite marks a vector index upsert that failed twice. The
	// entity is dropped.
	ErrIndexWrite = errors.New("index write error")

	// ErrRetrieval marks a failed similarity query. Retrieve logs it and
	// returns an empty result.
	ErrRetrieval = errors.New("retrieval error")
)
