// Package contextstore owns the canonical set of context entities. It
// extracts entities from raw source records, embeds them, upserts them into
// a vector index and keeps a bounded history of every ingestion.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/vigil/internal/encoder"
	"github.com/scrypster/vigil/internal/ring"
	"github.com/scrypster/vigil/internal/vectorindex"
	"github.com/scrypster/vigil/pkg/types"
)

// DefaultHistoryCapacity is the number of ingestions kept in history.
const DefaultHistoryCapacity = 1000

// Reader is the read-only view handed to alert detectors.
type Reader interface {
	// Retrieve returns up to k index hits nearest to query. Never fails;
	// errors yield an empty slice.
	Retrieve(ctx context.Context, query string, k int) []vectorindex.Result
	// Entities returns the active entities of kind, sorted by id.
	Entities(kind types.ContextType) []types.ContextEntity
	// Get returns the active entity with id.
	Get(id string) (types.ContextEntity, bool)
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryCapacity overrides DefaultHistoryCapacity.
func WithHistoryCapacity(n int) Option {
	return func(s *Store) { s.historyCap = n }
}

// WithRegistry replaces the default extractor registry.
func WithRegistry(r *Registry) Option {
	return func(s *Store) { s.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now for entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use. Embedding runs outside the lock; the
// active map, history and index writes form one critical section.
type Store struct {
	encoder  encoder.Encoder
	index    vectorindex.Index
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	historyCap int

	mu      sync.RWMutex
	active  map[string]types.ContextEntity
	history *ring.Buffer[types.ContextEntity]
}

var _ Reader = (*Store)(nil)

// New creates a store over enc and idx.
func New(enc encoder.Encoder, idx vectorindex.Index, opts ...Option) *Store {
	s := &Store{
		encoder:    enc,
		index:      idx,
		registry:   NewRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
		historyCap: DefaultHistoryCapacity,
		active:     make(map[string]types.ContextEntity),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.historyCap < 1 {
		s.historyCap = DefaultHistoryCapacity
	}
	s.history = ring.New[types.ContextEntity](s.historyCap)
	return s
}

// Registry returns the extractor registry so callers can alias sources.
func (s *Store) Registry() *Registry { return s.registry }

type embedded struct {
	entity types.ContextEntity
	vector []float32
}

// Ingest extracts entities from records according to source's capability
// tag, embeds them and upserts them. Failures are isolated per record and
// per entity; the returned slice holds what was stored and the error joins
// every isolated failure. An unknown source is a no-op.
func (s *Store) Ingest(ctx context.Context, source string, records []RawRecord) ([]types.ContextEntity, error) {
	extractor, tag := s.registry.Resolve(source)
	if extractor == nil {
		s.logger.Debug("no extractor for source, skipping", "source", source, "records", len(records))
		return []types.ContextEntity{}, nil
	}

	now := s.now()
	var errs []error
	batch := make([]embedded, 0, len(records))

	for i, rec := range records {
		entities, err := safeExtract(extractor, rec, now)
		if err != nil {
			err = fmt.Errorf("%w: %s record %d: %v", ErrIngestion, source, i, err)
			s.logger.Warn("skipping malformed record", "kind", "ingestion", "source", source, "tag", tag, "error", err)
			errs = append(errs, err)
			continue
		}
		for _, e := range entities {
			if e.Source == "" {
				e.Source = source
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = now
			}
			e.Importance = types.ClampUnit(e.Importance)

			vec, err := s.encoder.Encode(ctx, e.Text())
			if err != nil {
				err = fmt.Errorf("%w: %s: %v", ErrEmbedding, e.ID, err)
				s.logger.Warn("skipping entity, embedding failed", "kind", "embedding", "entity", e.ID, "error", err)
				errs = append(errs, err)
				continue
			}
			batch = append(batch, embedded{entity: e, vector: vec})
		}
	}

	stored := make([]types.ContextEntity, 0, len(batch))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range batch {
		e := item.entity
		if err := s.upsert(ctx, e, item.vector); err != nil {
			s.logger.Error("dropping entity, index write failed twice", "kind", "index_write", "entity", e.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		s.active[e.ID] = e
		s.history.Append(e)
		stored = append(stored, e.Clone())
	}

	return stored, errors.Join(errs...)
}

// upsert writes to the index, retrying once. Caller holds s.mu.
func (s *Store) upsert(ctx context.Context, e types.ContextEntity, vec []float32) error {
	metadata := map[string]any{
		"type":       string(e.Type),
		"source":     e.Source,
		"importance": e.Importance,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339),
	}
	if title := e.ContentString("title"); title != "" {
		metadata["title"] = title
	}
	doc := e.Text()

	err := s.index.Upsert(ctx, e.ID, vec, metadata, doc)
	if err == nil {
		return nil
	}
	s.logger.Warn("index upsert failed, retrying once", "entity", e.ID, "error", err)
	if err = s.index.Upsert(ctx, e.ID, vec, metadata, doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIndexWrite, e.ID, err)
	}
	return nil
}

func safeExtract(ex Extractor, rec RawRecord, now time.Time) (entities []types.ContextEntity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return ex.Extract(rec, now)
}

// Retrieve embeds query and returns up to k nearest entries, nearest first.
// Failures are logged as retrieval errors and produce an empty slice.
func (s *Store) Retrieve(ctx context.Context, query string, k int) []vectorindex.Result {
	if k <= 0 {
		return []vectorindex.Result{}
	}
	vec, err := s.encoder.Encode(ctx, query)
	if err != nil {
		s.logger.Warn("retrieval failed", "kind", "retrieval", "error", fmt.Errorf("%w: encode query: %v", ErrRetrieval, err))
		return []vectorindex.Result{}
	}
	results, err := s.index.Query(ctx, vec, k)
	if err != nil {
		s.logger.Warn("retrieval failed", "kind", "retrieval", "error", fmt.Errorf("%w: query index: %v", ErrRetrieval, err))
		return []vectorindex.Result{}
	}
	return results
}

// Entities returns copies of the active entities of kind, sorted by id. An
// empty kind returns every entity.
func (s *Store) Entities(kind types.ContextType) []types.ContextEntity {
	s.mu.RLock()
	out := make([]types.ContextEntity, 0, len(s.active))
	for _, e := range s.active {
		if kind == "" || e.Type == kind {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of the active entity with id.
func (s *Store) Get(id string) (types.ContextEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.active[id]
	if !ok {
		return types.ContextEntity{}, false
	}
	return e.Clone(), true
}

// History returns copies of the history log, oldest first.
func (s *Store) History() []types.ContextEntity {
	s.mu.RLock()
	items := s.history.Items()
	s.mu.RUnlock()
	for i := range items {
		items[i] = items[i].Clone()
	}
	return items
}

// HistoryLen returns the number of entries in the history log.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Len()
}

// ActiveCount returns the number of active entities.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
