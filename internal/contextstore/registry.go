package contextstore

import (
	"sort"
	"sync"
	"time"

	"github.com/scrypster/vigil/pkg/types"
)

// RawRecord is one record as delivered by a source adapter, usually decoded
// JSON.
type RawRecord = map[string]any

// Capability tags understood by the built-in extractors.
const (
	TagCalendar = "calendar"
	TagMock     = "mock"
)

// Extractor turns one raw record into zero or more entities. A returned
// error marks the record as malformed.
type Extractor interface {
	Extract(record RawRecord, now time.Time) ([]types.ContextEntity, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(record RawRecord, now time.Time) ([]types.ContextEntity, error)

// Extract calls f.
func (f ExtractorFunc) Extract(record RawRecord, now time.Time) ([]types.ContextEntity, error) {
	return f(record, now)
}

// Registry maps capability tags to extractors. Source names resolve to a tag
// through an alias, or are used as the tag directly. Anything unresolved
// gets no extractor, which Ingest treats as a no-op.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	aliases    map[string]string
}

// NewRegistry returns a registry with the calendar and mock extractors.
func NewRegistry() *Registry {
	r := &Registry{
		extractors: make(map[string]Extractor),
		aliases:    make(map[string]string),
	}
	r.Register(TagCalendar, ExtractorFunc(extractCalendar))
	r.Register(TagMock, ExtractorFunc(extractMock))
	return r
}

// Register installs ex under tag, replacing any previous extractor.
func (r *Registry) Register(tag string, ex Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[tag] = ex
}

// Alias routes records from source through the extractor registered for tag.
func (r *Registry) Alias(source, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[source] = tag
}

// Resolve returns the extractor and tag for source, or a nil extractor.
func (r *Registry) Resolve(source string) (Extractor, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag := source
	if alias, ok := r.aliases[source]; ok {
		tag = alias
	}
	return r.extractors[tag], tag
}

// Tags lists registered capability tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
