package sources

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/vigil/internal/contextstore"
)

// FileSource reads records from a YAML or JSON file (JSON is valid YAML).
// The file is re-read only when it changed since the last poll.
type FileSource struct {
	name string
	tag  string
	path string
}

// NewFileSource returns a source backed by path.
func NewFileSource(name, tag, path string) *FileSource {
	return &FileSource{name: name, tag: tag, path: path}
}

func (f *FileSource) Name() string { return f.name }
func (f *FileSource) Tag() string  { return f.tag }

// GetUpdates returns every record in the file if it was modified after
// since, and nothing otherwise.
func (f *FileSource) GetUpdates(ctx context.Context, since time.Time) ([]contextstore.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSource, f.name, err)
	}
	if !since.IsZero() && !info.ModTime().After(since) {
		return nil, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSource, f.name, err)
	}
	records, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSource, f.name, err)
	}
	return records, nil
}

// ParseYAML decodes a list of records, or a mapping with the list under
// "records" or "events".
func ParseYAML(data []byte) ([]contextstore.RawRecord, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return recordList(normalizeYAML(v))
	case map[string]any:
		for _, key := range []string{"records", "events"} {
			if raw, ok := v[key]; ok {
				return recordList(normalizeYAML(raw))
			}
		}
		return nil, fmt.Errorf("parse records: mapping has no records or events list")
	default:
		return nil, fmt.Errorf("parse records: unexpected document %T", doc)
	}
}

// normalizeYAML turns the values yaml.v3 decodes into the shapes
// encoding/json would produce: float64 numbers and RFC 3339 strings.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
