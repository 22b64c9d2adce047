package vectordb

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/askdocs/askdocs/engine/core"
)

// memoryStore is an in-process Store used by tests and local development.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	created   bool
	records   map[string]Record
}

func newMemoryStore(cfg *Config) *memoryStore {
	return &memoryStore{
		dimension: cfg.Dimension,
		records:   make(map[string]Record),
	}
}

func (s *memoryStore) Ensure(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return false, nil
	}
	s.created = true
	return true, nil
}

func (s *memoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			return fmt.Errorf("memory upsert: record %d has no ID", i)
		}
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("memory upsert: record %q has dimension %d, want %d",
				rec.ID, len(rec.Vector), s.dimension)
		}
		rec.Vector = slices.Clone(rec.Vector)
		rec.Metadata = core.CloneMap(rec.Metadata)
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *memoryStore) Search(_ context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("memory search: vector dimension %d, want %d", len(vector), s.dimension)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("memory search: top_k must be greater than zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(vector, rec.Vector)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

func (s *memoryStore) Delete(_ context.Context, filter Filter) error {
	if filter.IsZero() {
		return fmt.Errorf("memory delete: refusing to delete with an empty filter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if recordMatchesFilter(id, rec, filter) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memoryStore) Count(_ context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if filter.IsZero() {
		return len(s.records), nil
	}
	count := 0
	for id, rec := range s.records {
		if recordMatchesFilter(id, rec, filter) {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) Drop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	s.created = false
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	return nil
}

func recordMatchesFilter(id string, rec Record, filter Filter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, id) {
		return false
	}
	if !metadataMatches(rec.Metadata, filter.Metadata) {
		return false
	}
	for key, excluded := range filter.NotIn {
		value, ok := rec.Metadata[key]
		if !ok {
			continue
		}
		if slices.Contains(excluded, fmt.Sprintf("%v", value)) {
			return false
		}
	}
	for key, bound := range filter.GTE {
		value, ok := rec.Metadata[key]
		if !ok {
			return false
		}
		n, ok := numericValue(value)
		if !ok || n < bound {
			return false
		}
	}
	return true
}

func numericValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func metadataMatches(metadata map[string]any, want map[string]string) bool {
	for key, expected := range want {
		value, ok := metadata[key]
		if !ok || fmt.Sprintf("%v", value) != expected {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringSliceKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIntKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
