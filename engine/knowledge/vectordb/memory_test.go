package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T, dimension int) *memoryStore {
	t.Helper()
	store, err := New(&Config{
		Provider:   ProviderMemory,
		Collection: "test",
		Dimension:  dimension,
	})
	require.NoError(t, err)
	mem, ok := store.(*memoryStore)
	require.True(t, ok)
	return mem
}

func seedRecords(t *testing.T, store Store) {
	t.Helper()
	err := store.Upsert(context.Background(), []Record{
		{ID: "a1", Vector: []float32{1, 0, 0}, Text: "alpha one", Metadata: map[string]any{"filename": "a.txt", "page": 1}},
		{ID: "a2", Vector: []float32{0.9, 0.1, 0}, Text: "alpha two", Metadata: map[string]any{"filename": "a.txt", "page": 2}},
		{ID: "b1", Vector: []float32{0, 1, 0}, Text: "beta one", Metadata: map[string]any{"filename": "b.pdf", "page": 1}},
	})
	require.NoError(t, err)
}

func TestMemoryStoreEnsure(t *testing.T) {
	t.Run("Should report created on first call only", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		created, err := store.Ensure(context.Background())
		require.NoError(t, err)
		assert.True(t, created)
		created, err = store.Ensure(context.Background())
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestMemoryStoreUpsert(t *testing.T) {
	t.Run("Should reject dimension mismatch", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		err := store.Upsert(context.Background(), []Record{{ID: "x", Vector: []float32{1, 0}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dimension 2, want 3")
	})
	t.Run("Should reject records without an ID", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		err := store.Upsert(context.Background(), []Record{{Vector: []float32{1, 0, 0}}})
		require.Error(t, err)
	})
	t.Run("Should replace records with the same ID", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		err := store.Upsert(context.Background(), []Record{
			{ID: "a1", Vector: []float32{0, 0, 1}, Text: "alpha rewritten", Metadata: map[string]any{"filename": "a.txt"}},
		})
		require.NoError(t, err)
		count, err := store.Count(context.Background(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		matches, err := store.Search(context.Background(), []float32{0, 0, 1}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alpha rewritten", matches[0].Text)
	})
}

func TestMemoryStoreSearch(t *testing.T) {
	t.Run("Should rank by cosine similarity", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		matches, err := store.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a1", matches[0].ID)
		assert.Equal(t, "a2", matches[1].ID)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})
	t.Run("Should filter by metadata", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		matches, err := store.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{
			TopK:    10,
			Filters: map[string]string{"filename": "b.pdf"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b1", matches[0].ID)
	})
	t.Run("Should drop matches below the score threshold", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		matches, err := store.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{
			TopK:     10,
			MinScore: 0.5,
		})
		require.NoError(t, err)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Score, float32(0.5))
		}
		assert.NotContains(t, matchIDs(matches), "b1")
	})
	t.Run("Should keep negative scores when no threshold is set", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		err := store.Upsert(context.Background(), []Record{
			{ID: "opp", Vector: []float32{-1, 0, 0}, Text: "opposite", Metadata: map[string]any{"filename": "a.txt"}},
		})
		require.NoError(t, err)
		matches, err := store.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "opp", matches[0].ID)
		assert.Less(t, matches[0].Score, float32(0))
	})
	t.Run("Should reject non-positive top_k", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		_, err := store.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{})
		require.Error(t, err)
	})
	t.Run("Should reject dimension mismatch", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		_, err := store.Search(context.Background(), []float32{1, 0}, SearchOptions{TopK: 1})
		require.Error(t, err)
	})
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Run("Should delete by metadata filter", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		err := store.Delete(context.Background(), Filter{Metadata: map[string]string{"filename": "a.txt"}})
		require.NoError(t, err)
		count, err := store.Count(context.Background(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
	t.Run("Should delete by IDs", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		err := store.Delete(context.Background(), Filter{IDs: []string{"b1"}})
		require.NoError(t, err)
		count, err := store.Count(context.Background(), Filter{Metadata: map[string]string{"filename": "b.pdf"}})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
	t.Run("Should delete records not matching the keep list", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		err := store.Delete(context.Background(), Filter{NotIn: map[string][]string{"filename": {"a.txt"}}})
		require.NoError(t, err)
		count, err := store.Count(context.Background(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		remaining, err := store.Count(context.Background(), Filter{Metadata: map[string]string{"filename": "b.pdf"}})
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})
	t.Run("Should delete by numeric lower bound", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		err := store.Upsert(context.Background(), []Record{
			{ID: "c0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"filename": "c.txt", "chunk_index": 0}},
			{ID: "c1", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"filename": "c.txt", "chunk_index": 1}},
			{ID: "c2", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"filename": "c.txt", "chunk_index": 2}},
		})
		require.NoError(t, err)
		err = store.Delete(context.Background(), Filter{
			Metadata: map[string]string{"filename": "c.txt"},
			GTE:      map[string]int{"chunk_index": 1},
		})
		require.NoError(t, err)
		count, err := store.Count(context.Background(), Filter{Metadata: map[string]string{"filename": "c.txt"}})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
	t.Run("Should refuse an empty filter", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		err := store.Delete(context.Background(), Filter{})
		require.Error(t, err)
	})
}

func TestMemoryStoreDrop(t *testing.T) {
	t.Run("Should clear records and reset creation state", func(t *testing.T) {
		store := newTestMemoryStore(t, 3)
		seedRecords(t, store)
		_, err := store.Ensure(context.Background())
		require.NoError(t, err)
		require.NoError(t, store.Drop(context.Background()))
		count, err := store.Count(context.Background(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		created, err := store.Ensure(context.Background())
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestNewStoreValidation(t *testing.T) {
	t.Run("Should reject missing collection", func(t *testing.T) {
		_, err := New(&Config{Provider: ProviderMemory, Dimension: 3})
		assert.ErrorIs(t, err, errMissingCollection)
	})
	t.Run("Should reject invalid dimension", func(t *testing.T) {
		_, err := New(&Config{Provider: ProviderMemory, Collection: "c"})
		assert.ErrorIs(t, err, errInvalidDimension)
	})
	t.Run("Should reject unknown provider", func(t *testing.T) {
		_, err := New(&Config{Provider: "chroma", Collection: "c", Dimension: 3})
		require.Error(t, err)
	})
}

func matchIDs(matches []Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids
}
