package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/engine/knowledge"
	"github.com/askdocs/askdocs/engine/knowledge/chunk"
	"github.com/askdocs/askdocs/engine/knowledge/embedder"
	"github.com/askdocs/askdocs/engine/knowledge/vectordb"
)

const testDimension = 3

// countingEmbedder embeds every text as a constant vector and can be told
// to fail the first N calls. When store and watch are set it records the
// entry count for the watched document at the time of each embed call.
type countingEmbedder struct {
	calls     int
	failFirst int
	failAfter int // fail every call once this many calls have succeeded; 0 disables
	store     vectordb.Store
	watch     string
	seen      []int
}

func (e *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.store != nil {
		count, err := e.store.Count(context.Background(), vectordb.Filter{
			Metadata: map[string]string{knowledge.MetaFilename: e.watch},
		})
		if err == nil {
			e.seen = append(e.seen, count)
		}
	}
	if e.calls <= e.failFirst {
		return nil, errors.New("embedding backend unavailable")
	}
	if e.failAfter > 0 && e.calls > e.failAfter {
		return nil, errors.New("embedding backend unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestService(t *testing.T, impl *countingEmbedder, batchSize int) (*Service, vectordb.Store) {
	t.Helper()
	adapter, err := embedder.Wrap(&embedder.Config{
		Provider:  embedder.ProviderGoogleAI,
		Model:     "text-embedding-004",
		Dimension: testDimension,
		BatchSize: batchSize,
	}, impl)
	require.NoError(t, err)
	store, err := vectordb.New(&vectordb.Config{
		Provider:   vectordb.ProviderMemory,
		Collection: "test",
		Dimension:  testDimension,
	})
	require.NoError(t, err)
	svc, err := New(adapter, store, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)
	return svc, store
}

func makeChunks(filename string, n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{
			ID:       chunk.ChunkID(filename, i),
			Text:     fmt.Sprintf("chunk %d of %s", i, filename),
			Filename: filename,
			Page:     1,
			Index:    i,
			Hash:     fmt.Sprintf("hash-%d", i),
		}
	}
	return chunks
}

func TestServiceIndex(t *testing.T) {
	t.Run("Should index all chunks across batches", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 2)
		indexed, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 5))
		require.NoError(t, err)
		assert.Equal(t, 5, indexed)
		count, err := svc.Count(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})
	t.Run("Should replace stale entries on re-index", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 4)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 5))
		require.NoError(t, err)
		_, err = svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 2))
		require.NoError(t, err)
		count, err := svc.Count(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
	t.Run("Should keep previous entries searchable during re-index", func(t *testing.T) {
		impl := &countingEmbedder{}
		svc, store := newTestService(t, impl, 8)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 2))
		require.NoError(t, err)
		impl.store = store
		impl.watch = "a.txt"
		_, err = svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 2))
		require.NoError(t, err)
		require.Len(t, impl.seen, 1)
		assert.Equal(t, 2, impl.seen[0], "old entries must stay visible while the replacement embeds")
		count, err := svc.Count(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
	t.Run("Should keep previous entries when a re-index fails", func(t *testing.T) {
		impl := &countingEmbedder{}
		svc, _ := newTestService(t, impl, 2)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 4))
		require.NoError(t, err)
		impl.failAfter = impl.calls + 1
		_, err = svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 4))
		require.Error(t, err)
		count, err := svc.Count(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})
	t.Run("Should retry transient embedding failures", func(t *testing.T) {
		impl := &countingEmbedder{failFirst: 2}
		svc, _ := newTestService(t, impl, 8)
		indexed, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 3))
		require.NoError(t, err)
		assert.Equal(t, 3, indexed)
		assert.Equal(t, 3, impl.calls)
	})
	t.Run("Should remove partial entries when a later batch fails", func(t *testing.T) {
		impl := &countingEmbedder{failAfter: 1}
		svc, store := newTestService(t, impl, 2)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 4))
		require.Error(t, err)
		count, err := store.Count(context.Background(), vectordb.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
	t.Run("Should not touch other documents when a fresh index fails", func(t *testing.T) {
		impl := &countingEmbedder{}
		svc, _ := newTestService(t, impl, 2)
		_, err := svc.Index(context.Background(), "keep.txt", makeChunks("keep.txt", 2))
		require.NoError(t, err)
		impl.failAfter = impl.calls + 1
		_, err = svc.Index(context.Background(), "broken.txt", makeChunks("broken.txt", 4))
		require.Error(t, err)
		kept, err := svc.Count(context.Background(), "keep.txt")
		require.NoError(t, err)
		assert.Equal(t, 2, kept)
		broken, err := svc.Count(context.Background(), "broken.txt")
		require.NoError(t, err)
		assert.Equal(t, 0, broken)
	})
	t.Run("Should require a filename", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 2)
		_, err := svc.Index(context.Background(), "", makeChunks("a.txt", 1))
		require.Error(t, err)
	})
	t.Run("Should tag records with document metadata", func(t *testing.T) {
		svc, store := newTestService(t, &countingEmbedder{}, 8)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 1))
		require.NoError(t, err)
		matches, err := store.Search(context.Background(), []float32{1, 0, 0}, vectordb.SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a.txt", matches[0].Metadata[knowledge.MetaFilename])
		assert.Equal(t, 0, matches[0].Metadata[knowledge.MetaChunkIndex])
		assert.Equal(t, 1, matches[0].Metadata[knowledge.MetaPage])
	})
}

func TestServiceRemove(t *testing.T) {
	t.Run("Should remove only the named document", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 8)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 2))
		require.NoError(t, err)
		_, err = svc.Index(context.Background(), "b.pdf", makeChunks("b.pdf", 2))
		require.NoError(t, err)
		require.NoError(t, svc.Remove(context.Background(), "a.txt"))
		remaining, err := svc.Count(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})
	t.Run("Should succeed for unknown documents", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 8)
		require.NoError(t, svc.Remove(context.Background(), "missing.txt"))
	})
}

func TestServicePrune(t *testing.T) {
	t.Run("Should delete documents outside the keep list", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 8)
		for _, name := range []string{"a.txt", "b.pdf", "c.md"} {
			_, err := svc.Index(context.Background(), name, makeChunks(name, 1))
			require.NoError(t, err)
		}
		require.NoError(t, svc.Prune(context.Background(), []string{"a.txt", "c.md"}))
		total, err := svc.Count(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		gone, err := svc.Count(context.Background(), "b.pdf")
		require.NoError(t, err)
		assert.Equal(t, 0, gone)
	})
	t.Run("Should refuse an empty keep list", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 8)
		require.Error(t, svc.Prune(context.Background(), nil))
	})
}

func TestServiceRemoveAll(t *testing.T) {
	t.Run("Should clear every entry and leave a usable collection", func(t *testing.T) {
		svc, _ := newTestService(t, &countingEmbedder{}, 8)
		_, err := svc.Index(context.Background(), "a.txt", makeChunks("a.txt", 2))
		require.NoError(t, err)
		require.NoError(t, svc.RemoveAll(context.Background()))
		total, err := svc.Count(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		indexed, err := svc.Index(context.Background(), "b.pdf", makeChunks("b.pdf", 1))
		require.NoError(t, err)
		assert.Equal(t, 1, indexed)
	})
}
