// Package indexer turns chunks into vector store entries: it embeds chunk
// text in batches and writes the results to the configured store, keeping
// the store consistent per document.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/askdocs/askdocs/engine/knowledge"
	"github.com/askdocs/askdocs/engine/knowledge/chunk"
	"github.com/askdocs/askdocs/engine/knowledge/embedder"
	"github.com/askdocs/askdocs/engine/knowledge/vectordb"
	"github.com/askdocs/askdocs/pkg/logger"
)

// RetryConfig bounds the retry behavior of embedding and upsert calls.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (c RetryConfig) normalized() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// Service writes embedded chunks to the vector store.
type Service struct {
	embedder *embedder.Adapter
	store    vectordb.Store
	retry    RetryConfig
}

// New constructs an indexer service.
func New(emb *embedder.Adapter, store vectordb.Store, retryCfg RetryConfig) (*Service, error) {
	if emb == nil {
		return nil, fmt.Errorf("indexer requires an embedder")
	}
	if store == nil {
		return nil, fmt.Errorf("indexer requires a vector store")
	}
	return &Service{embedder: emb, store: store, retry: retryCfg.normalized()}, nil
}

// Index replaces the stored vectors for filename with the given chunks.
// Chunk IDs are deterministic per (filename, index), so upserting the new
// entries overwrites the old ones in place and the previous version stays
// searchable for the whole replacement. Stale tail entries, left over when
// the document shrank, are deleted only after every batch succeeded. If a
// batch fails mid-replacement the previous entries beyond the written
// range survive; a fresh document that had no prior entries is cleaned up
// so the store never holds a partial first index.
func (s *Service) Index(ctx context.Context, filename string, chunks []chunk.Chunk) (int, error) {
	if filename == "" {
		return 0, fmt.Errorf("indexer: filename is required")
	}
	if len(chunks) == 0 {
		return 0, s.Remove(ctx, filename)
	}
	prior, err := s.Count(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("index %q: count existing entries: %w", filename, err)
	}
	indexed := 0
	batchSize := s.embedder.BatchSize()
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		if err := s.indexBatch(ctx, chunks[start:end]); err != nil {
			if prior == 0 {
				s.discardWritten(ctx, chunks[:indexed])
			}
			return 0, fmt.Errorf("index %q: batch %d-%d: %w", filename, start, end, err)
		}
		indexed = end
	}
	if prior > len(chunks) {
		err := s.store.Delete(ctx, vectordb.Filter{
			Metadata: map[string]string{knowledge.MetaFilename: filename},
			GTE:      map[string]int{knowledge.MetaChunkIndex: len(chunks)},
		})
		if err != nil {
			return 0, fmt.Errorf("index %q: remove stale entries: %w", filename, err)
		}
	}
	return indexed, nil
}

func (s *Service) indexBatch(ctx context.Context, batch []chunk.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	var vectors [][]float32
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = s.embedder.EmbedDocuments(ctx, texts)
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	records := make([]vectordb.Record, len(batch))
	for i := range batch {
		records[i] = toRecord(&batch[i], vectors[i])
	}
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, records)
	})
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (s *Service) discardWritten(ctx context.Context, written []chunk.Chunk) {
	if len(written) == 0 {
		return
	}
	log := logger.FromContext(ctx)
	ids := make([]string, len(written))
	for i := range written {
		ids[i] = written[i].ID
	}
	// Best effort. Use a fresh timeout so cleanup still runs when the
	// request context is already canceled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.Delete(cleanupCtx, vectordb.Filter{IDs: ids}); err != nil {
		log.Warn("failed to clean up partially indexed document", "error", err)
	}
}

// Remove deletes all vector entries for filename. Removing a document
// that has no entries is not an error.
func (s *Service) Remove(ctx context.Context, filename string) error {
	if filename == "" {
		return fmt.Errorf("indexer: filename is required")
	}
	return s.store.Delete(ctx, vectordb.Filter{
		Metadata: map[string]string{knowledge.MetaFilename: filename},
	})
}

// Prune deletes vector entries whose filename is not in keep. An empty
// keep list is rejected so a bad caller cannot wipe the collection;
// callers that really mean "keep nothing" use RemoveAll.
func (s *Service) Prune(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		return fmt.Errorf("indexer: prune requires at least one filename to keep")
	}
	return s.store.Delete(ctx, vectordb.Filter{
		NotIn: map[string][]string{knowledge.MetaFilename: keep},
	})
}

// RemoveAll clears every vector entry by dropping and recreating the
// collection.
func (s *Service) RemoveAll(ctx context.Context) error {
	if err := s.store.Drop(ctx); err != nil {
		return fmt.Errorf("indexer: drop collection: %w", err)
	}
	if _, err := s.store.Ensure(ctx); err != nil {
		return fmt.Errorf("indexer: recreate collection: %w", err)
	}
	return nil
}

// Count reports the number of stored vector entries, optionally limited
// to a single document.
func (s *Service) Count(ctx context.Context, filename string) (int, error) {
	filter := vectordb.Filter{}
	if filename != "" {
		filter.Metadata = map[string]string{knowledge.MetaFilename: filename}
	}
	return s.store.Count(ctx, filter)
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.NewExponential(s.retry.BaseDelay)
	backoff = retry.WithCappedDuration(s.retry.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(uint64(s.retry.Attempts-1), backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func toRecord(c *chunk.Chunk, vector []float32) vectordb.Record {
	metadata := map[string]any{
		knowledge.MetaFilename:    c.Filename,
		knowledge.MetaChunkIndex:  c.Index,
		knowledge.MetaContentHash: c.Hash,
	}
	if c.Page > 0 {
		metadata[knowledge.MetaPage] = c.Page
	}
	for k, v := range c.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}
	return vectordb.Record{
		ID:       c.ID,
		Vector:   vector,
		Text:     c.Text,
		Metadata: metadata,
	}
}
