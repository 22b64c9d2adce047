// Package retriever runs similarity search for user questions and shapes
// the results for answer synthesis.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sethvargo/go-retry"

	"github.com/askdocs/askdocs/engine/knowledge"
	"github.com/askdocs/askdocs/engine/knowledge/embedder"
	"github.com/askdocs/askdocs/engine/knowledge/vectordb"
	"github.com/askdocs/askdocs/pkg/logger"
)

const tokenEncoding = "cl100k_base"

// Config tunes retrieval behavior.
type Config struct {
	// TopK is the default number of chunks returned when a request does
	// not ask for a specific count.
	TopK int
	// MinScore drops matches below the similarity threshold. Zero keeps
	// everything.
	MinScore float64
	// MaxContextTokens trims the tail of the result set once the summed
	// token estimate exceeds the budget. Zero disables trimming.
	MaxContextTokens int
	// RetryAttempts bounds query embedding retries.
	RetryAttempts int
	// RetryBaseDelay is the initial backoff between retries.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the exponential backoff between retries.
	RetryMaxDelay time.Duration
}

// Service retrieves the chunks most relevant to a question.
type Service struct {
	embedder *embedder.Adapter
	store    vectordb.Store
	cfg      Config

	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
}

// New constructs a retrieval service.
func New(emb *embedder.Adapter, store vectordb.Store, cfg Config) (*Service, error) {
	if emb == nil {
		return nil, fmt.Errorf("retriever requires an embedder")
	}
	if store == nil {
		return nil, fmt.Errorf("retriever requires a vector store")
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("retriever top_k must be greater than zero")
	}
	if cfg.MinScore < 0 {
		return nil, fmt.Errorf("retriever min_score must not be negative")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	return &Service{embedder: emb, store: store, cfg: cfg}, nil
}

// Retrieve returns up to k chunks relevant to the question, most relevant
// first. k values below one fall back to the configured default.
func (s *Service) Retrieve(ctx context.Context, question string, k int) ([]knowledge.RetrievedChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("retriever: question is required")
	}
	if k <= 0 {
		k = s.cfg.TopK
	}
	vector, err := s.embedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	matches, err := s.store.Search(ctx, vector, vectordb.SearchOptions{
		TopK:     k,
		MinScore: float32(s.cfg.MinScore),
	})
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	chunks := make([]knowledge.RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		chunks = append(chunks, s.toChunk(match))
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	return s.trimToBudget(ctx, chunks), nil
}

func (s *Service) embedQuery(ctx context.Context, question string) ([]float32, error) {
	backoff := retry.NewExponential(s.cfg.RetryBaseDelay)
	backoff = retry.WithCappedDuration(s.cfg.RetryMaxDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(uint64(s.cfg.RetryAttempts-1), backoff)
	var vector []float32
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = s.embedder.EmbedQuery(ctx, question)
		if embedErr != nil {
			return retry.RetryableError(embedErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *Service) toChunk(match vectordb.Match) knowledge.RetrievedChunk {
	filename, _ := match.Metadata[knowledge.MetaFilename].(string)
	return knowledge.RetrievedChunk{
		Content:       match.Text,
		Score:         float64(match.Score),
		Filename:      filename,
		Page:          metadataInt(match.Metadata, knowledge.MetaPage),
		TokenEstimate: s.estimateTokens(match.Text),
		Metadata:      match.Metadata,
	}
}

// trimToBudget drops the least relevant chunks once the summed token
// estimate exceeds the context budget. The most relevant chunk is always
// kept even when it alone exceeds the budget.
func (s *Service) trimToBudget(ctx context.Context, chunks []knowledge.RetrievedChunk) []knowledge.RetrievedChunk {
	if s.cfg.MaxContextTokens <= 0 || len(chunks) == 0 {
		return chunks
	}
	total := 0
	for i := range chunks {
		total += chunks[i].TokenEstimate
		if i > 0 && total > s.cfg.MaxContextTokens {
			logger.FromContext(ctx).Debug("trimming retrieval results to context budget",
				"kept", i, "dropped", len(chunks)-i, "budget", s.cfg.MaxContextTokens)
			return chunks[:i]
		}
	}
	return chunks
}

// estimateTokens counts tokens with the cl100k_base encoding, falling
// back to a rune-based heuristic when the encoding is unavailable.
func (s *Service) estimateTokens(text string) int {
	s.encoderOnce.Do(func() {
		encoder, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			s.encoder = encoder
		}
	})
	if s.encoder != nil {
		return len(s.encoder.Encode(text, nil, nil))
	}
	count := utf8.RuneCountInString(text)/4 + 1
	return count
}

func metadataInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}
