// Package answer turns retrieved chunks into a grounded answer with
// verified citations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/askdocs/askdocs/engine/knowledge"
	"github.com/askdocs/askdocs/pkg/logger"
)

const (
	// noResultsAnswer is returned when retrieval found nothing relevant.
	noResultsAnswer = "I couldn't find anything relevant to your question in the uploaded documents. Try rephrasing the question or uploading documents that cover the topic."
	// modelFailureAnswer is returned when the language model call fails.
	modelFailureAnswer = "I found relevant passages in your documents but couldn't generate an answer right now. Please try again in a moment."
)

const systemPrompt = `You are a documentation assistant. Answer the question using ONLY the provided context passages.

Rules:
- If the context does not contain the answer, say so plainly instead of guessing.
- Cite every passage you rely on using the exact form [filename p.N] for paged sources, or [filename] for sources without pages.
- Keep the answer concise and factual.`

// Provider enumerates supported chat model providers.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderGoogleAI Provider = "googleai"
)

// Config describes the chat model used for synthesis.
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Result is a synthesized answer with its supporting references.
type Result struct {
	Answer     string
	References []knowledge.Reference
}

// Synthesizer generates answers grounded in retrieved chunks.
type Synthesizer struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// New constructs a provider-backed synthesizer.
func New(ctx context.Context, cfg *Config) (*Synthesizer, error) {
	if cfg == nil {
		return nil, errors.New("answer config is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("answer model is required")
	}
	model, err := buildModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{
		model:       model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}, nil
}

// NewWithModel constructs a synthesizer around an existing model.
func NewWithModel(model llms.Model, modelName string) (*Synthesizer, error) {
	if model == nil {
		return nil, errors.New("answer model implementation is required")
	}
	return &Synthesizer{model: model, modelName: modelName}, nil
}

// Answer generates an answer for the question from the given chunks.
// Chunks must already be ordered most relevant first. Model failures
// degrade to a fixed message instead of an error; the provider failure
// is logged, never surfaced to the client.
func (s *Synthesizer) Answer(ctx context.Context, question string, chunks []knowledge.RetrievedChunk) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("answer: question is required")
	}
	if len(chunks) == 0 {
		return &Result{Answer: noResultsAnswer}, nil
	}
	text, err := s.generate(ctx, question, chunks)
	if err != nil {
		logger.FromContext(ctx).Warn("answer generation failed, returning fallback",
			"model", s.modelName, "error", err)
		return &Result{Answer: modelFailureAnswer}, nil
	}
	text = normalizeAnswer(text)
	refs := extractCitations(text, chunks)
	if len(refs) == 0 {
		refs = referencesFromChunks(chunks)
	}
	return &Result{Answer: text, References: refs}, nil
}

func (s *Synthesizer) generate(ctx context.Context, question string, chunks []knowledge.RetrievedChunk) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildUserPrompt(question, chunks)),
	}
	opts := []llms.CallOption{}
	if s.temperature > 0 {
		opts = append(opts, llms.WithTemperature(s.temperature))
	}
	if s.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.maxTokens))
	}
	resp, err := s.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("model %q: %w", s.modelName, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %q: empty response", s.modelName)
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", fmt.Errorf("model %q: empty answer", s.modelName)
	}
	return content, nil
}

func buildUserPrompt(question string, chunks []knowledge.RetrievedChunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		header := "[Source: " + c.Filename
		if c.Page > 0 {
			header += " (page " + strconv.Itoa(c.Page) + ")"
		}
		header += "]"
		blocks = append(blocks, header+"\n"+c.Content)
	}
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	sb.WriteString(strings.Join(blocks, "\n\n---\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// referencesFromChunks derives references directly from the retrieved
// chunks, deduplicated in rank order.
func referencesFromChunks(chunks []knowledge.RetrievedChunk) []knowledge.Reference {
	seen := make(map[knowledge.Reference]struct{}, len(chunks))
	refs := make([]knowledge.Reference, 0, len(chunks))
	for _, c := range chunks {
		if c.Filename == "" {
			continue
		}
		ref := knowledge.Reference{
			Filename: c.Filename,
			Page:     c.Page,
			Source:   documentSource(c.Filename),
		}
		if _, ok := seen[ref.Key()]; ok {
			continue
		}
		seen[ref.Key()] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func documentSource(filename string) string {
	return "/api/documents/" + url.PathEscape(filename)
}
