package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/askdocs/askdocs/engine/knowledge"
)

// citationPattern matches the citation forms the system prompt asks for:
// [filename p.N] and [filename]. The filename group stops before an
// optional trailing page marker.
var citationPattern = regexp.MustCompile(`\[([^\[\]]+?)(?:\s+p\.\s*(\d+))?\]`)

// normalizeAnswer strips a wrapping markdown code fence and trims
// surrounding whitespace. Models occasionally fence the whole reply even
// when asked for plain text.
func normalizeAnswer(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return text
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

// extractCitations pulls citations out of the answer text and keeps only
// those that point at retrieved chunks, deduplicated in first-cited
// order. Citations naming documents or pages that were not retrieved are
// dropped.
func extractCitations(text string, chunks []knowledge.RetrievedChunk) []knowledge.Reference {
	pages := make(map[string]map[int]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Filename == "" {
			continue
		}
		if pages[c.Filename] == nil {
			pages[c.Filename] = make(map[int]struct{})
		}
		pages[c.Filename][c.Page] = struct{}{}
	}
	seen := make(map[knowledge.Reference]struct{})
	var refs []knowledge.Reference
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		filename := strings.TrimSpace(m[1])
		filePages, ok := pages[filename]
		if !ok {
			continue
		}
		page := 0
		if m[2] != "" {
			page, _ = strconv.Atoi(m[2])
		}
		if page > 0 {
			if _, ok := filePages[page]; !ok {
				continue
			}
		}
		ref := knowledge.Reference{
			Filename: filename,
			Page:     page,
			Source:   documentSource(filename),
		}
		if _, dup := seen[ref.Key()]; dup {
			continue
		}
		seen[ref.Key()] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func buildModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("answer model %q: initialize openai client: %w", cfg.Model, err)
		}
		return model, nil
	case ProviderGoogleAI:
		opts := []googleai.Option{googleai.WithDefaultModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, googleai.WithAPIKey(cfg.APIKey))
		}
		model, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("answer model %q: initialize googleai client: %w", cfg.Model, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("answer provider %q is not supported", cfg.Provider)
	}
}
