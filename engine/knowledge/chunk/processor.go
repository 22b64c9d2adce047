package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/askdocs/askdocs/engine/core"
	"github.com/askdocs/askdocs/engine/knowledge"
)

// chunkNamespace seeds the deterministic UUIDv5 point identifiers. Qdrant
// only accepts UUIDs or unsigned integers as point IDs.
var chunkNamespace = uuid.MustParse("9f2c1a47-8b3e-4d60-9c11-5a7d0e64b12f")

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Processor splits documents into deterministic chunks.
type Processor struct {
	settings Settings
}

// NewProcessor builds a processor with validated settings.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	return &Processor{settings: settings}, nil
}

// Process splits the documents of a single file into chunks. The sequence
// index runs across the whole file, so page boundaries never reset the
// upsert keys.
func (p *Processor) Process(docs []Document) ([]Chunk, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.settings.Size),
		textsplitter.WithChunkOverlap(p.settings.Overlap),
	)
	seq := make(map[string]int, 1)
	chunks := make([]Chunk, 0, len(docs))
	for di := range docs {
		doc := docs[di]
		if strings.TrimSpace(doc.Filename) == "" {
			return nil, errors.New("chunk: document filename is required")
		}
		text := p.preprocess(doc.Text)
		if text == "" {
			continue
		}
		segments, err := splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("chunk: split %s: %w", doc.Filename, err)
		}
		for _, segment := range segments {
			chunkText := strings.TrimSpace(segment)
			if chunkText == "" {
				continue
			}
			idx := seq[doc.Filename]
			seq[doc.Filename] = idx + 1
			metadata := core.CloneMap(doc.Metadata)
			if metadata == nil {
				metadata = make(map[string]any, 4)
			}
			metadata[knowledge.MetaFilename] = doc.Filename
			metadata[knowledge.MetaChunkIndex] = idx
			metadata[knowledge.MetaContentHash] = hashText(chunkText)
			if doc.Page > 0 {
				metadata[knowledge.MetaPage] = doc.Page
			}
			chunks = append(chunks, Chunk{
				ID:       ChunkID(doc.Filename, idx),
				Text:     chunkText,
				Filename: doc.Filename,
				Page:     doc.Page,
				Index:    idx,
				Hash:     hashText(chunkText),
				Metadata: metadata,
			})
		}
	}
	return chunks, nil
}

func (p *Processor) preprocess(text string) string {
	if p.settings.NormalizeNewlines {
		text = newlinePattern.ReplaceAllString(text, "\n")
	}
	return strings.TrimSpace(text)
}

// ChunkID derives the deterministic vector entry identifier for a chunk.
func ChunkID(filename string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s::%d", filename, index))).String()
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
