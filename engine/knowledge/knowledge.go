// Package knowledge holds the types shared across the retrieval pipeline:
// chunks returned by similarity search and the citations surfaced to users.
package knowledge

// Metadata keys attached to every vector entry.
const (
	MetaFilename    = "filename"
	MetaPage        = "page"
	MetaChunkIndex  = "chunk_index"
	MetaContentHash = "content_hash"
)

// RetrievedChunk is a chunk returned by the retrieval service, most to
// least relevant.
type RetrievedChunk struct {
	Content       string
	Score         float64
	Filename      string
	Page          int // 1-based; 0 when the source has no pages
	TokenEstimate int
	Metadata      map[string]any
}

// Reference is a user-facing citation pointing back to a source document.
type Reference struct {
	Filename string `json:"filename"`
	Page     int    `json:"page,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Key identifies a reference for deduplication.
func (r Reference) Key() Reference {
	return Reference{Filename: r.Filename, Page: r.Page}
}
