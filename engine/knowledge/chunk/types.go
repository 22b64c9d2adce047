package chunk

// Document represents raw content prior to chunking. PDF documents yield
// one Document per page; text documents yield a single Document with
// Page zero.
type Document struct {
	Filename string
	Page     int
	Text     string
	Metadata map[string]any
}

// Settings configures chunking behavior.
type Settings struct {
	Size              int
	Overlap           int
	NormalizeNewlines bool
}

// Chunk represents a processed slice ready for embedding. ID is derived
// deterministically from (filename, sequence index) so re-indexing the
// same document overwrites existing vector entries.
type Chunk struct {
	ID       string
	Text     string
	Filename string
	Page     int
	Index    int
	Hash     string
	Metadata map[string]any
}
