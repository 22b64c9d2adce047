// Package document manages the uploaded document set: files on disk as
// the source of truth, vector entries derived from them, and the
// bookkeeping that keeps the two in sync.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/askdocs/askdocs/engine/knowledge/chunk"
	"github.com/askdocs/askdocs/engine/knowledge/indexer"
	"github.com/askdocs/askdocs/engine/knowledge/loader"
	"github.com/askdocs/askdocs/engine/knowledge/vectordb"
	"github.com/askdocs/askdocs/pkg/logger"
)

var (
	// ErrNotFound is returned when the named document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidFilename is returned for names that could escape the
	// document directory or are otherwise unusable.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrTooManyDocuments is returned when adding a document would exceed
	// the configured limit.
	ErrTooManyDocuments = errors.New("document limit reached")
)

const maxFilenameLength = 255

const tempPrefix = ".tmp-"

// Info describes a stored document.
type Info struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// AddResult reports the outcome of an upload.
type AddResult struct {
	Filename string
	Chunks   int
	// Indexed is false when the file was stored but vector indexing
	// failed. The document is re-indexed on the next rebuild.
	Indexed bool
}

// Config holds document manager settings.
type Config struct {
	Dir          string
	MaxDocuments int
}

// Manager owns the uploaded document set.
type Manager struct {
	dir     string
	maxDocs int
	chunker *chunk.Processor
	indexer *indexer.Service
	store   vectordb.Store

	mu        sync.RWMutex
	fileLocks map[string]*sync.Mutex
	pending   map[string]struct{}
}

// New constructs a manager and creates the document directory if needed.
func New(cfg Config, chunker *chunk.Processor, idx *indexer.Service, store vectordb.Store) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("document directory is required")
	}
	if cfg.MaxDocuments <= 0 {
		return nil, fmt.Errorf("document limit must be greater than zero")
	}
	if chunker == nil || idx == nil || store == nil {
		return nil, fmt.Errorf("document manager requires a chunker, an indexer and a store")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory %q: %w", cfg.Dir, err)
	}
	return &Manager{
		dir:       cfg.Dir,
		maxDocs:   cfg.MaxDocuments,
		chunker:   chunker,
		indexer:   idx,
		store:     store,
		fileLocks: make(map[string]*sync.Mutex),
		pending:   make(map[string]struct{}),
	}, nil
}

// SanitizeFilename validates a user-supplied filename. It never rewrites
// the name: anything that could escape the document directory is
// rejected outright.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidFilename
	}
	if len(name) > maxFilenameLength {
		return "", ErrInvalidFilename
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", ErrInvalidFilename
	}
	if strings.HasPrefix(name, ".") {
		return "", ErrInvalidFilename
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrInvalidFilename
		}
	}
	return name, nil
}

// Add stores the document and indexes its content. A document with the
// same name is replaced. When indexing fails the file is kept, the
// document is marked for re-indexing, and the result reports
// Indexed=false rather than failing the upload.
func (m *Manager) Add(ctx context.Context, filename string, data []byte) (*AddResult, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	// Parse before touching disk so unsupported or corrupt uploads leave
	// no trace.
	docs, err := loader.Load(name, data)
	if err != nil {
		return nil, err
	}
	unlock := m.lockFile(name)
	defer unlock()
	if err := m.checkLimit(name); err != nil {
		return nil, err
	}
	if err := m.writeFile(name, data); err != nil {
		return nil, err
	}
	chunks, err := m.chunker.Process(docs)
	if err != nil {
		return nil, fmt.Errorf("chunk %q: %w", name, err)
	}
	indexed, err := m.indexer.Index(ctx, name, chunks)
	if err != nil {
		logger.FromContext(ctx).Warn("document stored but indexing failed, queued for rebuild",
			"filename", name, "error", err)
		m.setPending(name, true)
		return &AddResult{Filename: name, Chunks: len(chunks), Indexed: false}, nil
	}
	m.setPending(name, false)
	return &AddResult{Filename: name, Chunks: indexed, Indexed: true}, nil
}

// Remove deletes the document file and its vector entries.
func (m *Manager) Remove(ctx context.Context, filename string) error {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return err
	}
	unlock := m.lockFile(name)
	defer unlock()
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("stat %q: %w", name, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	m.setPending(name, false)
	if err := m.indexer.Remove(ctx, name); err != nil {
		return fmt.Errorf("remove vectors for %q: %w", name, err)
	}
	return nil
}

// List returns the stored documents sorted by filename.
func (m *Manager) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read document directory: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Filename: entry.Name(), Size: fi.Size()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Filename < infos[j].Filename })
	return infos, nil
}

// Read returns the document's raw bytes and content type.
func (m *Manager) Read(_ context.Context, filename string) ([]byte, string, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, "", fmt.Errorf("read %q: %w", name, err)
	}
	return data, loader.ContentType(name), nil
}

// Sync prepares the vector collection at startup. When the collection had
// to be created, or documents are queued from failed index attempts, the
// whole document set is re-indexed from disk.
func (m *Manager) Sync(ctx context.Context) error {
	created, err := m.store.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if created {
		logger.FromContext(ctx).Info("vector collection created, rebuilding index from documents")
		return m.RebuildAll(ctx)
	}
	if m.pendingCount() > 0 {
		return m.RebuildAll(ctx)
	}
	return nil
}

// RebuildAll re-indexes every stored document and prunes vector entries
// for documents that no longer exist. Queries keep working against the
// old entries for each document until it is replaced.
func (m *Manager) RebuildAll(ctx context.Context) error {
	infos, err := m.List(ctx)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	var errs []error
	keep := make([]string, 0, len(infos))
	for _, info := range infos {
		keep = append(keep, info.Filename)
		if err := m.rebuildOne(ctx, info.Filename); err != nil {
			log.Error("failed to rebuild document index", "filename", info.Filename, "error", err)
			errs = append(errs, fmt.Errorf("rebuild %q: %w", info.Filename, err))
			m.setPending(info.Filename, true)
			continue
		}
		m.setPending(info.Filename, false)
	}
	if len(keep) > 0 {
		if err := m.indexer.Prune(ctx, keep); err != nil {
			errs = append(errs, fmt.Errorf("prune orphaned vectors: %w", err))
		}
	} else {
		// No documents on disk: every remaining vector entry is orphaned.
		if err := m.indexer.RemoveAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear orphaned vectors: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) rebuildOne(ctx context.Context, name string) error {
	unlock := m.lockFile(name)
	defer unlock()
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return err
	}
	docs, err := loader.Load(name, data)
	if err != nil {
		return err
	}
	chunks, err := m.chunker.Process(docs)
	if err != nil {
		return err
	}
	_, err = m.indexer.Index(ctx, name, chunks)
	return err
}

// PendingCount reports how many documents are stored but not indexed.
func (m *Manager) PendingCount() int {
	return m.pendingCount()
}

func (m *Manager) pendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *Manager) setPending(name string, pending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pending {
		m.pending[name] = struct{}{}
	} else {
		delete(m.pending, name)
	}
}

// lockFile serializes operations on a single document so concurrent
// uploads of the same name cannot interleave disk and vector writes.
func (m *Manager) lockFile(name string) func() {
	m.mu.Lock()
	lock, ok := m.fileLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.fileLocks[name] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (m *Manager) checkLimit(name string) error {
	if _, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
		// Replacing an existing document never changes the count.
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read document directory: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		count++
	}
	if count >= m.maxDocs {
		return fmt.Errorf("%w: maximum of %d documents", ErrTooManyDocuments, m.maxDocs)
	}
	return nil
}

func (m *Manager) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(m.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %q: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store %q: %w", name, err)
	}
	return nil
}
