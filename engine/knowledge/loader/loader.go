// Package loader reads uploaded documents and turns them into page-level
// documents ready for chunking. Text files yield a single document; PDFs
// yield one document per page so citations can point at the right page.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/askdocs/askdocs/engine/knowledge/chunk"
)

var (
	// ErrUnsupportedFormat reports a file type the loader cannot extract
	// text from.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrCorruptDocument reports content the loader recognized but could
	// not extract, e.g. a malformed PDF.
	ErrCorruptDocument = errors.New("corrupt document")
)

var textExtensions = map[string]string{
	".txt":      "text/plain; charset=utf-8",
	".text":     "text/plain; charset=utf-8",
	".md":       "text/markdown; charset=utf-8",
	".markdown": "text/markdown; charset=utf-8",
}

// Load extracts the text of a document as a sequence of page documents.
// It never returns partial results: a single unreadable page fails the
// whole document, since a partially-indexed document is worse than none.
func Load(filename string, data []byte) ([]chunk.Document, error) {
	switch kind(filename, data) {
	case kindPDF:
		return loadPDF(filename, data)
	case kindText:
		return loadText(filename, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// Supported reports whether the filename has a loadable extension. Used to
// reject uploads before anything touches disk.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return true
	}
	_, ok := textExtensions[ext]
	return ok
}

// ContentType returns the MIME type used when serving the document back.
func ContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return "application/pdf"
	}
	if ct, ok := textExtensions[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsBinary reports whether the document is served as raw bytes rather than
// inline text.
func IsBinary(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

type docKind int

const (
	kindUnknown docKind = iota
	kindText
	kindPDF
)

func kind(filename string, data []byte) docKind {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return kindPDF
	}
	if _, ok := textExtensions[ext]; ok {
		return kindText
	}
	detected := mimetype.Detect(data)
	switch {
	case detected.Is("application/pdf"):
		return kindPDF
	case strings.HasPrefix(detected.String(), "text/"):
		return kindText
	default:
		return kindUnknown
	}
}

func loadText(filename string, data []byte) ([]chunk.Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid utf-8", ErrCorruptDocument, filename)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []chunk.Document{{Filename: filename, Text: text}}, nil
}

func loadPDF(filename string, data []byte) (docs []chunk.Document, err error) {
	// The pdf library panics on some malformed inputs instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("%w: %s: %v", ErrCorruptDocument, filename, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, filename, err)
	}
	total := reader.NumPage()
	docs = make([]chunk.Document, 0, total)
	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %v", ErrCorruptDocument, filename, num, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		docs = append(docs, chunk.Document{Filename: filename, Page: num, Text: text})
	}
	return docs, nil
}
