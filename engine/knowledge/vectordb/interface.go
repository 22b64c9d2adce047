// Package vectordb defines the vector store contract used by indexing and
// retrieval, plus the supported backends.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider selects a vector store backend.
type Provider string

const (
	ProviderQdrant Provider = "qdrant"
	ProviderMemory Provider = "memory"
)

// Metric names the similarity function used by the collection.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricL2     Metric = "euclidean"
)

// Record is a single stored vector with its payload.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Match is a search hit.
type Match struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]any
}

// Filter restricts which records an operation touches. Zero value matches
// everything.
type Filter struct {
	// IDs limits the operation to the given point IDs.
	IDs []string
	// Metadata requires exact matches on every listed payload key.
	Metadata map[string]string
	// NotIn excludes records whose payload key holds any of the listed
	// values.
	NotIn map[string][]string
	// GTE requires the payload key to hold a numeric value greater than
	// or equal to the bound.
	GTE map[string]int
}

// IsZero reports whether the filter matches everything.
func (f *Filter) IsZero() bool {
	return f == nil || (len(f.IDs) == 0 && len(f.Metadata) == 0 && len(f.NotIn) == 0 && len(f.GTE) == 0)
}

// SearchOptions tune a similarity search.
type SearchOptions struct {
	TopK     int
	MinScore float32
	Filters  map[string]string
}

// Store is the backend contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Ensure creates the collection if missing and reports whether it was
	// created by this call.
	Ensure(ctx context.Context) (created bool, err error)
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	Count(ctx context.Context, filter Filter) (int, error)
	// Drop removes the whole collection. A later Ensure recreates it.
	Drop(ctx context.Context) error
	Close() error
}

// Config describes a vector store backend.
type Config struct {
	Provider   Provider
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Metric     Metric
	Timeout    time.Duration
}

var (
	errMissingCollection = errors.New("vectordb collection is required")
	errInvalidDimension  = errors.New("vectordb dimension must be greater than zero")
)

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vectordb config is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return errMissingCollection
	}
	if cfg.Dimension <= 0 {
		return errInvalidDimension
	}
	switch cfg.Metric {
	case "", MetricCosine, MetricDot, MetricL2:
	default:
		return fmt.Errorf("vectordb metric %q is not supported", cfg.Metric)
	}
	return nil
}

// New constructs the backend named by the config.
func New(cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderQdrant:
		return newQdrantStore(cfg)
	case ProviderMemory:
		return newMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("vectordb provider %q is not supported", cfg.Provider)
	}
}
