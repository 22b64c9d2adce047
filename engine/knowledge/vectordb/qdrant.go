package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const payloadTextKey = "text"

// qdrantStore talks to Qdrant over its HTTP API.
type qdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	metric     Metric
	client     *http.Client
}

func newQdrantStore(cfg *Config) (*qdrantStore, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		return nil, fmt.Errorf("qdrant store requires a URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("qdrant url %q: %w", base, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	metric := cfg.Metric
	if metric == "" {
		metric = MetricCosine
	}
	return &qdrantStore{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		metric:     metric,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (s *qdrantStore) distance() string {
	switch s.metric {
	case MetricDot:
		return "Dot"
	case MetricL2:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func (s *qdrantStore) doRequest(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("qdrant %s %s: encode request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("qdrant %s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Ensure creates the collection and its filename payload index when the
// collection does not exist yet.
func (s *qdrantStore) Ensure(ctx context.Context) (bool, error) {
	path := "/collections/" + url.PathEscape(s.collection)
	status, err := s.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return false, nil
	}
	if status != http.StatusNotFound {
		return false, err
	}
	create := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": s.distance(),
		},
	}
	if _, err := s.doRequest(ctx, http.MethodPut, path, create, nil); err != nil {
		return false, err
	}
	index := map[string]any{
		"field_name":   "filename",
		"field_schema": "keyword",
	}
	if _, err := s.doRequest(ctx, http.MethodPut, path+"/index", index, nil); err != nil {
		return false, fmt.Errorf("create filename index: %w", err)
	}
	return true, nil
}

func (s *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return fmt.Errorf("qdrant upsert: record %d has no ID", i)
		}
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("qdrant upsert: record %q has dimension %d, want %d",
				rec.ID, len(rec.Vector), s.dimension)
		}
		payload := make(map[string]any, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		payload[payloadTextKey] = rec.Text
		points = append(points, map[string]any{
			"id":      rec.ID,
			"vector":  rec.Vector,
			"payload": payload,
		})
	}
	path := "/collections/" + url.PathEscape(s.collection) + "/points?wait=true"
	_, err := s.doRequest(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
	return err
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (s *qdrantStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("qdrant search: vector dimension %d, want %d", len(vector), s.dimension)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("qdrant search: top_k must be greater than zero")
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        opts.TopK,
		"with_payload": true,
	}
	if opts.MinScore > 0 {
		body["score_threshold"] = opts.MinScore
	}
	if len(opts.Filters) > 0 {
		body["filter"] = buildQdrantFilter(Filter{Metadata: opts.Filters})
	}
	path := "/collections/" + url.PathEscape(s.collection) + "/points/search"
	var resp qdrantSearchResponse
	if _, err := s.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, hit := range resp.Result {
		text, _ := hit.Payload[payloadTextKey].(string)
		metadata := make(map[string]any, len(hit.Payload))
		for k, v := range hit.Payload {
			if k == payloadTextKey {
				continue
			}
			metadata[k] = v
		}
		matches = append(matches, Match{
			ID:       fmt.Sprintf("%v", hit.ID),
			Score:    hit.Score,
			Text:     text,
			Metadata: metadata,
		})
	}
	return matches, nil
}

func (s *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	path := "/collections/" + url.PathEscape(s.collection) + "/points/delete?wait=true"
	var body map[string]any
	switch {
	case len(filter.IDs) > 0:
		body = map[string]any{"points": filter.IDs}
	case !filter.IsZero():
		body = map[string]any{"filter": buildQdrantFilter(filter)}
	default:
		// An empty filter would wipe the collection. Require intent via
		// Drop-style recreation instead.
		return fmt.Errorf("qdrant delete: refusing to delete with an empty filter")
	}
	_, err := s.doRequest(ctx, http.MethodPost, path, body, nil)
	return err
}

type qdrantCountResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

func (s *qdrantStore) Count(ctx context.Context, filter Filter) (int, error) {
	body := map[string]any{"exact": true}
	if !filter.IsZero() {
		body["filter"] = buildQdrantFilter(filter)
	}
	path := "/collections/" + url.PathEscape(s.collection) + "/points/count"
	var resp qdrantCountResponse
	if _, err := s.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *qdrantStore) Drop(ctx context.Context) error {
	path := "/collections/" + url.PathEscape(s.collection)
	_, err := s.doRequest(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (s *qdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func buildQdrantFilter(filter Filter) map[string]any {
	out := make(map[string]any)
	var must []map[string]any
	if len(filter.IDs) > 0 {
		must = append(must, map[string]any{
			"has_id": filter.IDs,
		})
	}
	for _, key := range sortedKeys(filter.Metadata) {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": filter.Metadata[key]},
		})
	}
	for _, key := range sortedIntKeys(filter.GTE) {
		must = append(must, map[string]any{
			"key":   key,
			"range": map[string]any{"gte": filter.GTE[key]},
		})
	}
	if len(must) > 0 {
		out["must"] = must
	}
	var mustNot []map[string]any
	for _, key := range sortedStringSliceKeys(filter.NotIn) {
		mustNot = append(mustNot, map[string]any{
			"key":   key,
			"match": map[string]any{"any": filter.NotIn[key]},
		})
	}
	if len(mustNot) > 0 {
		out["must_not"] = mustNot
	}
	return out
}
