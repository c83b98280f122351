package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Qdrant talks to a Qdrant instance over its REST API.
type Qdrant struct {
	baseURL string
	http    *http.Client
}

func NewQdrantFromEnv() *Qdrant {
	base := os.Getenv("WEBFORGE_QDRANT_URL")
	if base == "" {
		base = "http://localhost:6333"
	}
	return NewQdrant(base)
}

func NewQdrant(baseURL string) *Qdrant {
	return &Qdrant{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

func (q *Qdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	var out struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name)+"/exists", nil, &out); err != nil {
		return false, err
	}
	return out.Result.Exists, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := q.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil)
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	return q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body, nil)
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Scored, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": filter.Key, "match": map[string]any{"value": filter.Value}},
			},
		}
	}
	var out struct {
		Result []Scored `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	return q.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil)
}

func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s: http %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
