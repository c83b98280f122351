package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQdrantEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/project_demo/exists":
			fmt.Fprint(w, `{"result":{"exists":false}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/project_demo":
			var body struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Vectors.Size != 384 || body.Vectors.Distance != "Cosine" {
				t.Errorf("unexpected collection config: %+v", body)
			}
			created = true
			fmt.Fprint(w, `{"result":true}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL)
	if err := q.EnsureCollection(context.Background(), "project_demo", Dim); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatalf("collection was not created")
	}
}

func TestQdrantSearchWithFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/project_demo/points/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["with_payload"] != true {
			t.Errorf("with_payload not set")
		}
		if _, ok := body["filter"]; !ok {
			t.Errorf("filter missing")
		}
		fmt.Fprint(w, `{"result":[{"id":"p1","score":0.93,"payload":{"filePath":"src/App.jsx","snippet":"x","chunkIndex":0}}]}`)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL)
	got, err := q.Search(context.Background(), "project_demo", []float32{0.1}, 1, &Filter{Key: "filePath", Value: "src/App.jsx"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" || got[0].Payload["filePath"] != "src/App.jsx" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestMemoryUpsertOverwritesByID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.EnsureCollection(ctx, "c", 2)
	_ = m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{1, 0}}})
	_ = m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{0, 1}}})
	if m.PointCount("c") != 1 {
		t.Fatalf("expected overwrite, got %d points", m.PointCount("c"))
	}
}

func TestMemorySearchRanksByCosine(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.EnsureCollection(ctx, "c", 2)
	_ = m.Upsert(ctx, "c", []Point{
		{ID: "near", Vector: []float32{1, 0.1}},
		{ID: "far", Vector: []float32{-1, 0}},
	})
	got, err := m.Search(ctx, "c", []float32{1, 0}, 1, nil)
	if err != nil || len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("got %+v err %v", got, err)
	}
}
