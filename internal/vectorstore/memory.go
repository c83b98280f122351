package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store used by tests and local runs without Qdrant.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
	dims        map[string]int
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Point), dims: make(map[string]int)}
}

func (m *Memory) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *Memory) EnsureCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Point)
		m.dims[name] = dim
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for _, p := range points {
		col[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	out := make([]Scored, 0, len(col))
	for _, p := range col {
		if filter != nil {
			v, _ := p.Payload[filter.Key].(string)
			if v != filter.Value {
				continue
			}
		}
		out = append(out, Scored{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	delete(m.dims, name)
	return nil
}

// PointCount reports the number of points in a collection; test helper.
func (m *Memory) PointCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[name])
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
