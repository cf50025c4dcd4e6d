package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and simulation runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Point)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, collection string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]Point)
	}
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collections[collection]
	if col == nil {
		col = make(map[string]Point)
		m.collections[collection] = col
	}
	for _, p := range points {
		col[p.ID] = clonePoint(p)
	}
	return nil
}

func (m *MemoryStore) Retrieve(_ context.Context, collection string, ids []string, withVector bool) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.collections[collection]
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		p, ok := col[id]
		if !ok {
			continue
		}
		cp := clonePoint(p)
		if !withVector {
			cp.Vector = nil
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryStore) Scroll(_ context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}

	ids := make([]string, 0, len(m.collections[collection]))
	for id, p := range m.collections[collection] {
		if matchesFilter(p, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if offset != "" {
		start = sort.SearchStrings(ids, offset)
	}

	out := make([]Point, 0, limit)
	var next string
	for i := start; i < len(ids); i++ {
		if len(out) == limit {
			next = ids[i]
			break
		}
		out = append(out, clonePoint(m.collections[collection][ids[i]]))
	}
	return out, next, nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, params QueryParams) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	var scored []ScoredPoint
	for _, p := range m.collections[collection] {
		if !matchesFilter(p, params.Filter) {
			continue
		}
		score := CosineSimilarity(params.Vector, p.Vector)
		if params.ScoreThreshold > 0 && score < params.ScoreThreshold {
			continue
		}
		cp := clonePoint(p)
		if !params.WithVector {
			cp.Vector = nil
		}
		scored = append(scored, ScoredPoint{Point: cp, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *MemoryStore) SetPayload(_ context.Context, collection string, ids []string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collections[collection]
	for _, id := range ids {
		p, ok := col[id]
		if !ok {
			continue
		}
		if p.Payload == nil {
			p.Payload = make(map[string]any)
		}
		for k, v := range payload {
			p.Payload[k] = v
		}
		col[id] = p
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collections[collection]
	for _, id := range ids {
		delete(col, id)
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection]), nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func clonePoint(p Point) Point {
	cp := Point{ID: p.ID}
	if p.Vector != nil {
		cp.Vector = append([]float64(nil), p.Vector...)
	}
	if p.Payload != nil {
		cp.Payload = make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}

func matchesFilter(p Point, f *Filter) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		v, ok := p.Payload[c.Key]
		if !ok {
			return false
		}
		if c.Match != nil {
			if !looseEqual(v, c.Match) {
				return false
			}
			continue
		}
		num, ok := asFloat(v)
		if !ok {
			return false
		}
		if c.GTE != nil && num < *c.GTE {
			return false
		}
		if c.LTE != nil && num > *c.LTE {
			return false
		}
	}
	return true
}

// looseEqual compares payload values the way JSON round-tripping would:
// all numbers collapse to float64.
func looseEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CosineSimilarity computes the cosine similarity of two vectors, 0 when
// either has zero norm or the dimensions differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
