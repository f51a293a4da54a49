// Package memory implements vectorstore.Store in process memory. It backs
// local development and tests, ranking by cosine similarity with ties broken
// by insertion order.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
)

type partition struct {
	order   []string // insertion order, for stable ranking
	vectors map[string]vectorstore.Vector
}

// Store is an in-memory vector index.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

var _ vectorstore.Store = (*Store)(nil)

// New returns an empty in-memory index.
func New() *Store {
	return &Store{partitions: map[string]*partition{}}
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, namespace string, vectors []vectorstore.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[namespace]
	if !ok {
		p = &partition{vectors: map[string]vectorstore.Vector{}}
		s.partitions[namespace] = p
	}

	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("vector without ID")
		}
		if _, exists := p.vectors[v.ID]; !exists {
			p.order = append(p.order, v.ID)
		}
		v.Values = slices.Clone(v.Values)
		p.vectors[v.ID] = v
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(_ context.Context, namespace string, q vectorstore.Query) ([]vectorstore.Match, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", q.TopK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[namespace]
	if !ok {
		return []vectorstore.Match{}, nil
	}

	matches := make([]vectorstore.Match, 0, len(p.order))
	for _, id := range p.order {
		v := p.vectors[id]
		if !q.Filter.Matches(v.Metadata) {
			continue
		}
		score, err := cosine(q.Vector, v.Values)
		if err != nil {
			return nil, fmt.Errorf("scoring vector %s: %w", id, err)
		}
		matches = append(matches, vectorstore.Match{ID: id, Score: score, Metadata: v.Metadata})
	}

	slices.SortStableFunc(matches, func(a, b vectorstore.Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(_ context.Context, namespace string, ids []string, f vectorstore.Filter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[namespace]
	if !ok {
		return 0, nil
	}

	deleted := 0
	for _, id := range ids {
		v, ok := p.vectors[id]
		if !ok || !f.Matches(v.Metadata) {
			continue
		}
		delete(p.vectors, id)
		deleted++
	}
	if deleted > 0 {
		p.order = slices.DeleteFunc(p.order, func(id string) bool {
			_, ok := p.vectors[id]
			return !ok
		})
	}
	return deleted, nil
}

// Health implements vectorstore.Store.
func (s *Store) Health(context.Context) error { return nil }

// Stats implements vectorstore.Store. The dimension is the length of any
// stored vector.
func (s *Store) Stats(_ context.Context, namespace string) (*vectorstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &vectorstore.Stats{Namespace: namespace}
	for name, p := range s.partitions {
		if namespace != "" && name != namespace {
			continue
		}
		stats.VectorCount += int64(len(p.vectors))
		for _, v := range p.vectors {
			stats.Dimension = len(v.Values)
			break
		}
	}
	return stats, nil
}

// Close implements vectorstore.Store.
func (s *Store) Close() error { return nil }

// Len returns the number of vectors stored in a namespace.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.partitions[namespace]; ok {
		return len(p.order)
	}
	return 0
}

// Get returns a copy of a stored vector.
func (s *Store) Get(namespace, id string) (vectorstore.Vector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[namespace]
	if !ok {
		return vectorstore.Vector{}, false
	}
	v, ok := p.vectors[id]
	if !ok {
		return vectorstore.Vector{}, false
	}
	v.Values = slices.Clone(v.Values)
	return v, true
}

func cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}
