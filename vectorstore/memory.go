package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps indices in process memory and ranks by cosine similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	indices map[string]*memoryIndex
}

type memoryIndex struct {
	spec    IndexSpec
	records []Record
	byChunk map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[string]*memoryIndex)}
}

func (s *MemoryStore) Register(_ context.Context, spec IndexSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("index id is required")
	}
	if spec.Dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", spec.Dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.indices[spec.ID]; ok {
		if !sameParameters(existing.spec, spec) {
			return fmt.Errorf("%w: %s registered with size=%d overlap=%d dim=%d", ErrIndexMismatch,
				spec.ID, existing.spec.ChunkSize, existing.spec.ChunkOverlap, existing.spec.Dimension)
		}
		return nil
	}

	s.indices[spec.ID] = &memoryIndex{spec: spec, byChunk: make(map[string]int)}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, indexID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[indexID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}

	for _, rec := range records {
		if len(rec.Vector) != idx.spec.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, idx.spec.Dimension, len(rec.Vector))
		}
	}

	for _, rec := range records {
		rec.Vector = append([]float32(nil), rec.Vector...)
		if pos, ok := idx.byChunk[rec.ChunkID]; ok {
			idx.records[pos] = rec
			continue
		}
		idx.byChunk[rec.ChunkID] = len(idx.records)
		idx.records = append(idx.records, rec)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, indexID string, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 4
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[indexID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	if len(vector) != idx.spec.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, idx.spec.Dimension, len(vector))
	}

	matches := make([]Match, len(idx.records))
	for i := range idx.records {
		matches[i] = Match{Record: idx.records[i], Score: cosine(idx.records[i].Vector, vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

func (s *MemoryStore) Count(_ context.Context, indexID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[indexID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	return len(idx.records), nil
}

func (s *MemoryStore) Drop(_ context.Context, indexID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indices, indexID)
	return nil
}

var _ Store = (*MemoryStore)(nil)

func cosine(a, b []float32) float64 {
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
