// Package vecstore holds the ordered (id, vector) corpus the index is built
// from. A Store is append-only until Seal and read-only afterwards.
package vecstore

import (
	"fmt"
	"sync/atomic"

	"github.com/WessleyAI/imagesearch/engine/domain"
)

// VectorRecord is one entry of the corpus. Vector aliases the store's
// buffer and must not be modified.
type VectorRecord struct {
	ID     domain.ImageID `json:"id"`
	Vector []float32      `json:"vector"`
}

// Store keeps every vector in a single contiguous row-major buffer so the
// index can scan it without pointer chasing. Ordinal i occupies
// data[i*dim:(i+1)*dim].
type Store struct {
	dim    int
	ids    []domain.ImageID
	data   []float32
	sealed atomic.Bool
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vecstore: dimension must be positive, got %d", dim)
	}
	return &Store{dim: dim}, nil
}

// WithCapacity creates a store and pre-allocates room for n records.
func WithCapacity(dim, n int) (*Store, error) {
	s, err := New(dim)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.ids = make([]domain.ImageID, 0, n)
		s.data = make([]float32, 0, n*dim)
	}
	return s, nil
}

// Add appends a record and returns its ordinal. The vector is copied.
// Not safe for concurrent use; the builder is the only writer.
func (s *Store) Add(id domain.ImageID, vector []float32) (int, error) {
	if s.sealed.Load() {
		return -1, fmt.Errorf("vecstore: add id %d: %w", id, domain.ErrImmutableStore)
	}
	if err := domain.CheckDim(vector, s.dim); err != nil {
		return -1, fmt.Errorf("vecstore: add id %d: %w", id, err)
	}
	s.ids = append(s.ids, id)
	s.data = append(s.data, vector...)
	return len(s.ids) - 1, nil
}

// Seal freezes the store. Further Add calls fail with ErrImmutableStore.
// Sealing twice is a no-op.
func (s *Store) Seal() {
	s.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (s *Store) Sealed() bool { return s.sealed.Load() }

// Size returns the number of records.
func (s *Store) Size() int { return len(s.ids) }

// Dim returns the vector dimension.
func (s *Store) Dim() int { return s.dim }

// Get returns the record at ordinal i.
func (s *Store) Get(i int) (VectorRecord, error) {
	if i < 0 || i >= len(s.ids) {
		return VectorRecord{}, fmt.Errorf("vecstore: ordinal %d out of range [0,%d)", i, len(s.ids))
	}
	return VectorRecord{ID: s.ids[i], Vector: s.vector(i)}, nil
}

// ID returns the image id at ordinal i. Caller checks bounds.
func (s *Store) ID(i int) domain.ImageID { return s.ids[i] }

// IDs returns the ids in ordinal order. The slice aliases the store.
func (s *Store) IDs() []domain.ImageID { return s.ids[:len(s.ids):len(s.ids)] }

// Data returns the raw contiguous buffer of all vectors, len Size()*Dim().
// The slice aliases the store and must be treated as read-only.
func (s *Store) Data() []float32 { return s.data[:len(s.data):len(s.data)] }

func (s *Store) vector(i int) []float32 {
	off := i * s.dim
	return s.data[off : off+s.dim : off+s.dim]
}
