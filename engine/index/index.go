// Package index implements exact (brute-force) k-nearest-neighbor search by
// squared Euclidean distance over a sealed vecstore.Store.
//
// An Index is immutable once built and safe for any number of concurrent
// Search calls without locking.
package index

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/vecstore"
	"github.com/WessleyAI/imagesearch/pkg/vecmath"
)

// ErrNonFiniteQuery is returned when a query vector contains NaN or Inf.
var ErrNonFiniteQuery = errors.New("index: query contains non-finite values")

// Result is one search hit.
type Result struct {
	Ordinal  int            `json:"index"`
	ID       domain.ImageID `json:"image_id"`
	Distance float32        `json:"score"`
}

// Index answers k-NN queries against the vectors of one store.
type Index struct {
	store *vecstore.Store
	data  []float32
	dim   int
	n     int
}

// Build seals the store and creates an index over it. The store's buffer is
// referenced, not copied. Fails with ErrEmptyCorpus if the store is empty.
func Build(s *vecstore.Store) (*Index, error) {
	if s == nil {
		return nil, fmt.Errorf("index: build: nil store: %w", domain.ErrEmptyCorpus)
	}
	if s.Size() == 0 {
		return nil, fmt.Errorf("index: build: %w", domain.ErrEmptyCorpus)
	}
	s.Seal()
	return &Index{
		store: s,
		data:  s.Data(),
		dim:   s.Dim(),
		n:     s.Size(),
	}, nil
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.n
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int {
	if ix == nil {
		return 0
	}
	return ix.dim
}

// Record returns the record at ordinal i.
func (ix *Index) Record(i int) (vecstore.VectorRecord, error) {
	if !ix.built() {
		return vecstore.VectorRecord{}, domain.ErrNotBuilt
	}
	return ix.store.Get(i)
}

// IDs returns every image id in ordinal order.
func (ix *Index) IDs() []domain.ImageID {
	if !ix.built() {
		return nil
	}
	return ix.store.IDs()
}

func (ix *Index) built() bool { return ix != nil && ix.store != nil }

// Search returns the min(k, Len()) records nearest to query, ascending by
// squared L2 distance. Equal distances are ordered by ascending ordinal.
// k <= 0 yields an empty, non-nil slice.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if !ix.built() {
		return nil, domain.ErrNotBuilt
	}
	if err := domain.CheckDim(query, ix.dim); err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	if !vecmath.Finite(query) {
		return nil, ErrNonFiniteQuery
	}
	if k <= 0 {
		return []Result{}, nil
	}
	if k > ix.n {
		k = ix.n
	}

	top := make(candidates, 0, k)
	for ord := 0; ord < ix.n; ord++ {
		off := ord * ix.dim
		d := vecmath.SquaredL2(query, ix.data[off:off+ix.dim])
		if len(top) < k {
			heap.Push(&top, candidate{ordinal: ord, distance: d})
			continue
		}
		// Ordinals are visited ascending, so an equal distance never
		// displaces the current worst.
		if d < top[0].distance {
			top[0] = candidate{ordinal: ord, distance: d}
			heap.Fix(&top, 0)
		}
	}

	results := make([]Result, len(top))
	for i := len(top) - 1; i >= 0; i-- {
		c := heap.Pop(&top).(candidate)
		results[i] = Result{Ordinal: c.ordinal, ID: ix.store.ID(c.ordinal), Distance: c.distance}
	}
	return results, nil
}

type candidate struct {
	ordinal  int
	distance float32
}

// candidates is a max-heap: the root is the worst kept candidate, i.e. the
// largest distance, and among equal distances the largest ordinal.
type candidates []candidate

func (h candidates) Len() int { return len(h) }

func (h candidates) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance > h[j].distance
	}
	return h[i].ordinal > h[j].ordinal
}

func (h candidates) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidates) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidates) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
