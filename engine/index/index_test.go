package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/vecstore"
	"github.com/WessleyAI/imagesearch/pkg/vecmath"
)

func buildIndex(t testing.TB, dim int, ids []domain.ImageID, vecs [][]float32) *Index {
	t.Helper()
	s, err := vecstore.New(dim)
	require.NoError(t, err)
	for i, v := range vecs {
		_, err := s.Add(ids[i], v)
		require.NoError(t, err)
	}
	ix, err := Build(s)
	require.NoError(t, err)
	return ix
}

func randomCorpus(rng *rand.Rand, n, dim int) ([]domain.ImageID, [][]float32) {
	ids := make([]domain.ImageID, n)
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecmath.NormalizeInPlace(v)
		vecs[i] = v
		ids[i] = domain.ImageID(i*3 + 100)
	}
	return ids, vecs
}

func TestSearchScenario(t *testing.T) {
	ix := buildIndex(t, 2,
		[]domain.ImageID{1, 2, 3},
		[][]float32{{1, 0}, {0, 1}, {0.707, 0.707}},
	)

	res, err := ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, domain.ImageID(1), res[0].ID)
	assert.Equal(t, 0, res[0].Ordinal)
	assert.InDelta(t, 0.0, res[0].Distance, 1e-6)

	assert.Equal(t, domain.ImageID(3), res[1].ID)
	assert.Equal(t, 2, res[1].Ordinal)
	assert.InDelta(t, 0.586, res[1].Distance, 1e-3)
}

func TestSearchTieBreakBySmallerOrdinal(t *testing.T) {
	// Ordinals 1 and 3 are equidistant from the query, as are 0 and 2.
	ix := buildIndex(t, 2,
		[]domain.ImageID{40, 30, 20, 10},
		[][]float32{{0, 1}, {1, 0}, {0, 1}, {1, 0}},
	)

	for _, k := range []int{1, 2, 3, 4} {
		res, err := ix.Search([]float32{1, 0}, k)
		require.NoError(t, err)
		want := []int{1, 3, 0, 2}[:k]
		got := make([]int, len(res))
		for i, r := range res {
			got[i] = r.Ordinal
		}
		assert.Equal(t, want, got, "k=%d", k)
	}
}

func TestSearchCardinality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ids, vecs := randomCorpus(rng, 7, 4)
	ix := buildIndex(t, 4, ids, vecs)
	q := vecs[2]

	for _, k := range []int{-5, -1, 0, 1, 3, 7, 8, 100} {
		res, err := ix.Search(q, k)
		require.NoError(t, err)
		want := k
		if want < 0 {
			want = 0
		}
		if want > 7 {
			want = 7
		}
		assert.Len(t, res, want, "k=%d", k)
		assert.NotNil(t, res)
	}
}

func TestSearchMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids, vecs := randomCorpus(rng, 500, 16)
	ix := buildIndex(t, 16, ids, vecs)

	for trial := 0; trial < 20; trial++ {
		q := make([]float32, 16)
		for j := range q {
			q[j] = rng.Float32()*2 - 1
		}
		vecmath.NormalizeInPlace(q)

		type pair struct {
			ord int
			d   float32
		}
		all := make([]pair, len(vecs))
		for i, v := range vecs {
			all[i] = pair{i, vecmath.SquaredL2(q, v)}
		}
		sort.SliceStable(all, func(a, b int) bool { return all[a].d < all[b].d })

		k := 1 + rng.Intn(50)
		res, err := ix.Search(q, k)
		require.NoError(t, err)
		require.Len(t, res, k)
		for i := range res {
			assert.Equal(t, all[i].ord, res[i].Ordinal)
			assert.Equal(t, all[i].d, res[i].Distance)
			assert.Equal(t, ids[all[i].ord], res[i].ID)
		}
	}
}

func TestSearchOrderingAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids, vecs := randomCorpus(rng, 200, 8)
	ix := buildIndex(t, 8, ids, vecs)
	q := vecs[17]

	first, err := ix.Search(q, 25)
	require.NoError(t, err)
	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, first[i-1].Distance, first[i].Distance)
	}
	for i := 0; i < 5; i++ {
		again, err := ix.Search(q, 25)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchSelfMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ids, vecs := randomCorpus(rng, 50, 32)
	ix := buildIndex(t, 32, ids, vecs)

	for i, v := range vecs {
		res, err := ix.Search(v, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.InDelta(t, 0.0, res[0].Distance, 1e-6)
		assert.Equal(t, i, res[0].Ordinal)
		assert.Equal(t, ids[i], res[0].ID)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := buildIndex(t, 2, []domain.ImageID{1}, [][]float32{{1, 0}})
	_, err := ix.Search([]float32{1, 0, 0}, 1)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	var dm *domain.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestSearchNonFiniteQuery(t *testing.T) {
	ix := buildIndex(t, 2, []domain.ImageID{1}, [][]float32{{1, 0}})
	_, err := ix.Search([]float32{float32(math.NaN()), 0}, 1)
	require.ErrorIs(t, err, ErrNonFiniteQuery)
}

func TestBuildEmptyCorpus(t *testing.T) {
	s, err := vecstore.New(2)
	require.NoError(t, err)
	_, err = Build(s)
	require.ErrorIs(t, err, domain.ErrEmptyCorpus)

	_, err = Build(nil)
	require.ErrorIs(t, err, domain.ErrEmptyCorpus)
}

func TestBuildSealsStore(t *testing.T) {
	s, _ := vecstore.New(1)
	_, _ = s.Add(1, []float32{1})
	ix, err := Build(s)
	require.NoError(t, err)
	assert.True(t, s.Sealed())
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 1, ix.Dim())

	_, err = s.Add(2, []float32{1})
	require.ErrorIs(t, err, domain.ErrImmutableStore)

	res, err := ix.Search([]float32{1}, 5)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestUnbuiltIndex(t *testing.T) {
	var nilIx *Index
	_, err := nilIx.Search([]float32{1}, 1)
	require.ErrorIs(t, err, domain.ErrNotBuilt)
	assert.Equal(t, 0, nilIx.Len())
	assert.Nil(t, nilIx.IDs())

	var zero Index
	_, err = zero.Search([]float32{1}, 1)
	require.ErrorIs(t, err, domain.ErrNotBuilt)
	_, err = zero.Record(0)
	require.ErrorIs(t, err, domain.ErrNotBuilt)
}

func TestRecordAndIDs(t *testing.T) {
	ix := buildIndex(t, 2, []domain.ImageID{5, 9}, [][]float32{{1, 0}, {0, 1}})
	rec, err := ix.Record(1)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageID(9), rec.ID)
	assert.Equal(t, []float32{0, 1}, rec.Vector)
	assert.Equal(t, []domain.ImageID{5, 9}, ix.IDs())

	_, err = ix.Record(2)
	assert.Error(t, err)
}

func TestConcurrentSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ids, vecs := randomCorpus(rng, 300, 16)
	ix := buildIndex(t, 16, ids, vecs)

	want, err := ix.Search(vecs[0], 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				got, err := ix.Search(vecs[0], 10)
				if err != nil {
					errs <- err.Error()
					return
				}
				for j := range want {
					if got[j] != want[j] {
						errs <- "concurrent result diverged"
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func BenchmarkSearch(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	ids, vecs := randomCorpus(rng, 10000, domain.ReferenceDimension)
	ix := buildIndex(b, domain.ReferenceDimension, ids, vecs)
	q := vecs[123]

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.Search(q, 6); err != nil {
			b.Fatal(err)
		}
	}
}
