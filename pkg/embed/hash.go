package embed

import (
	"context"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hash is an offline embedder that derives vectors from xxhash seeds. Texts
// embed as the sum of their lowercased word vectors, so queries sharing words
// land near each other; images embed from a hash of their bytes. There is no
// semantic link between the two, which makes it useful for local runs and
// tests only.
type Hash struct {
	Dim int
}

// NewHash returns a Hash embedder producing dim-sized vectors.
func NewHash(dim int) Hash { return Hash{Dim: dim} }

// EmbedText implements TextEmbedder.
func (h Hash) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, h.Dim)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		fill(out, xxhash.Sum64String("t:"+w))
	}
	return checkVector("hash text", out)
}

// EmbedImage implements ImageEmbedder.
func (h Hash) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, h.Dim)
	d := xxhash.New()
	_, _ = d.WriteString("i:")
	_, _ = d.Write(image)
	fill(out, d.Sum64())
	return checkVector("hash image", out)
}

// Check implements Checker; the hash embedder is always ready.
func (Hash) Check(context.Context) error { return nil }

// fill adds a splitmix64 stream seeded with seed to dst, with each
// component in [-1, 1).
func fill(dst []float32, seed uint64) {
	state := seed
	for i := range dst {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		dst[i] += float32(float64(z>>11)/float64(1<<53)*2 - 1)
	}
}
