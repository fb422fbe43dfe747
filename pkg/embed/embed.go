// Package embed defines the embedding collaborator used to place text and
// images in a shared vector space, and provides the backends that speak to
// an external model worker.
//
// Backends return vectors as produced by the model. Callers normalize.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/imagesearch/pkg/vecmath"
)

var (
	// ErrNonFinite is returned when a backend produces NaN or Inf values.
	ErrNonFinite = errors.New("embed: non-finite values in embedding")
	// ErrEmpty is returned when a backend produces a zero-length embedding.
	ErrEmpty = errors.New("embed: empty embedding")
)

// TextEmbedder embeds a text query.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedder embeds encoded image bytes.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// Embedder embeds both text and images into the same space.
type Embedder interface {
	TextEmbedder
	ImageEmbedder
}

// Checker reports whether a backend is ready to serve.
type Checker interface {
	Check(ctx context.Context) error
}

func checkVector(op string, v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("embed: %s: %w", op, ErrEmpty)
	}
	if !vecmath.Finite(v) {
		return nil, fmt.Errorf("embed: %s: %w", op, ErrNonFinite)
	}
	return v, nil
}

func fromFloat64(vals []float64) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out
}
