package embed

import (
	"context"
	"time"

	"github.com/WessleyAI/imagesearch/pkg/resilience"
)

// Serialize returns an Embedder that admits one call at a time into e.
// Use it when the model behind e is not safe for concurrent use. A caller
// waiting for its turn gives up when its ctx is done.
func Serialize(e Embedder) Embedder {
	return &serialized{e: e, sem: make(chan struct{}, 1)}
}

type serialized struct {
	e   Embedder
	sem chan struct{}
}

func (s *serialized) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serialized) release() { <-s.sem }

func (s *serialized) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.e.EmbedText(ctx, text)
}

func (s *serialized) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.e.EmbedImage(ctx, image)
}

func (s *serialized) Check(ctx context.Context) error { return check(ctx, s.e) }

// WithBreaker routes every call to e through b. While b is open calls fail
// fast with resilience.ErrCircuitOpen.
func WithBreaker(e Embedder, b *resilience.Breaker) Embedder {
	return &guarded{e: e, b: b}
}

type guarded struct {
	e Embedder
	b *resilience.Breaker
}

func (g *guarded) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return resilience.CallValue(g.b, ctx, func(ctx context.Context) ([]float32, error) {
		return g.e.EmbedText(ctx, text)
	})
}

func (g *guarded) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	return resilience.CallValue(g.b, ctx, func(ctx context.Context) ([]float32, error) {
		return g.e.EmbedImage(ctx, image)
	})
}

// Check bypasses the breaker so readiness probes see the real backend.
func (g *guarded) Check(ctx context.Context) error { return check(ctx, g.e) }

// check delegates to v when it implements Checker and reports ready
// otherwise.
func check(ctx context.Context, v any) error {
	if c, ok := v.(Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// Check reports e's readiness, treating embedders without a Checker as ready.
func Check(ctx context.Context, e Embedder) error { return check(ctx, e) }

// WithTimeout bounds every call to e by d. d <= 0 returns e unchanged.
func WithTimeout(e Embedder, d time.Duration) Embedder {
	if d <= 0 {
		return e
	}
	return &timed{e: e, d: d}
}

type timed struct {
	e Embedder
	d time.Duration
}

func (t *timed) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.e.EmbedText(ctx, text)
}

func (t *timed) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.e.EmbedImage(ctx, image)
}

func (t *timed) Check(ctx context.Context) error { return check(ctx, t.e) }
