// Package builder runs the one-shot startup pipeline that turns an image
// collection into a searchable index: enumerate, embed, normalize, store,
// index. Any failure aborts the whole build and no index is returned.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/index"
	"github.com/WessleyAI/imagesearch/engine/vecstore"
	"github.com/WessleyAI/imagesearch/pkg/embed"
	"github.com/WessleyAI/imagesearch/pkg/fn"
	"github.com/WessleyAI/imagesearch/pkg/vecmath"
)

// progressEvery controls how often embedding progress is logged.
const progressEvery = 100

// Options configures a Builder.
type Options struct {
	// Dim is the embedding dimension every image vector must have.
	Dim int
	// Workers bounds concurrent image embeddings. Values below 1 mean 1.
	Workers int
	// Rate caps image embeddings per second. Zero disables pacing.
	Rate float64
}

// BuildStats summarizes a finished build.
type BuildStats struct {
	Records  int           `json:"records"`
	Dim      int           `json:"dimension"`
	Duration time.Duration `json:"duration"`
}

// Builder builds an index from a Source with an image embedder.
type Builder struct {
	source   Source
	embedder embed.ImageEmbedder
	opts     Options
	logger   *slog.Logger
}

// New creates a Builder.
func New(source Source, embedder embed.ImageEmbedder, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Builder{source: source, embedder: embedder, opts: opts, logger: logger}
}

// Build runs the pipeline. On error the returned index is nil.
func (b *Builder) Build(ctx context.Context) (*index.Index, BuildStats, error) {
	start := time.Now()
	b.logger.Info("index build started", "workers", b.opts.Workers, "dim", b.opts.Dim)

	log := b.logger
	enumerated := logged(log, "enumerate", b.enumerate)
	withVectors := fn.Then(enumerated, logged(log, "embed", b.embed))
	normalized := fn.Then(withVectors, logged(log, "normalize", normalize))
	stored := fn.Then(normalized, logged(log, "store", b.store))
	pipeline := fn.Then(stored, logged(log, "index", buildIndex))

	ix, err := pipeline(ctx, b.source).Unwrap()
	if err != nil {
		b.logger.Error("index build failed", "err", err, "duration", time.Since(start))
		return nil, BuildStats{}, err
	}
	stats := BuildStats{Records: ix.Len(), Dim: ix.Dim(), Duration: time.Since(start)}
	b.logger.Info("index build finished", "records", stats.Records, "dim", stats.Dim, "duration", stats.Duration)
	return ix, stats, nil
}

// logged wraps stage with a span and enter/exit log lines.
func logged[In, Out any](log *slog.Logger, name string, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.TracedStage("build."+name, func(ctx context.Context, in In) fn.Result[Out] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start), "err", err)
		} else {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}
		return r
	})
}

type embedded struct {
	id     domain.ImageID
	vector []float32
}

func (b *Builder) enumerate(ctx context.Context, src Source) fn.Result[[]domain.ImageID] {
	ids, err := src.IDs(ctx)
	if err != nil {
		return fn.Err[[]domain.ImageID](err)
	}
	if len(ids) == 0 {
		return fn.Err[[]domain.ImageID](fmt.Errorf("builder: no images found: %w", domain.ErrEmptyCorpus))
	}
	b.logger.Info("images enumerated", "records", len(ids))
	return fn.Ok(ids)
}

// embed fetches one vector per id. Results are slotted by position so the
// output order is the enumeration order regardless of completion order.
func (b *Builder) embed(ctx context.Context, ids []domain.ImageID) fn.Result[[]embedded] {
	var limiter *rate.Limiter
	if b.opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.opts.Rate), 1)
	}

	out := make([]embedded, len(ids))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			data, err := b.source.Read(gctx, id)
			if err != nil {
				return err
			}
			v, err := b.embedder.EmbedImage(gctx, data)
			if err != nil {
				return fmt.Errorf("builder: embed %s: %w: %w", id.Filename(), domain.ErrEmbedding, err)
			}
			out[i] = embedded{id: id, vector: v}
			if n := done.Add(1); n%progressEvery == 0 {
				b.logger.Info("embedding progress", "done", n, "records", len(ids))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fn.Err[[]embedded](err)
	}
	if err := ctx.Err(); err != nil {
		return fn.Err[[]embedded](err)
	}
	return fn.Ok(out)
}

func normalize(_ context.Context, recs []embedded) fn.Result[[]embedded] {
	for _, r := range recs {
		if !vecmath.NormalizeInPlace(r.vector) {
			return fn.Err[[]embedded](fmt.Errorf("builder: normalize %s: %w", r.id.Filename(), domain.ErrZeroNorm))
		}
	}
	return fn.Ok(recs)
}

func (b *Builder) store(_ context.Context, recs []embedded) fn.Result[*vecstore.Store] {
	s, err := vecstore.WithCapacity(b.opts.Dim, len(recs))
	if err != nil {
		return fn.Err[*vecstore.Store](fmt.Errorf("builder: %w", err))
	}
	for _, r := range recs {
		if _, err := s.Add(r.id, r.vector); err != nil {
			return fn.Err[*vecstore.Store](fmt.Errorf("builder: store %s: %w", r.id.Filename(), err))
		}
	}
	return fn.Ok(s)
}

func buildIndex(_ context.Context, s *vecstore.Store) fn.Result[*index.Index] {
	return fn.FromPair(index.Build(s))
}
