// Package search turns a text query into the nearest indexed images. A
// Service is stateless apart from the immutable index it wraps and is safe
// for unlimited concurrent use.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/index"
	"github.com/WessleyAI/imagesearch/pkg/embed"
	"github.com/WessleyAI/imagesearch/pkg/metrics"
	"github.com/WessleyAI/imagesearch/pkg/vecmath"
)

const tracerName = "github.com/WessleyAI/imagesearch/engine/search"

// DefaultK is the number of results returned when the caller gives none.
const DefaultK = 6

// Options configures a Service.
type Options struct {
	// DefaultK applies when Search is called with k < 0.
	DefaultK int
	// MaxK caps k. Zero means no cap beyond the corpus size.
	MaxK int
	// ImageURL resolves an image id to a URL the caller can fetch.
	ImageURL func(domain.ImageID) string
}

// DefaultOptions returns Options with the reference defaults.
func DefaultOptions() Options {
	return Options{DefaultK: DefaultK, MaxK: 100, ImageURL: func(id domain.ImageID) string { return id.Filename() }}
}

// Hit is one search result, ascending by Score.
type Hit struct {
	ImageURL string         `json:"image_url"`
	Score    float32        `json:"score"`
	Index    int            `json:"index"`
	ImageID  domain.ImageID `json:"image_id"`
}

// Image is one indexed record.
type Image struct {
	ImageURL string         `json:"image_url"`
	Index    int            `json:"index"`
	ImageID  domain.ImageID `json:"image_id"`
}

// Service answers text queries against a built index.
type Service struct {
	ix       *index.Index
	embedder embed.TextEmbedder
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer

	reg      *metrics.Registry
	duration *metrics.Histogram
}

// New creates a Service over a built index. reg may be nil.
func New(ix *index.Index, embedder embed.TextEmbedder, opts Options, reg *metrics.Registry, logger *slog.Logger) (*Service, error) {
	if ix.Len() == 0 {
		return nil, fmt.Errorf("search: %w", domain.ErrNotBuilt)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultK
	}
	if opts.ImageURL == nil {
		opts.ImageURL = DefaultOptions().ImageURL
	}
	if reg == nil {
		reg = metrics.New()
	}
	reg.Gauge("index_records", "Records in the search index").Set(float64(ix.Len()))
	reg.Gauge("index_dimension", "Embedding dimension of the search index").Set(float64(ix.Dim()))

	return &Service{
		ix:       ix,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		reg:      reg,
		duration: reg.Histogram("search_duration_seconds", "Search latency including the text embedding", nil),
	}, nil
}

// Len returns the number of indexed images.
func (s *Service) Len() int { return s.ix.Len() }

// Dim returns the index dimension.
func (s *Service) Dim() int { return s.ix.Dim() }

// ResolveK applies the default and the cap to a caller-supplied k.
func (s *Service) ResolveK(k int) int {
	if k < 0 {
		k = s.opts.DefaultK
	}
	if s.opts.MaxK > 0 && k > s.opts.MaxK {
		k = s.opts.MaxK
	}
	return k
}

// Search embeds text and returns its nearest images. A negative k selects
// the default. Every error is an *Error.
func (s *Service) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	start := time.Now()
	k = s.ResolveK(k)
	ctx, span := s.tracer.Start(ctx, "search.query", trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	hits, err := s.search(ctx, text, k)
	s.duration.Since(start)

	outcome := "ok"
	if err != nil {
		se := classify(err)
		outcome = string(se.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(se.Kind))
		s.logFailure(ctx, se)
		err = se
	} else {
		span.SetAttributes(attribute.Int("results", len(hits)))
		s.logger.Debug("search", "k", k, "results", len(hits), "duration", time.Since(start))
	}
	s.reg.Counter(metrics.WithLabels("search_requests_total", "outcome", outcome), "Search requests by outcome").Inc()
	return hits, err
}

func (s *Service) search(ctx context.Context, text string, k int) ([]Hit, error) {
	q, err := domain.ValidateQuery(text)
	if err != nil {
		return nil, err
	}

	v, err := s.embedder.EmbedText(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w: %w", domain.ErrEmbedding, err)
	}
	if err := domain.CheckDim(v, s.ix.Dim()); err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	unit, ok := vecmath.Normalized(v)
	if !ok {
		return nil, fmt.Errorf("search: normalize query: %w", domain.ErrZeroNorm)
	}

	results, err := s.ix.Search(unit, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ImageURL: s.opts.ImageURL(r.ID), Score: r.Distance, Index: r.Ordinal, ImageID: r.ID}
	}
	return hits, nil
}

func (s *Service) logFailure(ctx context.Context, se *Error) {
	switch se.Kind {
	case KindInvalidQuery:
		s.logger.DebugContext(ctx, "search rejected", "kind", se.Kind, "err", se.cause)
	case KindInternal:
		s.logger.ErrorContext(ctx, "search failed", "kind", se.Kind, "err", se.cause)
	default:
		s.logger.WarnContext(ctx, "search failed", "kind", se.Kind, "err", se.cause)
	}
}

// Images lists every indexed image in ordinal order.
func (s *Service) Images() []Image {
	ids := s.ix.IDs()
	out := make([]Image, len(ids))
	for i, id := range ids {
		out[i] = Image{ImageURL: s.opts.ImageURL(id), Index: i, ImageID: id}
	}
	return out
}
