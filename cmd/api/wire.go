package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/imagesearch/engine/builder"
	"github.com/WessleyAI/imagesearch/engine/index"
	"github.com/WessleyAI/imagesearch/pkg/embed"
	"github.com/WessleyAI/imagesearch/pkg/fn"
	"github.com/WessleyAI/imagesearch/pkg/resilience"
)

// deps holds the external connections shared by serve and inspect.
type deps struct {
	embedder embed.Embedder
	nc       *nats.Conn
	closers  []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// connect dials the configured embedding backend, plus NATS when the backend
// or the ready event needs it, and wraps the embedder for shared use.
func connect(cfg Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}
	if cfg.EmbedBackend == backendNATS || cfg.PublishReady {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("imagesearch-api"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		d.nc = nc
		d.closers = append(d.closers, nc.Close)
	}

	var base embed.Embedder
	switch cfg.EmbedBackend {
	case backendHTTP:
		base = embed.NewHTTPClient(cfg.EmbedURL, cfg.EmbedTimeout)
	case backendNATS:
		base = embed.NewNATSClient(d.nc, cfg.NATSSubjectPrefix)
	case backendGRPC:
		conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("dial embed worker: %w", err)
		}
		d.closers = append(d.closers, func() { conn.Close() })
		base = embed.NewGRPCClient(conn)
	case backendHash:
		base = embed.NewHash(cfg.Dimension)
	default:
		d.Close()
		return nil, fmt.Errorf("unknown embed backend %q", cfg.EmbedBackend)
	}

	// The timeout wraps the queue as well, so a hung call cannot hold
	// waiting callers past embed_timeout.
	e := base
	if cfg.SerializeEmbedder {
		e = embed.Serialize(e)
	}
	e = embed.WithTimeout(e, cfg.EmbedTimeout)
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("embedder circuit", "from", from.String(), "to", to.String())
	}
	d.embedder = embed.WithBreaker(e, resilience.NewBreaker(opts))

	logger.Info("embedder configured", "backend", cfg.EmbedBackend, "serialized", cfg.SerializeEmbedder)
	return d, nil
}

// waitForEmbedder polls the embedder's health until it answers or wait
// elapses. A zero wait skips the check.
func waitForEmbedder(ctx context.Context, e embed.Embedder, wait time.Duration, logger *slog.Logger) error {
	if wait <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var last error
	err := fn.RetryErr(ctx, fn.RetryOpts{
		MaxAttempts: 1 << 20,
		InitialWait: 250 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Jitter:      true,
		OnRetry: func(attempt int, err error, next time.Duration) {
			logger.Info("waiting for embedder", "attempt", attempt, "err", err, "retry_in", next)
		},
	}, func(ctx context.Context) error {
		last = embed.Check(ctx, e)
		return last
	})
	if err != nil {
		return fmt.Errorf("embedder not ready after %s: %w", wait, errors.Join(err, last))
	}
	return nil
}

// buildIndex embeds every image under cfg.DatasetDir.
func buildIndex(ctx context.Context, cfg Config, src *builder.DirSource, e embed.ImageEmbedder, logger *slog.Logger) (*index.Index, builder.BuildStats, error) {
	b := builder.New(src, e, builder.Options{
		Dim:     cfg.Dimension,
		Workers: cfg.BuildWorkers,
		Rate:    cfg.BuildRate,
	}, logger)
	return b.Build(ctx)
}

func datasetSource(cfg Config) (*builder.DirSource, error) {
	info, err := os.Stat(cfg.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset: %s is not a directory", cfg.DatasetDir)
	}
	return builder.NewDirSource(os.DirFS(cfg.DatasetDir)), nil
}
