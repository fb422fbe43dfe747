package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/WessleyAI/imagesearch/engine/builder"
	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/search"
	"github.com/WessleyAI/imagesearch/pkg/metrics"
	"github.com/WessleyAI/imagesearch/pkg/mid"
	"github.com/WessleyAI/imagesearch/pkg/natsutil"
)

const (
	serviceName  = "imagesearch-api"
	readySubject = "imagesearch.index.ready"
)

// ReadyEvent is published on readySubject once the index is built.
type ReadyEvent struct {
	Records   int           `json:"records"`
	Dimension int           `json:"dimension"`
	Duration  time.Duration `json:"duration"`
	Addr      string        `json:"addr"`
}

// serve builds the index, then listens until ctx is cancelled. onListen, if
// set, receives the bound address.
func serve(ctx context.Context, cfg Config, logger *slog.Logger, onListen func(net.Addr)) error {
	src, err := datasetSource(cfg)
	if err != nil {
		return err
	}
	d, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := waitForEmbedder(ctx, d.embedder, cfg.EmbedWait, logger); err != nil {
		return err
	}

	// --- Build index ---
	ix, stats, err := buildIndex(ctx, cfg, src, d.embedder, logger)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	// --- Search service ---
	reg := metrics.New()
	svc, err := search.New(ix, d.embedder, search.Options{
		DefaultK: cfg.DefaultK,
		MaxK:     cfg.MaxK,
		ImageURL: func(id domain.ImageID) string {
			return cfg.PublicBaseURL + cfg.StaticPrefix + "/" + id.Filename()
		},
	}, reg, logger)
	if err != nil {
		return err
	}

	// --- HTTP server ---
	srv := &http.Server{
		Handler:      newHandler(cfg, svc, src, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if onListen != nil {
		onListen(ln.Addr())
	}

	if cfg.PublishReady && d.nc != nil {
		ev := ReadyEvent{Records: stats.Records, Dimension: stats.Dim, Duration: stats.Duration, Addr: ln.Addr().String()}
		if err := natsutil.Publish(ctx, d.nc, readySubject, ev); err != nil {
			logger.Warn("publish ready event failed", "err", err)
		}
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", ln.Addr().String(), "records", stats.Records, "dim", stats.Dim)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newHandler wires routes and middleware around a built service.
func newHandler(cfg Config, svc *search.Service, src *builder.DirSource, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", handleSearch(svc, logger))
	mux.HandleFunc("GET /images", handleImages(svc))
	mux.HandleFunc("GET "+cfg.StaticPrefix+"/{name}", handleImage(src))
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/ready", handleReady(svc))
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /{$}", handleRoot(cfg.StaticPrefix))

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(mid.SplitOrigins(cfg.CORSOrigins)),
		mid.RateLimit(cfg.RateLimitRPS, max(1, int(cfg.RateLimitRPS))),
		mid.Metrics(reg),
		mid.OTel(serviceName),
	)
}
