package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/WessleyAI/imagesearch/engine/domain"
)

// InspectReport is printed by the inspect command.
type InspectReport struct {
	Records   int            `json:"records"`
	Dimension int            `json:"dimension"`
	FirstID   domain.ImageID `json:"first_id"`
	LastID    domain.ImageID `json:"last_id"`
	Duration  string         `json:"duration"`
}

// inspect builds the index without serving it and writes a JSON summary.
func inspect(ctx context.Context, cfg Config, logger *slog.Logger, out io.Writer) error {
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
	ix, stats, err := buildIndex(ctx, cfg, src, d.embedder, logger)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	ids := ix.IDs()
	report := InspectReport{
		Records:   stats.Records,
		Dimension: stats.Dim,
		FirstID:   ids[0],
		LastID:    ids[len(ids)-1],
		Duration:  stats.Duration.Round(time.Millisecond).String(),
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
