// Package shard splits a conversion input file into fixed-size worker shard
// artifacts. Shards are contiguous, disjoint and positional: concatenating
// them in ordinal order reproduces the input rows exactly.
package shard

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/adtelic/conversion-loader/internal/conversion"
	"github.com/adtelic/conversion-loader/internal/metrics"
	"github.com/adtelic/conversion-loader/internal/storage"
)

// ArtifactPath returns the shard artifact key for a worker ordinal.
func ArtifactPath(dir string, worker int) string {
	return fmt.Sprintf("%s/worker-%d.csv", dir, worker)
}

// LogPath returns the outcome log key for a worker ordinal.
func LogPath(dir string, worker int) string {
	return fmt.Sprintf("%s/worker-log-%d.json", dir, worker)
}

// Planner streams an input file into worker shards of at most maxPerShard
// rows each. The input is consumed once; no total row count is needed
// upfront, and shard boundaries are deterministic for a given input.
type Planner struct {
	store       storage.Store
	maxPerShard int
	log         *slog.Logger
}

// NewPlanner creates a planner writing shards through store.
func NewPlanner(store storage.Store, maxPerShard int) *Planner {
	if maxPerShard < 1 {
		maxPerShard = 1
	}
	return &Planner{
		store:       store,
		maxPerShard: maxPerShard,
		log:         slog.With("component", "planner"),
	}
}

// Plan reads the headered input CSV at inputPath and writes headerless
// fixed-column shard artifacts worker-<k>.csv under outputDir. It returns the
// number of shards written. Zero input rows produce zero shards.
func (p *Planner) Plan(ctx context.Context, inputPath, outputDir string) (int, error) {
	r, err := p.store.NewReader(ctx, inputPath)
	if err != nil {
		return 0, fmt.Errorf("open input %s: %w", inputPath, err)
	}
	defer r.Close()

	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", inputPath, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	for _, col := range conversion.Columns {
		if _, ok := colIndex[col]; !ok {
			return 0, fmt.Errorf("input %s is missing column %q", inputPath, col)
		}
	}

	var (
		rows    [][]string
		shardID int
	)

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := p.writeShard(ctx, outputDir, shardID, rows); err != nil {
			return err
		}
		p.log.Info("shard written", "shard", shardID, "rows", len(rows))
		if m := metrics.Get(); m != nil {
			m.ShardsPlanned.Inc()
		}
		rows = rows[:0]
		shardID++
		return nil
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read input %s: %w", inputPath, err)
		}

		row := make([]string, len(conversion.Columns))
		for i, col := range conversion.Columns {
			row[i] = record[colIndex[col]]
		}
		rows = append(rows, row)

		if len(rows) == p.maxPerShard {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}

	// Trailing remainder becomes the final, possibly short, shard.
	if err := flush(); err != nil {
		return 0, err
	}

	return shardID, nil
}

// writeShard writes one headerless shard artifact.
func (p *Planner) writeShard(ctx context.Context, dir string, shardID int, rows [][]string) error {
	w, err := p.store.NewWriter(ctx, ArtifactPath(dir, shardID))
	if err != nil {
		return fmt.Errorf("create shard %d: %w", shardID, err)
	}

	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			w.Close()
			return fmt.Errorf("write shard %d: %w", shardID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		w.Close()
		return fmt.Errorf("flush shard %d: %w", shardID, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close shard %d: %w", shardID, err)
	}
	return nil
}
