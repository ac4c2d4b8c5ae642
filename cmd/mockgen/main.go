// FraudGuard - Transaction fraud scoring with an explainable ensemble.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command mockgen writes a labelled synthetic transaction dataset.
//
// Usage:
//
//	mockgen -count 10000 -seed 42 -out transactions.json [-duckdb dataset.duckdb] [-milvus localhost:19530]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/export"
	"github.com/opensource-finance/fraudguard/internal/synth"
)

type options struct {
	count      int
	seed       uint64
	out        string
	duckdb     string
	milvus     string
	collection string
	batch      int
	configPath string
}

func main() {
	var opts options
	flag.IntVar(&opts.count, "count", 10000, "Number of transactions to generate")
	flag.Uint64Var(&opts.seed, "seed", 42, "Dataset seed")
	flag.StringVar(&opts.out, "out", "mock_transactions.json", "JSON output file (- for stdout, empty to skip)")
	flag.StringVar(&opts.duckdb, "duckdb", "", "DuckDB database file to load")
	flag.StringVar(&opts.milvus, "milvus", "", "Milvus address to load risk vectors into")
	flag.StringVar(&opts.collection, "collection", export.DefaultCollection, "Milvus collection name")
	flag.IntVar(&opts.batch, "batch", export.DefaultBatchSize, "Records per write")
	flag.StringVar(&opts.configPath, "config", "", "Scoring configuration file")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(os.Stderr, cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := synth.NewGenerator(cfg.Scoring, cfg.Generator)
	if err != nil {
		slog.Error("failed to build generator", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	n, err := run(ctx, g, opts, len(cfg.Scoring.Weights))
	if err != nil {
		slog.Error("export failed", "written", n, "error", err)
		os.Exit(1)
	}

	slog.Info("dataset exported",
		"count", n,
		"seed", opts.seed,
		"label_threshold", g.LabelThreshold(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func run(ctx context.Context, g *synth.Generator, opts options, dim int) (int, error) {
	if opts.count <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", opts.count)
	}

	var writers []export.WriteFunc
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("failed to close output", "error", err)
			}
		}
	}()

	var jsonOut *export.JSONWriter
	switch opts.out {
	case "":
	case "-":
		jsonOut = export.NewJSONWriter(os.Stdout)
	default:
		f, err := os.Create(opts.out)
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", opts.out, err)
		}
		closers = append(closers, f.Close)
		jsonOut = export.NewJSONWriter(f)
	}
	if jsonOut != nil {
		writers = append(writers, jsonOut.Write)
	}

	if opts.duckdb != "" {
		db, err := export.NewDuckDBWriter(opts.duckdb)
		if err != nil {
			return 0, err
		}
		closers = append(closers, db.Close)
		writers = append(writers, db.Write)
	}

	var sink *export.MilvusSink
	if opts.milvus != "" {
		var err error
		sink, err = export.NewMilvusSink(ctx, export.MilvusConfig{
			Address:    opts.milvus,
			Username:   os.Getenv(config.EnvPrefix + "MILVUS_USERNAME"),
			Password:   os.Getenv(config.EnvPrefix + "MILVUS_PASSWORD"),
			Collection: opts.collection,
			Dimension:  dim,
		})
		if err != nil {
			return 0, err
		}
		closers = append(closers, sink.Close)
		writers = append(writers, sink.Write)
	}

	if len(writers) == 0 {
		return 0, fmt.Errorf("no output selected")
	}

	n, err := export.Batch(ctx, export.Records(g, opts.count, opts.seed), opts.batch, writers...)
	if err != nil {
		return n, err
	}

	if jsonOut != nil {
		if err := jsonOut.Close(); err != nil {
			return n, err
		}
	}
	if sink != nil {
		if err := sink.Finish(ctx); err != nil {
			return n, err
		}
		slog.Info("vector index built", "collection", opts.collection)
	}
	return n, nil
}
