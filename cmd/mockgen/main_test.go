package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/export"
	"github.com/opensource-finance/fraudguard/internal/synth"
)

func newGenerator(t *testing.T) *synth.Generator {
	t.Helper()
	g, err := synth.NewGenerator(domain.DefaultScoringConfig(), domain.GeneratorConfig{})
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return g
}

func TestRun_JSONAndDuckDB(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		count:  30,
		seed:   9,
		out:    filepath.Join(dir, "out.json"),
		duckdb: filepath.Join(dir, "out.duckdb"),
		batch:  7,
	}

	n, err := run(context.Background(), newGenerator(t), opts, 6)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 30 {
		t.Errorf("expected 30 records, got %d", n)
	}

	data, err := os.ReadFile(opts.out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var records []export.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(records) != 30 {
		t.Errorf("expected 30 JSON records, got %d", len(records))
	}
	if records[0].Transaction.ID != "syn-9-0" {
		t.Errorf("unexpected first ID %q", records[0].Transaction.ID)
	}

	db, err := export.NewDuckDBWriter(opts.duckdb)
	if err != nil {
		t.Fatalf("reopen duckdb: %v", err)
	}
	defer db.Close()
	count, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 30 {
		t.Errorf("expected 30 rows, got %d", count)
	}
}

func TestRun_Errors(t *testing.T) {
	g := newGenerator(t)

	if _, err := run(context.Background(), g, options{count: 0, out: "-"}, 6); err == nil {
		t.Error("expected error for zero count")
	}
	if _, err := run(context.Background(), g, options{count: 5}, 6); err == nil {
		t.Error("expected error when no output is selected")
	}
}
