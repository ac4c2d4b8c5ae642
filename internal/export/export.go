// Package export writes synthetic datasets to files, DuckDB and Milvus.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/synth"
)

// ErrClosed is returned when writing to a closed exporter.
var ErrClosed = errors.New("export: writer closed")

// DefaultBatchSize is the number of records sent per write.
const DefaultBatchSize = 500

// Record is one labelled transaction ready for export. Vector holds the
// normalized risk features in scorer order.
type Record struct {
	Transaction  domain.Transaction `json:"transaction"`
	FraudScore   float64            `json:"fraudScore"`
	IsFraudulent bool               `json:"isFraudulent"`
	Vector       []float32          `json:"vector"`
}

// NewRecord converts a generated sample and its label.
func NewRecord(s synth.Sample, label synth.Label) Record {
	vec := make([]float32, len(s.Score.Contributions))
	for i, c := range s.Score.Contributions {
		vec[i] = float32(c.Normalized)
	}
	tx := s.Transaction
	tx.IsFraudulent = &label.IsFraudulent
	return Record{
		Transaction:  tx,
		FraudScore:   label.Score,
		IsFraudulent: label.IsFraudulent,
		Vector:       vec,
	}
}

// Records labels every sample of a generator run.
func Records(g *synth.Generator, count int, seed uint64) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for s := range g.Generate(count, seed) {
			if !yield(NewRecord(s, g.Label(s))) {
				return
			}
		}
	}
}

// WriteFunc consumes one batch of records.
type WriteFunc func(ctx context.Context, batch []Record) error

// Batch groups records into batches of size and passes each to the write
// functions in order. It returns the number of records written.
func Batch(ctx context.Context, records iter.Seq[Record], size int, writers ...WriteFunc) (int, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	flush := func(batch []Record) error {
		for _, w := range writers {
			if err := w(ctx, batch); err != nil {
				return err
			}
		}
		return nil
	}

	total := 0
	batch := make([]Record, 0, size)
	for r := range records {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch = append(batch, r)
		if len(batch) == size {
			if err := flush(batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// JSONWriter streams records as a single indented JSON array.
type JSONWriter struct {
	w       io.Writer
	written int
	closed  bool
}

// NewJSONWriter starts an array on w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// Write appends a batch to the array.
func (j *JSONWriter) Write(_ context.Context, batch []Record) error {
	if j.closed {
		return ErrClosed
	}
	for _, r := range batch {
		data, err := json.MarshalIndent(r, "    ", "    ")
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.Transaction.ID, err)
		}
		sep := ",\n    "
		if j.written == 0 {
			sep = "[\n    "
		}
		if _, err := io.WriteString(j.w, sep); err != nil {
			return err
		}
		if _, err := j.w.Write(data); err != nil {
			return err
		}
		j.written++
	}
	return nil
}

// Close terminates the array. An empty export is written as [].
func (j *JSONWriter) Close() error {
	if j.closed {
		return nil
	}
	j.closed = true
	end := "\n]\n"
	if j.written == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(j.w, end)
	return err
}
