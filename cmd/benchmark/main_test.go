package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func TestMetricsRecord(t *testing.T) {
	m := &Metrics{}
	m.Record(true, true)
	m.Record(true, false)
	m.Record(false, false)
	m.Record(false, false)
	m.Record(false, true)

	if m.TruePositives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 2 || m.FalseNegatives != 1 {
		t.Errorf("unexpected confusion matrix: %+v", m)
	}
	if m.TotalFraud != 2 || m.TotalNonFraud != 3 {
		t.Errorf("expected 2 fraud and 3 legitimate, got %d and %d", m.TotalFraud, m.TotalNonFraud)
	}
}

func TestGenerateSamples(t *testing.T) {
	samples, err := generateSamples(domain.DefaultConfig(), 25, 7)
	if err != nil {
		t.Fatalf("generateSamples failed: %v", err)
	}
	if len(samples) != 25 {
		t.Fatalf("expected 25 samples, got %d", len(samples))
	}

	for _, s := range samples {
		if err := s.Request.Validate(); err != nil {
			t.Errorf("sample %s: invalid request: %v", s.ID, err)
		}
		if s.Request.TransactionFrequency == nil || *s.Request.TransactionFrequency < 1 {
			t.Errorf("sample %s: expected an explicit frequency", s.ID)
		}
	}

	again, _ := generateSamples(domain.DefaultConfig(), 25, 7)
	if *again[3].Request.Amount != *samples[3].Request.Amount {
		t.Error("expected the same seed to reproduce the dataset")
	}
}

func TestRunBenchmark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.TransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Flag everything above 2500.
		json.NewEncoder(w).Encode(domain.PredictionResponse{
			Verdict: &domain.Verdict{IsFraudulent: *req.Amount > 2500},
		})
	}))
	defer server.Close()

	samples, err := generateSamples(domain.DefaultConfig(), 40, 1)
	if err != nil {
		t.Fatalf("generateSamples failed: %v", err)
	}

	m := runBenchmark(t.Context(), samples, server.URL, 4, false)
	if m.Processed() != 40 {
		t.Errorf("expected 40 processed, got %d", m.Processed())
	}
	if m.TotalErrors != 0 {
		t.Errorf("expected no errors, got %d", m.TotalErrors)
	}
	if got := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives; got != 40 {
		t.Errorf("expected 40 classified, got %d", got)
	}
}

func TestRunBenchmark_ServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	samples, _ := generateSamples(domain.DefaultConfig(), 5, 1)
	m := runBenchmark(t.Context(), samples, server.URL, 2, false)
	if m.TotalErrors != 5 {
		t.Errorf("expected 5 errors, got %d", m.TotalErrors)
	}
}

func TestRunBenchmark_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.PredictionResponse{Verdict: &domain.Verdict{}})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	samples, _ := generateSamples(domain.DefaultConfig(), 20, 1)
	m := runBenchmark(ctx, samples, server.URL, 2, false)
	if m.Processed() == 20 && m.TotalErrors == 0 {
		t.Error("expected a cancelled run to stop early or fail requests")
	}
}

func TestMetricsReport(t *testing.T) {
	m := &Metrics{}
	for range 3 {
		m.Record(true, true)
	}
	m.Record(true, false)
	m.Record(false, true)
	for range 5 {
		m.Record(false, false)
	}
	for i := 1; i <= 10; i++ {
		m.observe(time.Duration(i) * time.Millisecond)
	}

	r := m.Report(2 * time.Second)

	if r.Processed != 10 || r.TP != 3 || r.FP != 1 || r.FN != 1 || r.TN != 5 {
		t.Fatalf("unexpected counts: %+v", r)
	}
	near := func(name string, got, want float64) {
		t.Helper()
		if d := got - want; d > 1e-9 || d < -1e-9 {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	near("precision", r.Precision, 0.75)
	near("recall", r.Recall, 0.75)
	near("f1", r.F1, 0.75)
	near("accuracy", r.Accuracy, 0.8)
	near("false alarm rate", r.FalseAlarmRate, 1.0/6)
	near("throughput", r.Throughput, 5)

	if r.P50 != 5*time.Millisecond || r.P95 != 10*time.Millisecond || r.P99 != 10*time.Millisecond {
		t.Errorf("percentiles = %v %v %v", r.P50, r.P95, r.P99)
	}
}

func TestMetricsReport_Empty(t *testing.T) {
	r := (&Metrics{}).Report(0)
	if r.Precision != 0 || r.Recall != 0 || r.F1 != 0 || r.Throughput != 0 || r.P99 != 0 {
		t.Errorf("expected zero report, got %+v", r)
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, Report{Processed: 4, TP: 1, FN: 1, FP: 1, TN: 1, Precision: 0.5})

	out := buf.String()
	for _, want := range []string{"labelled fraud", "predicted legit", "precision", "0.5000", "latency p50/p95/p99"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
