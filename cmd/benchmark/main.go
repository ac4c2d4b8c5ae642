// Command benchmark replays a labelled synthetic dataset against a running
// FraudGuard and reports detection quality and latency.
//
//	go run ./cmd/benchmark -url http://localhost:8080 -count 5000 -seed 42
//
// Labels come from the same risk score the server uses, so the report
// measures how closely the ensemble tracks it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/synth"
)

// Sample pairs a request with its label.
type Sample struct {
	ID      string
	Request domain.TransactionRequest
	Label   synth.Label
}

// Metrics accumulates outcomes from concurrent workers.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalFraud    int64
	TotalNonFraud int64
	TotalErrors   int64

	mu        sync.Mutex
	latencies []time.Duration
}

// Record counts one prediction against its label.
func (m *Metrics) Record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

// Processed counts every request sent, failed ones included.
func (m *Metrics) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.latencies)
}

// Report is the benchmark outcome, printed as text or JSON.
type Report struct {
	Processed int   `json:"processed"`
	Fraud     int64 `json:"fraud"`
	Legit     int64 `json:"legit"`
	Errors    int64 `json:"errors"`

	TP int64 `json:"tp"`
	FP int64 `json:"fp"`
	TN int64 `json:"tn"`
	FN int64 `json:"fn"`

	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
	FalseAlarmRate float64 `json:"falseAlarmRate"`

	Duration   time.Duration `json:"durationNs"`
	Throughput float64       `json:"throughputTps"`
	P50        time.Duration `json:"p50Ns"`
	P95        time.Duration `json:"p95Ns"`
	P99        time.Duration `json:"p99Ns"`
}

// Report derives rates and latency percentiles. Ratios with an empty
// denominator are 0.
func (m *Metrics) Report(elapsed time.Duration) Report {
	m.mu.Lock()
	lat := slices.Clone(m.latencies)
	m.mu.Unlock()
	slices.Sort(lat)

	r := Report{
		Processed: len(lat),
		Fraud:     m.TotalFraud,
		Legit:     m.TotalNonFraud,
		Errors:    m.TotalErrors,
		TP:        m.TruePositives,
		FP:        m.FalsePositives,
		TN:        m.TrueNegatives,
		FN:        m.FalseNegatives,
		Duration:  elapsed,
		P50:       percentile(lat, 0.50),
		P95:       percentile(lat, 0.95),
		P99:       percentile(lat, 0.99),
	}
	r.Precision = ratio(r.TP, r.TP+r.FP)
	r.Recall = ratio(r.TP, r.TP+r.FN)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.Accuracy = ratio(r.TP+r.TN, r.TP+r.TN+r.FP+r.FN)
	r.FalseAlarmRate = ratio(r.FP, r.FP+r.TN)
	if elapsed > 0 {
		r.Throughput = float64(r.Processed) / elapsed.Seconds()
	}
	return r
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// percentile uses nearest rank on sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q*float64(len(sorted))+0.5) - 1
	return sorted[max(0, min(i, len(sorted)-1))]
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "FraudGuard base URL")
	count := flag.Int("count", 5000, "transactions to generate")
	seed := flag.Uint64("seed", 42, "dataset seed")
	workers := flag.Int("workers", 10, "concurrent clients")
	configPath := flag.String("config", "", "configuration the dataset is labelled with")
	jsonOut := flag.Bool("json", false, "print the report as JSON")
	verbose := flag.Bool("verbose", false, "print every prediction")
	flag.Parse()

	if *count <= 0 || *workers <= 0 {
		fmt.Fprintln(os.Stderr, "benchmark: -count and -workers must be positive")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	if err := checkHealth(*baseURL); err != nil {
		fatal("FraudGuard not reachable at "+*baseURL+" (start it with: go run ./cmd/fraudguard)", err)
	}

	samples, err := generateSamples(cfg, *count, *seed)
	if err != nil {
		fatal("generate dataset", err)
	}
	if !*jsonOut {
		fraud := 0
		for _, s := range samples {
			if s.Label.IsFraudulent {
				fraud++
			}
		}
		fmt.Printf("FraudGuard benchmark: %s, seed %d, %d workers\n", *baseURL, *seed, *workers)
		fmt.Printf("dataset: %d transactions, %d labelled fraud (%.2f%%)\n\n",
			len(samples), fraud, 100*float64(fraud)/float64(len(samples)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	metrics := runBenchmark(ctx, samples, *baseURL, *workers, *verbose)
	report := metrics.Report(time.Since(start))

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fatal("encode report", err)
		}
		return
	}
	printReport(os.Stdout, report)
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "benchmark: %s: %v\n", what, err)
	os.Exit(1)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generateSamples(cfg *domain.Config, count int, seed uint64) ([]Sample, error) {
	g, err := synth.NewGenerator(cfg.Scoring, cfg.Generator)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, count)
	for tx, label := range g.GenerateDataset(count, seed) {
		samples = append(samples, Sample{ID: tx.ID, Request: toRequest(tx), Label: label})
	}
	return samples, nil
}

func toRequest(tx domain.Transaction) domain.TransactionRequest {
	return domain.TransactionRequest{
		Amount:               &tx.Amount,
		ProductCategory:      tx.ProductCategory,
		CustomerLocation:     tx.CustomerLocation,
		LocationDistance:     &tx.LocationDistance,
		AccountAgeDays:       &tx.AccountAgeDays,
		TransactionTime:      &tx.TransactionTime,
		TransactionFrequency: &tx.TransactionFrequency,
		TransactionDate:      &tx.TransactionDate,
	}
}

func runBenchmark(ctx context.Context, samples []Sample, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	work := make(chan Sample)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for s := range work {
				start := time.Now()
				verdict, err := predict(ctx, client, baseURL, s.Request)
				metrics.observe(time.Since(start))

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERR  %-14s %v\n", s.ID, err)
					}
					continue
				}

				metrics.Record(verdict.IsFraudulent, s.Label.IsFraudulent)
				if verbose {
					mark := "ok "
					if verdict.IsFraudulent != s.Label.IsFraudulent {
						mark = "MISS"
					}
					fmt.Printf("%-4s %-14s %-12s %10.2f label=%-5v (%.3f) verdict=%-5v (%.3f)\n",
						mark, s.ID, s.Request.ProductCategory, *s.Request.Amount,
						s.Label.IsFraudulent, s.Label.Score, verdict.IsFraudulent, verdict.RiskScore)
				}
			}
		}()
	}

feed:
	for _, s := range samples {
		select {
		case work <- s:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return metrics
}

func predict(ctx context.Context, client *http.Client, baseURL string, req domain.TransactionRequest) (*domain.Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/predict_fraud", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.Verdict == nil {
		return nil, fmt.Errorf("response without verdict")
	}
	return result.Verdict, nil
}

func printReport(w io.Writer, r Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, "\tpredicted fraud\tpredicted legit\t")
	fmt.Fprintf(tw, "labelled fraud\t%d\t%d\t\n", r.TP, r.FN)
	fmt.Fprintf(tw, "labelled legit\t%d\t%d\t\n", r.FP, r.TN)
	tw.Flush()

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "processed\t%d\t(%d errors)\n", r.Processed, r.Errors)
	fmt.Fprintf(tw, "precision\t%.4f\n", r.Precision)
	fmt.Fprintf(tw, "recall\t%.4f\n", r.Recall)
	fmt.Fprintf(tw, "f1\t%.4f\n", r.F1)
	fmt.Fprintf(tw, "accuracy\t%.4f\n", r.Accuracy)
	fmt.Fprintf(tw, "false alarm rate\t%.4f\n", r.FalseAlarmRate)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "duration\t%v\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "throughput\t%.1f tx/s\n", r.Throughput)
	fmt.Fprintf(tw, "latency p50/p95/p99\t%v / %v / %v\n",
		r.P50.Round(time.Microsecond), r.P95.Round(time.Microsecond), r.P99.Round(time.Microsecond))
	tw.Flush()
}
