package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/fraudguard/internal/classifier"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single adapter call.
const DefaultTimeout = 2 * time.Second

// Runner fans a prediction out to every adapter concurrently.
type Runner struct {
	timeout    time.Duration
	maxWorkers int
}

// NewRunner creates a runner. Zero values select DefaultTimeout and one
// worker per adapter.
func NewRunner(timeout time.Duration, maxWorkers int) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout, maxWorkers: maxWorkers}
}

// Run returns one signal per adapter, in adapter order. Adapters that
// fail, time out or panic yield an unavailable signal; a transient failure
// is retried once.
func (r *Runner) Run(ctx context.Context, adapters []classifier.Adapter, in classifier.Input) []domain.Signal {
	signals := make([]domain.Signal, len(adapters))

	workers := r.maxWorkers
	if workers <= 0 || workers > len(adapters) {
		workers = len(adapters)
	}
	sem := make(chan struct{}, max(workers, 1))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(idx int, a classifier.Adapter) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			signals[idx] = r.call(ctx, a, in)
		}(i, a)
	}
	wg.Wait()

	return signals
}

func (r *Runner) call(ctx context.Context, a classifier.Adapter, in classifier.Input) domain.Signal {
	ctx, span := otel.Tracer("fraudguard-ensemble").Start(ctx, "classifier."+a.Name())
	defer span.End()

	start := time.Now()
	sig, err := r.attempt(ctx, a, in)
	if err != nil && errors.Is(err, domain.ErrTransient) && ctx.Err() == nil {
		slog.Debug("retrying classifier after transient failure", "classifier", a.Name(), "error", err)
		sig, err = r.attempt(ctx, a, in)
	}

	if err != nil {
		slog.Warn("classifier unavailable", "classifier", a.Name(), "error", err)
		span.RecordError(err)
		sig = domain.Unavailable(a.Name(), a.Kind())
	}

	sig.Source = a.Name()
	sig.Kind = a.Kind()
	sig.LatencyMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Bool("available", sig.Available),
		attribute.Bool("fraudulent", sig.Fraudulent),
	)
	return sig
}

func (r *Runner) attempt(ctx context.Context, a classifier.Adapter, in classifier.Input) (domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		sig domain.Signal
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &domain.AdapterUnavailableError{Adapter: a.Name(), Err: fmt.Errorf("panic: %v", p)}}
			}
		}()
		s, err := a.Predict(ctx, in)
		done <- outcome{sig: s, err: err}
	}()

	select {
	case o := <-done:
		return o.sig, o.err
	case <-ctx.Done():
		return domain.Signal{}, fmt.Errorf("%s: %w: %w", a.Name(), domain.ErrTransient, ctx.Err())
	}
}
