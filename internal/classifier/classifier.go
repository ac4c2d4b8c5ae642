// Package classifier wraps the learned and heuristic fraud classifiers
// behind a common Adapter contract.
package classifier

import (
	"context"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Input is everything an adapter may look at.
type Input struct {
	Transaction *domain.Transaction
	Lexical     domain.FeatureVector
	Summary     Summary
}

// Adapter produces one fraud signal. Failures are returned as errors
// wrapping domain.ErrAdapterUnavailable or domain.ErrTransient; the caller
// converts them into unavailable signals.
type Adapter interface {
	Name() string
	Kind() domain.SignalKind
	Predict(ctx context.Context, in Input) (domain.Signal, error)
}

func unavailable(name string, err error) error {
	return &domain.AdapterUnavailableError{Adapter: name, Err: err}
}
