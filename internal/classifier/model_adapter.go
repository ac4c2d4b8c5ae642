package classifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// DefaultThreshold is the probability above which a model flags fraud.
const DefaultThreshold = 0.5

// ModelAdapter exposes a Model as an ensemble member. A ModelAdapter built
// without a usable model reports unavailable on every call.
type ModelAdapter struct {
	name      string
	kind      domain.SignalKind
	model     Model
	threshold float64
	reason    error
}

// NewStatistical wraps a statistical model (e.g. LogisticModel).
func NewStatistical(model Model, threshold float64) *ModelAdapter {
	return newModelAdapter("statistical", domain.KindStatistical, model, threshold)
}

// NewNeural wraps a neural model (e.g. DenseNetwork).
func NewNeural(model Model, threshold float64) *ModelAdapter {
	return newModelAdapter("neural", domain.KindNeural, model, threshold)
}

func newModelAdapter(name string, kind domain.SignalKind, model Model, threshold float64) *ModelAdapter {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	a := &ModelAdapter{name: name, kind: kind, model: model, threshold: threshold}
	if model == nil {
		a.reason = errors.New("no model loaded")
	}
	return a
}

// Disabled returns an adapter that is permanently unavailable.
func Disabled(name string, kind domain.SignalKind, reason error) *ModelAdapter {
	return &ModelAdapter{name: name, kind: kind, reason: reason}
}

func (a *ModelAdapter) Name() string { return a.name }

func (a *ModelAdapter) Kind() domain.SignalKind { return a.kind }

// CheckFeatures disables the adapter if the model was trained on a
// different feature order than names.
func (a *ModelAdapter) CheckFeatures(names []string) error {
	if a.model == nil {
		return a.reason
	}
	if !slices.Equal(a.model.Features(), names) {
		a.reason = fmt.Errorf("model features %v do not match extractor features %v", a.model.Features(), names)
		return a.reason
	}
	return nil
}

// Available reports whether the adapter can answer.
func (a *ModelAdapter) Available() bool { return a.reason == nil }

// Predict scores the lexical feature vector.
func (a *ModelAdapter) Predict(ctx context.Context, in Input) (domain.Signal, error) {
	if a.reason != nil {
		return domain.Signal{}, unavailable(a.name, a.reason)
	}
	if !slices.Equal(in.Lexical.Names, a.model.Features()) {
		return domain.Signal{}, unavailable(a.name, fmt.Errorf("unexpected feature order %v", in.Lexical.Names))
	}

	start := time.Now()
	p, err := a.model.Probability(ctx, in.Lexical.Values)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Signal{}, fmt.Errorf("%s: %w: %w", a.name, domain.ErrTransient, err)
		}
		return domain.Signal{}, unavailable(a.name, err)
	}

	return domain.Signal{
		Source:      a.name,
		Kind:        a.kind,
		Fraudulent:  p > a.threshold,
		Available:   true,
		Probability: p,
		LatencyMs:   time.Since(start).Milliseconds(),
	}, nil
}
