package ensemble_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/classifier"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/ensemble"
)

func TestDecide_TruthTable(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		s, n, h := mask&1 != 0, mask&2 != 0, mask&4 != 0
		t.Run(fmt.Sprintf("s=%v_n=%v_h=%v", s, n, h), func(t *testing.T) {
			v := ensemble.Decide(s, n, h, "Unusual pattern.")

			assert.Equal(t, s || n || h, v.IsFraudulent)
			if v.IsFraudulent {
				assert.True(t, strings.HasPrefix(v.Explanation, domain.ExplanationFraud+" "))
				assert.NotContains(t, v.Explanation, domain.ExplanationLegitimate)
			} else {
				assert.Equal(t, domain.ExplanationLegitimate, v.Explanation)
			}
		})
	}
}

func TestDecide_Explanations(t *testing.T) {
	v := ensemble.Decide(false, false, true, "Unusual pattern.")
	assert.Equal(t, "Potential fraud detected. Unusual pattern.", v.Explanation)

	v = ensemble.Decide(true, false, false, "")
	assert.True(t, v.IsFraudulent)
	assert.Equal(t, "Potential fraud detected. Flagged by: statistical.", v.Explanation)

	v = ensemble.Decide(false, false, false, "Highly suspicious.")
	assert.False(t, v.IsFraudulent, "explanation text must not change the verdict")
	assert.Equal(t, domain.ExplanationLegitimate, v.Explanation)

	v = ensemble.Decide(true, false, false, domain.UnavailableExplanation)
	assert.True(t, v.IsFraudulent)
	assert.Equal(t, "Potential fraud detected. Flagged by: statistical.", v.Explanation)
	require.Len(t, v.Signals, 3)
	assert.False(t, v.Signals[2].Available)

	v = ensemble.Decide(false, true, true, "unavailable")
	assert.True(t, v.IsFraudulent)
	assert.Equal(t, "Potential fraud detected. Flagged by: neural, heuristic.", v.Explanation)

	v = ensemble.Decide(false, false, false, domain.UnavailableExplanation)
	assert.False(t, v.IsFraudulent)
	assert.Equal(t, domain.ExplanationLegitimate, v.Explanation)
}

func TestCombine_IgnoresUnavailable(t *testing.T) {
	v := ensemble.Combine([]domain.Signal{
		{Source: "statistical", Kind: domain.KindStatistical, Fraudulent: true, Available: false},
		domain.Unavailable("neural", domain.KindNeural),
		{Source: "heuristic", Kind: domain.KindHeuristic, Available: true, Explanation: "Looks fine."},
	})
	assert.False(t, v.IsFraudulent)
	assert.Equal(t, domain.ExplanationLegitimate, v.Explanation)
	assert.Len(t, v.Signals, 3)
}

func TestCombine_HeuristicUnavailableFallsBack(t *testing.T) {
	v := ensemble.Combine([]domain.Signal{
		{Source: "statistical", Kind: domain.KindStatistical, Fraudulent: true, Available: true},
		{Source: "neural", Kind: domain.KindNeural, Fraudulent: true, Available: true},
		domain.Unavailable("heuristic", domain.KindHeuristic),
	})
	assert.True(t, v.IsFraudulent)
	assert.Equal(t, "Potential fraud detected. Flagged by: statistical, neural.", v.Explanation)
}

func TestCombine_NeverBothMarkers(t *testing.T) {
	v := ensemble.Combine([]domain.Signal{
		{Source: "neural", Kind: domain.KindNeural, Fraudulent: true, Available: true},
		{Source: "heuristic", Kind: domain.KindHeuristic, Available: true, Explanation: domain.ExplanationLegitimate},
	})
	assert.True(t, v.IsFraudulent)
	assert.Contains(t, v.Explanation, domain.ExplanationFraud)
	assert.NotContains(t, v.Explanation, domain.ExplanationLegitimate)
}

func TestCombine_RiskSignal(t *testing.T) {
	v := ensemble.Combine([]domain.Signal{
		{Source: "statistical", Kind: domain.KindStatistical, Available: true},
		{Source: "risk", Kind: domain.KindRisk, Fraudulent: true, Available: true, Probability: 0.81},
	})
	assert.True(t, v.IsFraudulent)
	assert.Equal(t, []string{"risk"}, v.FlaggedBy())
}

type stubAdapter struct {
	name    string
	kind    domain.SignalKind
	calls   atomic.Int32
	predict func(ctx context.Context, call int32) (domain.Signal, error)
}

func (s *stubAdapter) Name() string            { return s.name }
func (s *stubAdapter) Kind() domain.SignalKind { return s.kind }
func (s *stubAdapter) Predict(ctx context.Context, in classifier.Input) (domain.Signal, error) {
	return s.predict(ctx, s.calls.Add(1))
}

func answer(fraud bool) func(context.Context, int32) (domain.Signal, error) {
	return func(context.Context, int32) (domain.Signal, error) {
		return domain.Signal{Fraudulent: fraud, Available: true}, nil
	}
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("order and identity", func(t *testing.T) {
		adapters := []classifier.Adapter{
			&stubAdapter{name: "statistical", kind: domain.KindStatistical, predict: answer(false)},
			&stubAdapter{name: "neural", kind: domain.KindNeural, predict: answer(true)},
			&stubAdapter{name: "heuristic", kind: domain.KindHeuristic, predict: answer(false)},
		}

		signals := ensemble.NewRunner(time.Second, 0).Run(ctx, adapters, classifier.Input{})
		require.Len(t, signals, 3)
		for i, s := range signals {
			assert.Equal(t, adapters[i].Name(), s.Source)
			assert.Equal(t, adapters[i].Kind(), s.Kind)
			assert.True(t, s.Available)
		}
		assert.True(t, signals[1].Fraudulent)
	})

	t.Run("timeout yields unavailable", func(t *testing.T) {
		slow := &stubAdapter{name: "neural", kind: domain.KindNeural, predict: func(ctx context.Context, _ int32) (domain.Signal, error) {
			<-ctx.Done()
			return domain.Signal{}, ctx.Err()
		}}

		start := time.Now()
		signals := ensemble.NewRunner(20*time.Millisecond, 0).Run(ctx, []classifier.Adapter{slow}, classifier.Input{})
		assert.Less(t, time.Since(start), time.Second)
		assert.False(t, signals[0].Available)
		assert.Equal(t, "unavailable", signals[0].Explanation)
		assert.Equal(t, int32(2), slow.calls.Load(), "timeout is retried once")
	})

	t.Run("transient failure retried once", func(t *testing.T) {
		flaky := &stubAdapter{name: "heuristic", kind: domain.KindHeuristic, predict: func(_ context.Context, call int32) (domain.Signal, error) {
			if call == 1 {
				return domain.Signal{}, fmt.Errorf("bus hiccup: %w", domain.ErrTransient)
			}
			return domain.Signal{Fraudulent: true, Available: true, Explanation: "Odd."}, nil
		}}

		signals := ensemble.NewRunner(time.Second, 1).Run(ctx, []classifier.Adapter{flaky}, classifier.Input{})
		assert.True(t, signals[0].Available)
		assert.True(t, signals[0].Fraudulent)
		assert.Equal(t, int32(2), flaky.calls.Load())
	})

	t.Run("permanent failure not retried", func(t *testing.T) {
		broken := &stubAdapter{name: "statistical", kind: domain.KindStatistical, predict: func(context.Context, int32) (domain.Signal, error) {
			return domain.Signal{}, &domain.AdapterUnavailableError{Adapter: "statistical"}
		}}

		signals := ensemble.NewRunner(time.Second, 1).Run(ctx, []classifier.Adapter{broken}, classifier.Input{})
		assert.False(t, signals[0].Available)
		assert.Equal(t, int32(1), broken.calls.Load())
	})

	t.Run("panic yields unavailable", func(t *testing.T) {
		panicky := &stubAdapter{name: "neural", kind: domain.KindNeural, predict: func(context.Context, int32) (domain.Signal, error) {
			panic("bad weights")
		}}

		signals := ensemble.NewRunner(time.Second, 1).Run(ctx, []classifier.Adapter{panicky}, classifier.Input{})
		assert.False(t, signals[0].Available)
	})

	t.Run("all unavailable is legitimate", func(t *testing.T) {
		down := func(name string, kind domain.SignalKind) classifier.Adapter {
			return &stubAdapter{name: name, kind: kind, predict: func(context.Context, int32) (domain.Signal, error) {
				return domain.Signal{}, domain.ErrAdapterUnavailable
			}}
		}
		signals := ensemble.NewRunner(time.Second, 0).Run(ctx, []classifier.Adapter{
			down("statistical", domain.KindStatistical),
			down("neural", domain.KindNeural),
			down("heuristic", domain.KindHeuristic),
		}, classifier.Input{})

		v := ensemble.Combine(signals)
		assert.False(t, v.IsFraudulent)
		assert.Equal(t, domain.ExplanationLegitimate, v.Explanation)
	})
}
