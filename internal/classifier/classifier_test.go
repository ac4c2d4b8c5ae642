package classifier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/classifier"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/features"
)

const (
	logisticArtifact = "../../configs/models/logistic.yaml"
	neuralArtifact   = "../../configs/models/neural.yaml"
)

func highRiskTx() *domain.Transaction {
	return &domain.Transaction{
		ID:                   "tx-high",
		Amount:               10000,
		ProductCategory:      "Jewelry",
		CustomerLocation:     "Online",
		LocationDistance:     3200,
		AccountAgeDays:       5,
		TransactionTime:      2.5,
		TransactionFrequency: 12,
	}
}

func lowRiskTx() *domain.Transaction {
	return &domain.Transaction{
		ID:                   "tx-low",
		Amount:               50,
		ProductCategory:      "Groceries",
		CustomerLocation:     "Local Store",
		LocationDistance:     2,
		AccountAgeDays:       1000,
		TransactionTime:      11,
		TransactionFrequency: 1,
	}
}

func inputFor(t *testing.T, tx *domain.Transaction) classifier.Input {
	t.Helper()
	lex, err := features.NewLexical(domain.DefaultConfig().Features)
	require.NoError(t, err)
	v, err := lex.Extract(tx)
	require.NoError(t, err)
	return classifier.Input{
		Transaction: tx,
		Lexical:     v,
		Summary:     classifier.Summarize(tx, lex.IsHighRisk(tx.ProductCategory)),
	}
}

func TestLogisticModel_Probability(t *testing.T) {
	m := &classifier.LogisticModel{FeatureNames: []string{"x"}, Coefficients: []float64{2}, Intercept: 0}

	p, err := m.Probability(context.Background(), []float64{0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)

	p, err = m.Probability(context.Background(), []float64{10})
	require.NoError(t, err)
	assert.Greater(t, p, 0.99)

	_, err = m.Probability(context.Background(), []float64{1, 2})
	assert.Error(t, err)
}

func TestShippedModels(t *testing.T) {
	logistic, err := classifier.LoadLogistic(logisticArtifact)
	require.NoError(t, err)
	network, err := classifier.LoadDenseNetwork(neuralArtifact)
	require.NoError(t, err)

	adapters := []*classifier.ModelAdapter{
		classifier.NewStatistical(logistic, 0.5),
		classifier.NewNeural(network, 0.5),
	}

	for _, a := range adapters {
		t.Run(a.Name(), func(t *testing.T) {
			require.NoError(t, a.CheckFeatures(features.DefaultLexical))

			high, err := a.Predict(context.Background(), inputFor(t, highRiskTx()))
			require.NoError(t, err)
			assert.True(t, high.Available)
			assert.True(t, high.Fraudulent, "p=%v", high.Probability)

			low, err := a.Predict(context.Background(), inputFor(t, lowRiskTx()))
			require.NoError(t, err)
			assert.False(t, low.Fraudulent, "p=%v", low.Probability)
			assert.Equal(t, a.Kind(), low.Kind)
		})
	}
}

func TestLoadArtifactErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := classifier.LoadLogistic(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("features: [a, b]\ncoefficients: [1]\n"), 0o644))
	_, err = classifier.LoadLogistic(bad)
	assert.ErrorContains(t, err, "coefficients")

	wide := filepath.Join(dir, "wide.yaml")
	require.NoError(t, os.WriteFile(wide, []byte(`
features: [a]
layers:
  - activation: relu
    weights: [[1.0], [1.0]]
    bias: [0, 0]
`), 0o644))
	_, err = classifier.LoadDenseNetwork(wide)
	assert.ErrorContains(t, err, "one unit")
}

func TestModelAdapter_Unavailable(t *testing.T) {
	in := inputFor(t, highRiskTx())

	t.Run("no model", func(t *testing.T) {
		a := classifier.NewStatistical(nil, 0.5)
		_, err := a.Predict(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
		assert.False(t, a.Available())
	})

	t.Run("feature mismatch", func(t *testing.T) {
		m := &classifier.LogisticModel{FeatureNames: []string{"amount"}, Coefficients: []float64{1}}
		a := classifier.NewNeural(m, 0.5)
		assert.Error(t, a.CheckFeatures(features.DefaultLexical))

		_, err := a.Predict(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	})
}

func TestBuild(t *testing.T) {
	t.Run("missing artifacts stay unavailable", func(t *testing.T) {
		adapters, err := classifier.Build(domain.ClassifiersConfig{Heuristic: "rules"}, features.DefaultLexical, nil)
		require.NoError(t, err)
		require.Len(t, adapters, 3)

		in := inputFor(t, highRiskTx())
		for _, a := range adapters[:2] {
			_, err := a.Predict(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrAdapterUnavailable, a.Name())
		}

		sig, err := adapters[2].Predict(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, sig.Fraudulent)
	})

	t.Run("shipped artifacts", func(t *testing.T) {
		adapters, err := classifier.Build(domain.ClassifiersConfig{
			StatisticalModel: logisticArtifact,
			NeuralModel:      neuralArtifact,
			Heuristic:        "none",
		}, features.DefaultLexical, nil)
		require.NoError(t, err)

		kinds := []domain.SignalKind{domain.KindStatistical, domain.KindNeural, domain.KindHeuristic}
		for i, a := range adapters {
			assert.Equal(t, kinds[i], a.Kind())
		}

		_, err = adapters[0].Predict(context.Background(), inputFor(t, lowRiskTx()))
		assert.NoError(t, err)
		_, err = adapters[2].Predict(context.Background(), inputFor(t, lowRiskTx()))
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		_, err := classifier.Build(domain.ClassifiersConfig{Heuristic: "oracle"}, features.DefaultLexical, nil)
		assert.Error(t, err)

		_, err = classifier.Build(domain.ClassifiersConfig{Heuristic: "remote"}, features.DefaultLexical, nil)
		assert.Error(t, err)

		_, err = classifier.Build(domain.ClassifiersConfig{
			Rules: []domain.HeuristicRule{{Name: "broken", Expression: "amount >"}},
		}, features.DefaultLexical, nil)
		assert.Error(t, err)
	})
}

func TestRuleAnalyzer(t *testing.T) {
	ra, err := classifier.NewRuleAnalyzer(nil, 4)
	require.NoError(t, err)

	high, err := ra.Analyze(context.Background(), inputFor(t, highRiskTx()).Summary)
	require.NoError(t, err)
	assert.True(t, high.Fraudulent)
	assert.NotEmpty(t, high.Explanation)

	low, err := ra.Analyze(context.Background(), inputFor(t, lowRiskTx()).Summary)
	require.NoError(t, err)
	assert.False(t, low.Fraudulent)
}

func TestSummarize(t *testing.T) {
	s := classifier.Summarize(highRiskTx(), true)

	assert.Contains(t, s.Text, "Analyze this transaction for potential fraud:")
	assert.Contains(t, s.Text, "Amount: $10000.00")
	assert.Contains(t, s.Text, "Product Category: Jewelry")
	assert.Contains(t, s.Text, "Account Age: 5 days")
	assert.Equal(t, int64(5), s.Fields["account_age_days"])
	assert.Equal(t, true, s.Fields["high_risk_category"])
}

func TestRemoteAnalyzer(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()
	ctx := context.Background()

	t.Run("no responder is transient", func(t *testing.T) {
		remote := classifier.NewRemoteAnalyzer(b)
		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := remote.Analyze(reqCtx, inputFor(t, highRiskTx()).Summary)
		assert.ErrorIs(t, err, domain.ErrTransient)
	})

	t.Run("served rule analyzer", func(t *testing.T) {
		ra, err := classifier.NewRuleAnalyzer(nil, 4)
		require.NoError(t, err)
		sub, err := classifier.ServeAnalyzer(ctx, b, ra)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		remote := classifier.NewHeuristic(classifier.NewRemoteAnalyzer(b))
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		sig, err := remote.Predict(reqCtx, inputFor(t, highRiskTx()))
		require.NoError(t, err)
		assert.True(t, sig.Available)
		assert.True(t, sig.Fraudulent)
		assert.NotEmpty(t, sig.Explanation)

		sig, err = remote.Predict(reqCtx, inputFor(t, lowRiskTx()))
		require.NoError(t, err)
		assert.False(t, sig.Fraudulent)
	})

	t.Run("malformed reply is unavailable", func(t *testing.T) {
		other := bus.NewChannelBus(4)
		defer other.Close()
		_, err := other.Subscribe(ctx, domain.TopicAnalyzerRequest, func(ctx context.Context, msg *domain.Message) error {
			msg.Reply = []byte("Sure! This looks fraudulent to me.")
			return nil
		})
		require.NoError(t, err)

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		_, err = classifier.NewRemoteAnalyzer(other).Analyze(reqCtx, inputFor(t, highRiskTx()).Summary)
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	})
}

func TestHeuristic_NilAnalyzer(t *testing.T) {
	_, err := classifier.NewHeuristic(nil).Predict(context.Background(), inputFor(t, lowRiskTx()))
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
}
