package synth_test

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/risk"
	"github.com/opensource-finance/fraudguard/internal/synth"
)

func newGenerator(t *testing.T) *synth.Generator {
	t.Helper()
	g, err := synth.NewGenerator(domain.DefaultScoringConfig(), domain.GeneratorConfig{LabelThreshold: 0.5})
	require.NoError(t, err)
	return g
}

func collect(g *synth.Generator, count int, seed uint64) []synth.Sample {
	return slices.Collect(g.Generate(count, seed))
}

func TestGenerate_Deterministic(t *testing.T) {
	g := newGenerator(t)

	a := collect(g, 1000, 42)
	b := collect(g, 1000, 42)
	require.Len(t, a, 1000)
	require.Len(t, b, 1000)
	for i := range a {
		require.Equal(t, a[i], b[i], "sample %d", i)
	}

	other := collect(newGenerator(t), 1000, 42)
	assert.Equal(t, a, other, "a fresh generator with the same config reproduces the sequence")

	c := collect(g, 1000, 43)
	assert.NotEqual(t, a, c)
}

func TestGenerateDataset_Reproducible(t *testing.T) {
	g := newGenerator(t)

	type row struct {
		tx    domain.Transaction
		label synth.Label
	}
	run := func() []row {
		var rows []row
		for tx, label := range g.GenerateDataset(1000, 42) {
			rows = append(rows, row{tx, label})
		}
		return rows
	}

	first, second := run(), run()
	require.Len(t, first, 1000)
	require.Len(t, second, 1000)
	for i := range first {
		require.Equal(t, first[i].tx, second[i].tx, "transaction %d", i)
		require.Equal(t, first[i].label, second[i].label, "label %d", i)
	}
}

func TestGenerate_Restartable(t *testing.T) {
	g := newGenerator(t)
	seq := g.Generate(50, 7)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
}

func TestGenerate_PrefixStable(t *testing.T) {
	g := newGenerator(t)

	long := collect(g, 100, 9)
	short := collect(g, 10, 9)
	assert.Equal(t, long[:10], short)
}

func TestGenerate_EarlyStop(t *testing.T) {
	g := newGenerator(t)

	n := 0
	for range g.Generate(1000, 1) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestGenerate_Ranges(t *testing.T) {
	g := newGenerator(t)
	categories := []string{"Electronics", "Entertainment", "Fashion", "Gambling", "Grocery", "Jewelry", "Restaurants", "Travel"}
	drawn := make(map[string]int)

	for s := range g.Generate(2000, 2024) {
		tx := s.Transaction
		require.NoError(t, tx.Validate())

		assert.GreaterOrEqual(t, tx.Amount, 5.0)
		assert.LessOrEqual(t, tx.Amount, 5000.0)
		assert.GreaterOrEqual(t, tx.TransactionTime, 0.0)
		assert.LessOrEqual(t, tx.TransactionTime, 24.0)
		assert.GreaterOrEqual(t, tx.LocationDistance, 0.0)
		assert.LessOrEqual(t, tx.LocationDistance, 5000.0)
		assert.GreaterOrEqual(t, tx.TransactionFrequency, 1)
		assert.LessOrEqual(t, tx.TransactionFrequency, 15)
		assert.GreaterOrEqual(t, tx.AccountAgeDays, 1)
		assert.LessOrEqual(t, tx.AccountAgeDays, 3650)
		assert.Contains(t, categories, tx.ProductCategory)
		drawn[tx.ProductCategory]++

		assert.InDelta(t, tx.Amount, math.Round(tx.Amount*100)/100, 1e-9)

		assert.GreaterOrEqual(t, s.Score.Score, 0.0)
		assert.LessOrEqual(t, s.Score.Score, 1.0)
		assert.LessOrEqual(t, math.Abs(s.Score.Noise), 0.05)
	}

	// Aliases such as Groceries are never drawn, so each category gets an
	// equal share of about 250.
	require.Len(t, drawn, len(categories))
	for category, n := range drawn {
		assert.InDelta(t, 250, n, 100, category)
	}
}

func TestGenerate_IDsAndDates(t *testing.T) {
	g := newGenerator(t)
	samples := collect(g, 3, 5)

	assert.Equal(t, "syn-5-0", samples[0].Transaction.ID)
	assert.Equal(t, "syn-5-2", samples[2].Transaction.ID)
	for _, s := range samples {
		assert.False(t, s.Transaction.TransactionDate.Before(synth.Epoch))
	}
}

func TestGenerate_LabelMatchesScorer(t *testing.T) {
	g := newGenerator(t)
	scorer, err := risk.NewScorer(domain.DefaultScoringConfig())
	require.NoError(t, err)

	for s := range g.Generate(300, 11) {
		clean, err := scorer.Score(risk.InputFrom(&s.Transaction))
		require.NoError(t, err)
		assert.InDelta(t, clean.Raw, s.Score.Raw, 1e-12)
		// Noise of at most 0.05 plus rounding to 2 digits.
		assert.InDelta(t, clean.Score, s.Score.Score, 0.05+0.01+1e-9)
	}
}

func TestGenerateDataset(t *testing.T) {
	g := newGenerator(t)

	var fraud, total int
	for tx, label := range g.GenerateDataset(1000, 42) {
		total++
		assert.Equal(t, label.Score >= 0.5, label.IsFraudulent)
		require.NotNil(t, tx.IsFraudulent)
		assert.Equal(t, label.IsFraudulent, *tx.IsFraudulent)
		if label.IsFraudulent {
			fraud++
		}
	}
	assert.Equal(t, 1000, total)
	assert.Positive(t, fraud)
	assert.Less(t, fraud, total)
}

func TestGenerateDataset_Threshold(t *testing.T) {
	g, err := synth.NewGenerator(domain.DefaultScoringConfig(), domain.GeneratorConfig{LabelThreshold: 0.99})
	require.NoError(t, err)
	assert.Equal(t, 0.99, g.LabelThreshold())

	g, err = synth.NewGenerator(domain.DefaultScoringConfig(), domain.GeneratorConfig{})
	require.NoError(t, err)
	assert.Equal(t, synth.DefaultLabelThreshold, g.LabelThreshold())
}

func TestNewGenerator_InvalidWeights(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Weights["amount"] = 0.9

	_, err := synth.NewGenerator(cfg, domain.GeneratorConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidWeightConfig)
}
