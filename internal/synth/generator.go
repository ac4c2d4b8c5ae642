// Package synth generates reproducible synthetic transactions labelled by
// the weighted risk score.
package synth

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/risk"
	"github.com/shopspring/decimal"
)

// Epoch anchors generated transaction dates.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultLabelThreshold is the noisy score at or above which a sample is fraud.
const DefaultLabelThreshold = 0.5

// Sample is one generated transaction with its noisy risk score.
type Sample struct {
	Transaction domain.Transaction
	Score       risk.Result
}

// Label is the ground truth attached to a generated transaction.
type Label struct {
	Score        float64 `json:"fraudScore"`
	IsFraudulent bool    `json:"isFraudulent"`
}

// Generator draws transactions from the ranges the risk score is
// normalized over. It keeps no state between calls.
type Generator struct {
	scorer     *risk.Scorer
	categories []string
	bounds     domain.RiskBounds
	threshold  float64
}

// NewGenerator builds a generator for the scoring configuration. The
// categories drawn from are the scorer's table, sorted.
func NewGenerator(scoring domain.ScoringConfig, gen domain.GeneratorConfig) (*Generator, error) {
	scorer, err := risk.NewScorer(scoring)
	if err != nil {
		return nil, err
	}
	return NewGeneratorWithScorer(scorer, gen)
}

// NewGeneratorWithScorer shares an existing scorer.
func NewGeneratorWithScorer(scorer *risk.Scorer, gen domain.GeneratorConfig) (*Generator, error) {
	categories := scorer.Normalizer().Categories()
	if len(categories) == 0 {
		return nil, errors.New("synth: no merchant categories configured")
	}

	threshold := gen.LabelThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultLabelThreshold
	}

	return &Generator{
		scorer:     scorer,
		categories: categories,
		bounds:     scorer.Normalizer().Bounds(),
		threshold:  threshold,
	}, nil
}

// Generate yields count samples. The same (count, seed) always yields the
// same sequence, and each range over the result starts from the beginning.
func (g *Generator) Generate(count int, seed uint64) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		for i := range count {
			tx := g.draw(rng, seed, i)
			score, err := g.scorer.ScoreWithNoise(risk.InputFrom(&tx), rng)
			if err != nil {
				// Categories come from the scorer's own table.
				panic(fmt.Sprintf("synth: scoring generated transaction: %v", err))
			}
			if !yield(Sample{Transaction: tx, Score: score}) {
				return
			}
		}
	}
}

// GenerateDataset yields transactions paired with their ground-truth label.
func (g *Generator) GenerateDataset(count int, seed uint64) iter.Seq2[domain.Transaction, Label] {
	return func(yield func(domain.Transaction, Label) bool) {
		for s := range g.Generate(count, seed) {
			label := g.Label(s)
			tx := s.Transaction
			tx.IsFraudulent = &label.IsFraudulent
			if !yield(tx, label) {
				return
			}
		}
	}
}

// Label derives the ground truth for a sample.
func (g *Generator) Label(s Sample) Label {
	return Label{Score: s.Score.Score, IsFraudulent: s.Score.Score >= g.threshold}
}

// LabelThreshold returns the effective label threshold.
func (g *Generator) LabelThreshold() float64 {
	return g.threshold
}

func (g *Generator) draw(rng *rand.Rand, seed uint64, index int) domain.Transaction {
	b := g.bounds

	amount := round2(b.MinAmount + rng.Float64()*(b.MaxAmount-b.MinAmount))
	hour := round2(rng.Float64() * b.TimeRange)
	distance := round2(rng.Float64() * b.MaxDistance)
	category := g.categories[rng.IntN(len(g.categories))]
	frequency := 1 + rng.IntN(b.MaxFrequency)
	age := 1 + rng.IntN(b.MaxAgeDays)
	day := rng.IntN(365)

	date := Epoch.AddDate(0, 0, day).Add(time.Duration(hour * float64(time.Hour))).Truncate(time.Second)

	return domain.Transaction{
		ID:                   fmt.Sprintf("syn-%d-%d", seed, index),
		Amount:               amount,
		ProductCategory:      category,
		CustomerLocation:     locationLabel(distance),
		LocationDistance:     distance,
		AccountAgeDays:       age,
		TransactionTime:      hour,
		TransactionFrequency: frequency,
		TransactionDate:      date,
		CreatedAt:            date,
		UpdatedAt:            date,
	}
}

func locationLabel(distance float64) string {
	switch {
	case distance < 25:
		return "Local Store"
	case distance < 500:
		return "Regional"
	case distance < 2000:
		return "Domestic"
	default:
		return "International"
	}
}

func round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}
