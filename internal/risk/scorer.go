// Package risk computes the explainable weighted risk score of a transaction.
package risk

import (
	"fmt"
	"math"
	"slices"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/shopspring/decimal"
)

// WeightTolerance is how far the weight sum may drift from 1.
const WeightTolerance = 1e-6

// NoiseSource yields uniform values in [0, 1). *math/rand/v2.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
}

// Contribution is one feature's share of the raw score.
type Contribution struct {
	Feature    string  `json:"feature"`
	Normalized float64 `json:"normalized"`
	Weight     float64 `json:"weight"`
	Value      float64 `json:"value"`
}

// Result is a risk score with its breakdown.
type Result struct {
	// Score is clamped to [0, 1] and rounded.
	Score float64 `json:"score"`
	// Raw is the weighted sum before noise, clamping and rounding.
	Raw           float64        `json:"raw"`
	Noise         float64        `json:"noise,omitempty"`
	Contributions []Contribution `json:"contributions"`
}

// Scorer computes weighted risk scores. It is immutable and safe for
// concurrent use.
type Scorer struct {
	norm      *Normalizer
	weights   map[string]float64
	names     []string
	noiseBand float64
	precision int32
}

// NewScorer validates cfg and builds a scorer. Weight errors are
// *domain.InvalidWeightConfigError.
func NewScorer(cfg domain.ScoringConfig) (*Scorer, error) {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}
	if cfg.NoiseBand < 0 || cfg.NoiseBand > 1 {
		return nil, fmt.Errorf("%w: noiseBand %.2f outside [0, 1]", ErrInvalidBounds, cfg.NoiseBand)
	}
	if cfg.Precision < 0 {
		return nil, fmt.Errorf("%w: precision must not be negative", ErrInvalidBounds)
	}

	norm, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, name := range canonicalOrder {
		if _, ok := cfg.Weights[name]; ok {
			names = append(names, name)
		}
	}

	weights := make(map[string]float64, len(cfg.Weights))
	for k, w := range cfg.Weights {
		weights[k] = w
	}

	return &Scorer{
		norm:      norm,
		weights:   weights,
		names:     names,
		noiseBand: cfg.NoiseBand,
		precision: cfg.Precision,
	}, nil
}

// ValidateWeights checks that every weight names a risk feature, is
// non-negative and that they sum to 1 within WeightTolerance.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return &domain.InvalidWeightConfigError{Reason: "no weights configured"}
	}

	var sum float64
	for name, w := range weights {
		if !slices.Contains(canonicalOrder, name) {
			return &domain.InvalidWeightConfigError{Reason: fmt.Sprintf("unknown feature %q", name)}
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return &domain.InvalidWeightConfigError{Reason: fmt.Sprintf("weight for %q must be a non-negative number", name)}
		}
		sum += w
	}

	if math.Abs(sum-1) > WeightTolerance {
		return &domain.InvalidWeightConfigError{Reason: "weights must sum to 1", Sum: sum}
	}
	return nil
}

// Names returns the weighted features in canonical order.
func (s *Scorer) Names() []string {
	return slices.Clone(s.names)
}

// Normalizer returns the scorer's normalizer.
func (s *Scorer) Normalizer() *Normalizer {
	return s.norm
}

// Score computes the deterministic risk score of in. No noise is applied.
func (s *Scorer) Score(in Input) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	v, err := s.norm.Normalize(in, s.names)
	if err != nil {
		return Result{}, err
	}
	return s.Weigh(v)
}

// Weigh computes the score from an already normalized risk-profile vector.
func (s *Scorer) Weigh(v domain.FeatureVector) (Result, error) {
	res := Result{Contributions: make([]Contribution, 0, len(s.names))}
	for _, name := range s.names {
		val, ok := v.Get(name)
		if !ok {
			return Result{}, &domain.MissingFieldError{Field: name, Reason: "absent from risk feature vector"}
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Result{}, &domain.MissingFieldError{Field: name, Reason: "must be a finite number"}
		}
		w := s.weights[name]
		res.Contributions = append(res.Contributions, Contribution{
			Feature:    name,
			Normalized: val,
			Weight:     w,
			Value:      w * val,
		})
		res.Raw += w * val
	}
	res.Score = s.finalize(res.Raw)
	return res, nil
}

// ScoreWithNoise adds uniform noise in ±noiseBand before clamping. It is
// meant for labelling synthetic data only.
func (s *Scorer) ScoreWithNoise(in Input, noise NoiseSource) (Result, error) {
	res, err := s.Score(in)
	if err != nil {
		return Result{}, err
	}
	n := noise.Float64()
	if math.IsNaN(n) || n < 0 || n >= 1 {
		return Result{}, fmt.Errorf("risk: noise source returned %v outside [0, 1)", n)
	}
	res.Noise = (n*2 - 1) * s.noiseBand
	res.Score = s.finalize(res.Raw + res.Noise)
	return res, nil
}

func (s *Scorer) finalize(x float64) float64 {
	return decimal.NewFromFloat(clamp01(x)).Round(s.precision).InexactFloat64()
}
