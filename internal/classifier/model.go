package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Model maps a feature vector to a fraud probability in [0, 1].
type Model interface {
	Features() []string
	Probability(ctx context.Context, x []float64) (float64, error)
}

// Standardization rescales inputs as (x - mean) / scale before inference.
type Standardization struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

func (s *Standardization) apply(x []float64) ([]float64, error) {
	if s == nil || (len(s.Mean) == 0 && len(s.Scale) == 0) {
		return x, nil
	}
	if len(s.Mean) != len(x) || len(s.Scale) != len(x) {
		return nil, fmt.Errorf("standardization expects %d inputs, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x[i] - s.Mean[i]) / scale
	}
	return out, nil
}

// LogisticModel is a logistic regression over the lexical features.
type LogisticModel struct {
	FeatureNames    []string         `yaml:"features"`
	Coefficients    []float64        `yaml:"coefficients"`
	Intercept       float64          `yaml:"intercept"`
	Standardization *Standardization `yaml:"standardization,omitempty"`
}

func (m *LogisticModel) Features() []string { return slices.Clone(m.FeatureNames) }

func (m *LogisticModel) validate() error {
	if len(m.FeatureNames) == 0 {
		return errors.New("logistic model lists no features")
	}
	if len(m.Coefficients) != len(m.FeatureNames) {
		return fmt.Errorf("logistic model has %d coefficients for %d features", len(m.Coefficients), len(m.FeatureNames))
	}
	return nil
}

// Probability returns sigmoid(w·x + b).
func (m *LogisticModel) Probability(ctx context.Context, x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("logistic model expects %d inputs, got %d", len(m.Coefficients), len(x))
	}
	x, err := m.Standardization.apply(x)
	if err != nil {
		return 0, err
	}
	z := m.Intercept
	for i, w := range m.Coefficients {
		z += w * x[i]
	}
	return sigmoid(z), nil
}

// Layer is a dense layer: out = activation(W·in + b), W is [out][in].
type Layer struct {
	Weights    [][]float64 `yaml:"weights"`
	Bias       []float64   `yaml:"bias"`
	Activation string      `yaml:"activation"`
}

// DenseNetwork is a feed-forward network ending in a single probability unit.
type DenseNetwork struct {
	FeatureNames    []string         `yaml:"features"`
	Layers          []Layer          `yaml:"layers"`
	Standardization *Standardization `yaml:"standardization,omitempty"`
}

func (n *DenseNetwork) Features() []string { return slices.Clone(n.FeatureNames) }

func (n *DenseNetwork) validate() error {
	if len(n.FeatureNames) == 0 {
		return errors.New("network lists no features")
	}
	if len(n.Layers) == 0 {
		return errors.New("network has no layers")
	}
	width := len(n.FeatureNames)
	for i, l := range n.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("layer %d: %d weight rows for %d biases", i, len(l.Weights), len(l.Bias))
		}
		for _, row := range l.Weights {
			if len(row) != width {
				return fmt.Errorf("layer %d: expected %d inputs per unit, got %d", i, width, len(row))
			}
		}
		if _, ok := activations[l.Activation]; !ok {
			return fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		width = len(l.Weights)
	}
	if width != 1 {
		return fmt.Errorf("network must end in one unit, ends in %d", width)
	}
	return nil
}

// Probability runs the forward pass.
func (n *DenseNetwork) Probability(ctx context.Context, x []float64) (float64, error) {
	if len(x) != len(n.FeatureNames) {
		return 0, fmt.Errorf("network expects %d inputs, got %d", len(n.FeatureNames), len(x))
	}
	act, err := n.Standardization.apply(x)
	if err != nil {
		return 0, err
	}
	for _, l := range n.Layers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		f := activations[l.Activation]
		next := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			sum := l.Bias[j]
			for k, w := range row {
				sum += w * act[k]
			}
			next[j] = f(sum)
		}
		act = next
	}
	return math.Max(0, math.Min(1, act[0])), nil
}

var activations = map[string]func(float64) float64{
	"":        sigmoid,
	"sigmoid": sigmoid,
	"relu":    func(x float64) float64 { return math.Max(0, x) },
	"tanh":    math.Tanh,
	"linear":  func(x float64) float64 { return x },
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// LoadLogistic reads a logistic model artifact.
func LoadLogistic(path string) (*LogisticModel, error) {
	var m LogisticModel
	if err := loadArtifact(path, &m); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// LoadDenseNetwork reads a dense network artifact.
func LoadDenseNetwork(path string) (*DenseNetwork, error) {
	var n DenseNetwork
	if err := loadArtifact(path, &n); err != nil {
		return nil, err
	}
	if err := n.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &n, nil
}

func loadArtifact(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model artifact: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	return nil
}
