package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Risk feature names, in canonical order.
const (
	FeatureTime       = "time"
	FeatureAccountAge = "account_age"
	FeatureAmount     = "amount"
	FeatureCategory   = "category"
	FeatureLocation   = "location"
	FeatureFrequency  = "frequency"
)

var canonicalOrder = []string{
	FeatureTime,
	FeatureAccountAge,
	FeatureAmount,
	FeatureCategory,
	FeatureLocation,
	FeatureFrequency,
}

// ErrInvalidBounds is returned for unusable normalization constants.
var ErrInvalidBounds = errors.New("invalid risk bounds")

// Input holds the raw values the risk score is computed from.
type Input struct {
	Amount           float64
	TimeOfDay        float64
	LocationDistance float64
	MerchantCategory string
	Frequency        int
	AccountAgeDays   int
}

// Validate rejects inputs that cannot be normalized. Out-of-range values
// are clamped later; NaN and infinities are not.
func (in Input) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"amount", in.Amount},
		{"transactionTime", in.TimeOfDay},
		{"locationDistance", in.LocationDistance},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &domain.MissingFieldError{Field: f.name, Reason: "must be a finite number"}
		}
	}
	return nil
}

// InputFrom maps a transaction onto the risk inputs.
func InputFrom(tx *domain.Transaction) Input {
	return Input{
		Amount:           tx.Amount,
		TimeOfDay:        tx.TransactionTime,
		LocationDistance: tx.LocationDistance,
		MerchantCategory: tx.ProductCategory,
		Frequency:        tx.TransactionFrequency,
		AccountAgeDays:   tx.AccountAgeDays,
	}
}

// Normalizer maps raw inputs onto [0, 1] per risk feature.
type Normalizer struct {
	bounds      domain.RiskBounds
	categories  map[string]float64
	names       []string
	reject      bool
	defaultRisk float64
}

// NewNormalizer validates the bounds and category table.
func NewNormalizer(cfg domain.ScoringConfig) (*Normalizer, error) {
	b := cfg.Bounds
	switch {
	case b.MaxAmount <= b.MinAmount:
		return nil, fmt.Errorf("%w: maxAmount %.2f must exceed minAmount %.2f", ErrInvalidBounds, b.MaxAmount, b.MinAmount)
	case b.TimeRange <= 0:
		return nil, fmt.Errorf("%w: timeRange must be positive", ErrInvalidBounds)
	case b.MaxDistance <= 0:
		return nil, fmt.Errorf("%w: maxDistance must be positive", ErrInvalidBounds)
	case b.MaxFrequency <= 1:
		return nil, fmt.Errorf("%w: maxFrequency must exceed 1", ErrInvalidBounds)
	case b.MaxAgeDays <= 0:
		return nil, fmt.Errorf("%w: maxAgeDays must be positive", ErrInvalidBounds)
	}

	var reject bool
	switch cfg.UnknownCategory {
	case "", domain.UnknownCategoryDefault:
	case domain.UnknownCategoryReject:
		reject = true
	default:
		return nil, fmt.Errorf("unknown category policy %q", cfg.UnknownCategory)
	}

	if cfg.DefaultCategoryRisk < 0 || cfg.DefaultCategoryRisk > 1 {
		return nil, fmt.Errorf("%w: defaultCategoryRisk %.2f outside [0, 1]", ErrInvalidBounds, cfg.DefaultCategoryRisk)
	}

	categories := make(map[string]float64, len(cfg.Categories))
	names := make([]string, 0, len(cfg.Categories))
	for name, r := range cfg.Categories {
		if r < 0 || r > 1 {
			return nil, fmt.Errorf("%w: category %q risk %.2f outside [0, 1]", ErrInvalidBounds, name, r)
		}
		categories[strings.ToLower(strings.TrimSpace(name))] = r
		names = append(names, name)
	}
	slices.Sort(names)

	for alias, target := range cfg.CategoryAliases {
		r, ok := categories[strings.ToLower(strings.TrimSpace(target))]
		if !ok {
			return nil, fmt.Errorf("%w: category alias %q names unknown category %q", ErrInvalidBounds, alias, target)
		}
		key := strings.ToLower(strings.TrimSpace(alias))
		if _, dup := categories[key]; dup {
			return nil, fmt.Errorf("%w: category alias %q shadows a category", ErrInvalidBounds, alias)
		}
		categories[key] = r
	}

	return &Normalizer{
		bounds:      b,
		categories:  categories,
		names:       names,
		reject:      reject,
		defaultRisk: cfg.DefaultCategoryRisk,
	}, nil
}

// Categories returns the configured category names, sorted. Aliases are
// not included.
func (n *Normalizer) Categories() []string {
	return slices.Clone(n.names)
}

// Bounds returns the normalization constants.
func (n *Normalizer) Bounds() domain.RiskBounds {
	return n.bounds
}

// CategoryRisk looks up a merchant category, case-insensitively.
func (n *Normalizer) CategoryRisk(category string) (float64, error) {
	if r, ok := n.categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return r, nil
	}
	if n.reject {
		return 0, &domain.UnknownCategoryError{Category: category}
	}
	slog.Warn("unknown merchant category, using default risk",
		"category", category,
		"risk", n.defaultRisk,
	)
	return n.defaultRisk, nil
}

// Value returns the normalized value of a single risk feature.
func (n *Normalizer) Value(name string, in Input) (float64, error) {
	b := n.bounds
	switch name {
	case FeatureAmount:
		return clamp01((in.Amount - b.MinAmount) / (b.MaxAmount - b.MinAmount)), nil
	case FeatureTime:
		return clamp01(math.Abs(in.TimeOfDay-b.PreferredTime) / b.TimeRange), nil
	case FeatureLocation:
		return clamp01(in.LocationDistance / b.MaxDistance), nil
	case FeatureCategory:
		return n.CategoryRisk(in.MerchantCategory)
	case FeatureFrequency:
		return clamp01(float64(in.Frequency-1) / float64(b.MaxFrequency-1)), nil
	case FeatureAccountAge:
		return clamp01(float64(in.AccountAgeDays) / float64(b.MaxAgeDays)), nil
	default:
		return 0, fmt.Errorf("unknown risk feature %q", name)
	}
}

// Normalize builds a risk-profile vector with the given features, in order.
func (n *Normalizer) Normalize(in Input, names []string) (domain.FeatureVector, error) {
	v := domain.FeatureVector{
		Profile: "risk",
		Names:   slices.Clone(names),
		Values:  make([]float64, len(names)),
	}
	for i, name := range names {
		val, err := n.Value(name, in)
		if err != nil {
			return domain.FeatureVector{}, err
		}
		v.Values[i] = val
	}
	return v, nil
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
