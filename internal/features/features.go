// Package features turns transactions into fixed-order numeric vectors.
//
// Two profiles exist. The lexical profile feeds the learned classifiers and
// is built from raw values and label lengths. The risk profile feeds the
// weighted risk score and holds normalized values in [0, 1].
package features

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/risk"
)

// Profile names.
const (
	ProfileLexical = "lexical"
	ProfileRisk    = "risk"
)

// Extractor encodes a transaction as a feature vector. Implementations are
// pure and safe for concurrent use.
type Extractor interface {
	Profile() string
	Names() []string
	Extract(tx *domain.Transaction) (domain.FeatureVector, error)
}

type lexicalFunc func(tx *domain.Transaction, highRisk map[string]bool) float64

var lexicalRegistry = map[string]lexicalFunc{
	"amount": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return tx.Amount
	},
	"account_age_days": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return float64(tx.AccountAgeDays)
	},
	"category_length": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return float64(utf8.RuneCountInString(tx.ProductCategory))
	},
	"location_length": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return float64(utf8.RuneCountInString(tx.CustomerLocation))
	},
	"amount_per_age_day": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return tx.Amount / float64(tx.AccountAgeDays+1)
	},
	"high_risk_category": func(tx *domain.Transaction, highRisk map[string]bool) float64 {
		if highRisk[strings.ToLower(strings.TrimSpace(tx.ProductCategory))] {
			return 1
		}
		return 0
	},
	"transaction_time": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return tx.TransactionTime
	},
	"transaction_frequency": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return float64(tx.TransactionFrequency)
	},
	"location_distance": func(tx *domain.Transaction, _ map[string]bool) float64 {
		return tx.LocationDistance
	},
}

// DefaultLexical is the lexical feature order the shipped models are trained on.
var DefaultLexical = []string{
	"amount",
	"account_age_days",
	"category_length",
	"location_length",
	"amount_per_age_day",
	"high_risk_category",
}

// AvailableLexical lists every lexical feature name, sorted.
func AvailableLexical() []string {
	names := make([]string, 0, len(lexicalRegistry))
	for name := range lexicalRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lexical is the classifier-input extractor.
type Lexical struct {
	names    []string
	funcs    []lexicalFunc
	highRisk map[string]bool
}

// NewLexical builds the lexical extractor. An empty feature list selects
// DefaultLexical; unknown or repeated names are rejected.
func NewLexical(cfg domain.FeaturesConfig) (*Lexical, error) {
	names := cfg.Lexical
	if len(names) == 0 {
		names = DefaultLexical
	}

	l := &Lexical{
		names:    make([]string, 0, len(names)),
		funcs:    make([]lexicalFunc, 0, len(names)),
		highRisk: make(map[string]bool, len(cfg.HighRiskCategories)),
	}
	for _, name := range names {
		fn, ok := lexicalRegistry[name]
		if !ok {
			return nil, fmt.Errorf("unknown lexical feature %q (available: %s)", name, strings.Join(AvailableLexical(), ", "))
		}
		if slices.Contains(l.names, name) {
			return nil, fmt.Errorf("lexical feature %q listed twice", name)
		}
		l.names = append(l.names, name)
		l.funcs = append(l.funcs, fn)
	}

	highRisk := cfg.HighRiskCategories
	if highRisk == nil {
		highRisk = []string{"electronics", "jewelry"}
	}
	for _, c := range highRisk {
		l.highRisk[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return l, nil
}

func (l *Lexical) Profile() string { return ProfileLexical }

// IsHighRisk reports whether category is in the high-risk set.
func (l *Lexical) IsHighRisk(category string) bool {
	return l.highRisk[strings.ToLower(strings.TrimSpace(category))]
}

func (l *Lexical) Names() []string { return slices.Clone(l.names) }

// Extract validates tx and computes the configured features in order.
func (l *Lexical) Extract(tx *domain.Transaction) (domain.FeatureVector, error) {
	if tx == nil {
		return domain.FeatureVector{}, &domain.MissingFieldError{Field: "transaction", Reason: "required"}
	}
	if err := tx.Validate(); err != nil {
		return domain.FeatureVector{}, err
	}

	v := domain.FeatureVector{
		Profile: ProfileLexical,
		Names:   slices.Clone(l.names),
		Values:  make([]float64, len(l.funcs)),
	}
	for i, fn := range l.funcs {
		v.Values[i] = fn(tx, l.highRisk)
	}
	return v, nil
}

// Risk is the risk-score-input extractor. Its features follow the
// scorer's configured weights.
type Risk struct {
	norm  *risk.Normalizer
	names []string
}

// NewRisk builds the risk-profile extractor for scorer.
func NewRisk(scorer *risk.Scorer) *Risk {
	return &Risk{norm: scorer.Normalizer(), names: scorer.Names()}
}

func (r *Risk) Profile() string { return ProfileRisk }

func (r *Risk) Names() []string { return slices.Clone(r.names) }

// Extract validates tx and returns normalized risk features.
func (r *Risk) Extract(tx *domain.Transaction) (domain.FeatureVector, error) {
	if tx == nil {
		return domain.FeatureVector{}, &domain.MissingFieldError{Field: "transaction", Reason: "required"}
	}
	if err := tx.Validate(); err != nil {
		return domain.FeatureVector{}, err
	}
	return r.norm.Normalize(risk.InputFrom(tx), r.names)
}
