// Package ensemble combines classifier signals into a verdict.
package ensemble

import (
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Decide is the three-classifier form of Combine. heuristicExplanation is
// only surfaced when the verdict is fraudulent. The fail-soft pair
// (false, "unavailable") marks the heuristic signal unavailable.
func Decide(statistical, neural, heuristic bool, heuristicExplanation string) domain.Verdict {
	return Combine([]domain.Signal{
		{Source: "statistical", Kind: domain.KindStatistical, Fraudulent: statistical, Available: true},
		{Source: "neural", Kind: domain.KindNeural, Fraudulent: neural, Available: true},
		{
			Source:      "heuristic",
			Kind:        domain.KindHeuristic,
			Fraudulent:  heuristic,
			Available:   heuristic || !isUnavailable(heuristicExplanation),
			Explanation: heuristicExplanation,
		},
	})
}

func isUnavailable(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), domain.UnavailableExplanation)
}

// Combine applies the OR policy: the verdict is fraudulent iff any
// available signal is. Unavailable signals are carried for the record but
// never vote. The explanation never changes the boolean.
func Combine(signals []domain.Signal) domain.Verdict {
	v := domain.Verdict{Signals: signals}
	for _, s := range signals {
		if s.Available && s.Fraudulent {
			v.IsFraudulent = true
			break
		}
	}

	if !v.IsFraudulent {
		v.Explanation = domain.ExplanationLegitimate
		return v
	}

	if text := heuristicText(signals); text != "" {
		v.Explanation = domain.ExplanationFraud + " " + text
		return v
	}
	v.Explanation = domain.ExplanationFraud + " Flagged by: " + strings.Join(v.FlaggedBy(), ", ") + "."
	return v
}

// heuristicText returns the first available heuristic explanation that can
// be appended to a fraud verdict without contradicting it.
func heuristicText(signals []domain.Signal) string {
	for _, s := range signals {
		if s.Kind != domain.KindHeuristic || !s.Available {
			continue
		}
		text := strings.TrimSpace(s.Explanation)
		if text == "" || isUnavailable(text) || strings.Contains(text, domain.ExplanationLegitimate) {
			continue
		}
		return text
	}
	return ""
}
