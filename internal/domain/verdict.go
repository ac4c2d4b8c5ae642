package domain

import (
	"time"
)

// Explanation markers. A verdict explanation carries exactly one of them.
const (
	ExplanationFraud      = "Potential fraud detected."
	ExplanationLegitimate = "No fraudulent activity detected."
)

// UnavailableExplanation is the explanation of a fail-soft signal.
const UnavailableExplanation = "unavailable"

// SignalKind identifies the family of a fraud signal.
type SignalKind string

const (
	KindStatistical SignalKind = "statistical"
	KindNeural      SignalKind = "neural"
	KindHeuristic   SignalKind = "heuristic"
	KindRisk        SignalKind = "risk"
)

// Signal is one classifier's opinion on a transaction.
// An unavailable signal never contributes to the verdict.
type Signal struct {
	Source      string     `json:"source"`
	Kind        SignalKind `json:"kind"`
	Fraudulent  bool       `json:"fraudulent"`
	Available   bool       `json:"available"`
	Probability float64    `json:"probability,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	LatencyMs   int64      `json:"latencyMs"`
}

// Unavailable returns the fail-soft signal for a classifier that could not answer.
func Unavailable(source string, kind SignalKind) Signal {
	return Signal{Source: source, Kind: kind, Explanation: UnavailableExplanation}
}

// Verdict is the final fraud decision for a transaction.
type Verdict struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId,omitempty"`
	IsFraudulent  bool            `json:"isFraudulent"`
	Explanation   string          `json:"fraudExplanation"`
	RiskScore     float64         `json:"riskScore"`
	Signals       []Signal        `json:"signals"`
	Metadata      VerdictMetadata `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// VerdictMetadata contains processing information.
type VerdictMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	ExtractMs     int64  `json:"extractMs"`
	ClassifyMs    int64  `json:"classifyMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// FlaggedBy returns the sources of every available fraudulent signal.
func (v *Verdict) FlaggedBy() []string {
	var out []string
	for _, s := range v.Signals {
		if s.Available && s.Fraudulent {
			out = append(out, s.Source)
		}
	}
	return out
}

// PredictionResponse is the API response for a scored transaction.
type PredictionResponse struct {
	Transaction *Transaction `json:"transaction"`
	Verdict     *Verdict     `json:"verdict"`
}
