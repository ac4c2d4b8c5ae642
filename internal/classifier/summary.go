package classifier

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Summary is the human-readable form of a transaction handed to text
// analyzers, together with the structured fields it was built from.
type Summary struct {
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields"`
}

// Summarize describes tx for a text analyzer. Fields carries the values
// rule expressions are evaluated against.
func Summarize(tx *domain.Transaction, highRisk bool) Summary {
	var b strings.Builder
	b.WriteString("Analyze this transaction for potential fraud:\n")
	fmt.Fprintf(&b, "Amount: $%.2f\n", tx.Amount)
	fmt.Fprintf(&b, "Product Category: %s\n", tx.ProductCategory)
	fmt.Fprintf(&b, "Customer Location: %s\n", tx.CustomerLocation)
	fmt.Fprintf(&b, "Distance From Usual Location: %.1f km\n", tx.LocationDistance)
	fmt.Fprintf(&b, "Account Age: %d days\n", tx.AccountAgeDays)
	fmt.Fprintf(&b, "Time Of Day: %05.2f h\n", tx.TransactionTime)
	fmt.Fprintf(&b, "Transactions In Last 24h: %d\n", tx.TransactionFrequency)
	b.WriteString("Is this transaction potentially fraudulent? Explain briefly.")

	return Summary{
		Text: b.String(),
		Fields: map[string]any{
			"amount":                tx.Amount,
			"account_age_days":      int64(tx.AccountAgeDays),
			"product_category":      tx.ProductCategory,
			"customer_location":     tx.CustomerLocation,
			"location_distance":     tx.LocationDistance,
			"transaction_time":      tx.TransactionTime,
			"transaction_frequency": int64(tx.TransactionFrequency),
			"amount_per_age_day":    tx.Amount / float64(tx.AccountAgeDays+1),
			"high_risk_category":    highRisk,
		},
	}
}
