package rules

import "github.com/opensource-finance/fraudguard/internal/domain"

// BuiltinRules returns the default heuristic rule set.
func BuiltinRules() []domain.HeuristicRule {
	return []domain.HeuristicRule{
		{
			Name:       "new-account-high-value",
			Expression: "account_age_days < 30 && amount >= 1000.0",
			Reason:     "High-value purchase from an account opened less than 30 days ago.",
		},
		{
			Name:       "young-account-high-risk-category",
			Expression: "high_risk_category && account_age_days < 90 && amount >= 500.0",
			Reason:     "Large purchase in a high-risk category from a young account.",
		},
		{
			Name:       "spend-outpaces-account-age",
			Expression: "amount_per_age_day > 500.0",
			Reason:     "Spending far exceeds what the account's age supports.",
		},
		{
			Name:       "remote-burst",
			Expression: "transaction_frequency >= 10 && location_distance > 1000.0",
			Reason:     "Burst of transactions far from the customer's usual location.",
		},
		{
			Name:       "late-night-remote-purchase",
			Expression: "(transaction_time < 5.0 || transaction_time > 23.0) && location_distance > 2000.0 && amount >= 1000.0",
			Reason:     "Large late-night purchase far from the customer's usual location.",
		},
	}
}
