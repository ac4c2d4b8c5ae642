package domain

import (
	"math"
	"strings"
	"time"
)

// Transaction is a single purchase presented for a fraud verdict.
// Once scored it is not mutated; the reviewer label is the only field
// updated afterwards.
type Transaction struct {
	ID string `json:"id"`

	Amount           float64 `json:"amount"`
	ProductCategory  string  `json:"productCategory"`
	CustomerLocation string  `json:"customerLocation"`

	// LocationDistance is the distance in km from the customer's usual location.
	LocationDistance float64 `json:"locationDistance"`
	AccountAgeDays   int     `json:"accountAgeDays"`

	// TransactionTime is the hour of day in [0, 24].
	TransactionTime float64 `json:"transactionTime"`

	// TransactionFrequency counts the customer's transactions in the last 24h.
	TransactionFrequency int `json:"transactionFrequency"`

	CustomerID      string    `json:"customerId,omitempty"`
	TransactionDate time.Time `json:"transactionDate"`

	// IsFraudulent is the manual reviewer label, nil until reviewed.
	IsFraudulent *bool `json:"isFraudulent,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the fields every extractor depends on.
func (t *Transaction) Validate() error {
	switch {
	case !finite(t.Amount):
		return &MissingFieldError{Field: "amount", Reason: "must be a finite number"}
	case !finite(t.LocationDistance):
		return &MissingFieldError{Field: "locationDistance", Reason: "must be a finite number"}
	case !finite(t.TransactionTime):
		return &MissingFieldError{Field: "transactionTime", Reason: "must be a finite number"}
	case t.Amount <= 0:
		return &MissingFieldError{Field: "amount", Reason: "must be greater than 0"}
	case strings.TrimSpace(t.ProductCategory) == "":
		return &MissingFieldError{Field: "productCategory", Reason: "required"}
	case strings.TrimSpace(t.CustomerLocation) == "":
		return &MissingFieldError{Field: "customerLocation", Reason: "required"}
	case t.AccountAgeDays < 0:
		return &MissingFieldError{Field: "accountAgeDays", Reason: "must not be negative"}
	case t.LocationDistance < 0:
		return &MissingFieldError{Field: "locationDistance", Reason: "must not be negative"}
	case t.TransactionTime < 0 || t.TransactionTime > 24:
		return &MissingFieldError{Field: "transactionTime", Reason: "must be an hour in [0, 24]"}
	case t.TransactionFrequency < 0:
		return &MissingFieldError{Field: "transactionFrequency", Reason: "must not be negative"}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// TransactionRequest is the API and bus payload for a transaction.
// Pointer fields distinguish an absent value from an explicit zero.
type TransactionRequest struct {
	Amount               *float64   `json:"amount"`
	ProductCategory      string     `json:"productCategory"`
	CustomerLocation     string     `json:"customerLocation"`
	LocationDistance     *float64   `json:"locationDistance,omitempty"`
	AccountAgeDays       *int       `json:"accountAgeDays"`
	TransactionTime      *float64   `json:"transactionTime,omitempty"`
	TransactionFrequency *int       `json:"transactionFrequency,omitempty"`
	CustomerID           string     `json:"customerId,omitempty"`
	TransactionDate      *time.Time `json:"transactionDate,omitempty"`
}

// Validate reports the first required field that is absent.
func (r *TransactionRequest) Validate() error {
	if r.Amount == nil {
		return &MissingFieldError{Field: "amount", Reason: "required"}
	}
	if r.AccountAgeDays == nil {
		return &MissingFieldError{Field: "accountAgeDays", Reason: "required"}
	}
	if strings.TrimSpace(r.ProductCategory) == "" {
		return &MissingFieldError{Field: "productCategory", Reason: "required"}
	}
	if strings.TrimSpace(r.CustomerLocation) == "" {
		return &MissingFieldError{Field: "customerLocation", Reason: "required"}
	}
	return nil
}

// ToTransaction converts a request to a Transaction, filling optional fields.
// TransactionFrequency is left at 0 when absent so the caller can derive it.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	tx := &Transaction{
		ProductCategory:  strings.TrimSpace(r.ProductCategory),
		CustomerLocation: strings.TrimSpace(r.CustomerLocation),
		CustomerID:       r.CustomerID,
		TransactionDate:  now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if r.Amount != nil {
		tx.Amount = *r.Amount
	}
	if r.AccountAgeDays != nil {
		tx.AccountAgeDays = *r.AccountAgeDays
	}
	if r.LocationDistance != nil {
		tx.LocationDistance = *r.LocationDistance
	}
	if r.TransactionDate != nil {
		tx.TransactionDate = r.TransactionDate.UTC()
	}
	if r.TransactionTime != nil {
		tx.TransactionTime = *r.TransactionTime
	} else {
		tx.TransactionTime = HourOfDay(tx.TransactionDate)
	}
	if r.TransactionFrequency != nil {
		tx.TransactionFrequency = *r.TransactionFrequency
	}
	return tx
}

// HasFrequency reports whether the request carried a transaction frequency.
func (r *TransactionRequest) HasFrequency() bool {
	return r.TransactionFrequency != nil
}

// HourOfDay returns the fractional hour of t, e.g. 14:30 is 14.5.
func HourOfDay(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

// TransactionUpdate carries a reviewer's manual fraud label.
type TransactionUpdate struct {
	IsFraudulent *bool `json:"isFraudulent"`
}
