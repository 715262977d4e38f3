package domain

import (
	"time"
)

// Transaction is a single scored transaction from an analysis run.
// Amounts and fraud scores come from the external scoring service; the
// insight core never mutates them.
type Transaction struct {
	ID string `json:"id,omitempty"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`

	// Scoring output
	FraudProbability float64 `json:"fraud_probability"`
	IsFraud          int     `json:"is_fraud"` // 1 = fraud, 0 = legitimate

	// Optional categorical fields used by the filter engine
	Category           string `json:"category,omitempty"`
	Merchant           string `json:"merchant,omitempty"`
	TransactionCountry string `json:"transaction_country,omitempty"`
	LoginCountry       string `json:"login_country,omitempty"`
	CardType           string `json:"card_type,omitempty"`
	TransactionType    string `json:"transaction_type,omitempty"`

	// FraudReason is the pattern label the scoring service attributed a
	// fraudulent transaction to; empty for legitimate transactions.
	FraudReason string `json:"fraud_reason,omitempty"`

	// Timestamp is kept as the raw string from the upstream payload.
	// It may be an ISO datetime, a bare date, or unparseable; the date
	// window filter fails open on anything it cannot parse.
	Timestamp string `json:"timestamp,omitempty"`
}

// Recommendation is a free-text, AI-generated remediation suggestion.
// Only Title and Description participate in pattern matching; the rest is
// opaque display data.
type Recommendation struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	FraudRate        string   `json:"fraud_rate,omitempty"`
	CaseCount        string   `json:"case_count,omitempty"`
	TotalAmount      string   `json:"total_amount,omitempty"`
	ImmediateActions []string `json:"immediate_actions,omitempty"`
	PreventionSteps  []string `json:"prevention_steps,omitempty"`
}

// BreakdownEntry is one row of the fraud-reason breakdown delivered with an
// analysis run, and recomputed over filtered sets by the stats package.
type BreakdownEntry struct {
	Label       string  `json:"label"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	TotalAmount float64 `json:"total_amount"`
}

// IntakePayload is the immutable bundle delivered once per analysis run,
// already decoded from the external scoring service.
type IntakePayload struct {
	Transactions         []Transaction    `json:"transactions"`
	Recommendations      []Recommendation `json:"recommendations"`
	FraudReasonBreakdown []BreakdownEntry `json:"fraud_reason_breakdown"`
}

// AnalysisRun is a stored intake payload with identity and audit fields.
// Transactions and recommendations are immutable for the life of the run;
// loading a new run fully replaces both.
type AnalysisRun struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`

	Transactions         []Transaction    `json:"transactions"`
	Recommendations      []Recommendation `json:"recommendations"`
	FraudReasonBreakdown []BreakdownEntry `json:"fraud_reason_breakdown"`
}

// PatternLabels returns the pattern labels observed in the run's breakdown,
// in delivery order. They extend the canonical label set as matching
// candidates.
func (r *AnalysisRun) PatternLabels() []string {
	labels := make([]string, 0, len(r.FraudReasonBreakdown))
	for _, e := range r.FraudReasonBreakdown {
		if e.Label != "" {
			labels = append(labels, e.Label)
		}
	}
	return labels
}
