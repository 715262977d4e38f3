package domain

import (
	"fmt"
	"hash/fnv"
)

// FilterSet is the mutable predicate state for one analyst session.
// It starts empty, is mutated only through ApplyUpdate / Reset, and is
// cleared when a new analysis run replaces the current one.
//
// Range pointers are nil when inactive; string filters are inactive when
// empty; booleans are inactive when false. Probability bounds are clamped
// into [0,1] at the moment they are set, never at filter time.
type FilterSet struct {
	AmountMin *float64 `json:"amountMin,omitempty"`
	AmountMax *float64 `json:"amountMax,omitempty"`

	FraudProbabilityMin *float64 `json:"fraudProbabilityMin,omitempty"`
	FraudProbabilityMax *float64 `json:"fraudProbabilityMax,omitempty"`

	// Case-insensitive substring filters
	Category string `json:"category,omitempty"`
	Merchant string `json:"merchant,omitempty"`

	// Exact-match filters
	TransactionCountry string `json:"transactionCountry,omitempty"`
	LoginCountry       string `json:"loginCountry,omitempty"`
	CardType           string `json:"cardType,omitempty"`
	TransactionType    string `json:"transactionType,omitempty"`
	Currency           string `json:"currency,omitempty"`

	// Date window, "YYYY-MM-DD". Start binds at 00:00:00, end at the last
	// instant of the day.
	DateStart string `json:"dateStart,omitempty"`
	DateEnd   string `json:"dateEnd,omitempty"`

	// Intended as a mutually exclusive toggle by the UI; the engine does
	// not enforce that, so both true filters out every transaction.
	FraudOnly      bool `json:"fraudOnly,omitempty"`
	LegitimateOnly bool `json:"legitimateOnly,omitempty"`

	// Optional CEL boolean expression applied as an additional predicate.
	Expression string `json:"expression,omitempty"`
}

// FilterUpdate carries a partial mutation of a FilterSet. Nil fields are
// left untouched.
type FilterUpdate struct {
	AmountMin           *float64 `json:"amountMin,omitempty"`
	AmountMax           *float64 `json:"amountMax,omitempty"`
	FraudProbabilityMin *float64 `json:"fraudProbabilityMin,omitempty"`
	FraudProbabilityMax *float64 `json:"fraudProbabilityMax,omitempty"`
	Category            *string  `json:"category,omitempty"`
	Merchant            *string  `json:"merchant,omitempty"`
	TransactionCountry  *string  `json:"transactionCountry,omitempty"`
	LoginCountry        *string  `json:"loginCountry,omitempty"`
	CardType            *string  `json:"cardType,omitempty"`
	TransactionType     *string  `json:"transactionType,omitempty"`
	Currency            *string  `json:"currency,omitempty"`
	DateStart           *string  `json:"dateStart,omitempty"`
	DateEnd             *string  `json:"dateEnd,omitempty"`
	FraudOnly           *bool    `json:"fraudOnly,omitempty"`
	LegitimateOnly      *bool    `json:"legitimateOnly,omitempty"`
	Expression          *string  `json:"expression,omitempty"`
}

// ApplyUpdate mutates the filter set in place. Probability bounds are
// clamped into [0,1] here, at entry, so the filter engine never sees an
// out-of-range bound.
func (f *FilterSet) ApplyUpdate(u *FilterUpdate) {
	if u.AmountMin != nil {
		f.AmountMin = ptr(*u.AmountMin)
	}
	if u.AmountMax != nil {
		f.AmountMax = ptr(*u.AmountMax)
	}
	if u.FraudProbabilityMin != nil {
		f.FraudProbabilityMin = ptr(clamp01(*u.FraudProbabilityMin))
	}
	if u.FraudProbabilityMax != nil {
		f.FraudProbabilityMax = ptr(clamp01(*u.FraudProbabilityMax))
	}
	if u.Category != nil {
		f.Category = *u.Category
	}
	if u.Merchant != nil {
		f.Merchant = *u.Merchant
	}
	if u.TransactionCountry != nil {
		f.TransactionCountry = *u.TransactionCountry
	}
	if u.LoginCountry != nil {
		f.LoginCountry = *u.LoginCountry
	}
	if u.CardType != nil {
		f.CardType = *u.CardType
	}
	if u.TransactionType != nil {
		f.TransactionType = *u.TransactionType
	}
	if u.Currency != nil {
		f.Currency = *u.Currency
	}
	if u.DateStart != nil {
		f.DateStart = *u.DateStart
	}
	if u.DateEnd != nil {
		f.DateEnd = *u.DateEnd
	}
	if u.FraudOnly != nil {
		f.FraudOnly = *u.FraudOnly
	}
	if u.LegitimateOnly != nil {
		f.LegitimateOnly = *u.LegitimateOnly
	}
	if u.Expression != nil {
		f.Expression = *u.Expression
	}
}

// Reset clears every predicate back to the empty session-start state.
func (f *FilterSet) Reset() {
	*f = FilterSet{}
}

// IsEmpty reports whether no predicate is active.
func (f *FilterSet) IsEmpty() bool {
	return f.AmountMin == nil && f.AmountMax == nil &&
		f.FraudProbabilityMin == nil && f.FraudProbabilityMax == nil &&
		f.Category == "" && f.Merchant == "" &&
		f.TransactionCountry == "" && f.LoginCountry == "" &&
		f.CardType == "" && f.TransactionType == "" && f.Currency == "" &&
		f.DateStart == "" && f.DateEnd == "" &&
		!f.FraudOnly && !f.LegitimateOnly && f.Expression == ""
}

// Fingerprint returns a stable digest of the active predicates, used as the
// plot cache key and for stale-response detection.
func (f *FilterSet) Fingerprint() string {
	h := fnv.New64a()
	writeRange := func(p *float64) {
		if p == nil {
			fmt.Fprint(h, "-|")
			return
		}
		fmt.Fprintf(h, "%g|", *p)
	}
	writeRange(f.AmountMin)
	writeRange(f.AmountMax)
	writeRange(f.FraudProbabilityMin)
	writeRange(f.FraudProbabilityMax)
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%t|%t|%s",
		f.Category, f.Merchant,
		f.TransactionCountry, f.LoginCountry,
		f.CardType, f.TransactionType, f.Currency,
		f.DateStart, f.DateEnd,
		f.FraudOnly, f.LegitimateOnly,
		f.Expression,
	)
	return fmt.Sprintf("%016x", h.Sum64())
}

// FilteredStatistics is derived from the currently filtered transaction
// set. Percentages are formatted with two decimals; an empty set yields
// "0.00" rather than dividing by zero.
type FilteredStatistics struct {
	TotalCount      int `json:"total_count"`
	FraudCount      int `json:"fraud_count"`
	LegitimateCount int `json:"legitimate_count"`

	FraudPercentage      string `json:"fraud_percentage"`
	LegitimatePercentage string `json:"legitimate_percentage"`

	TotalAmount           float64 `json:"total_amount"`
	TotalFraudAmount      float64 `json:"total_fraud_amount"`
	TotalLegitimateAmount float64 `json:"total_legitimate_amount"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ptr(v float64) *float64 { return &v }
