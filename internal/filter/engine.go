// Package filter applies a composable predicate set to a run's
// transactions.
package filter

import (
	"strings"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// timestampLayouts are tried in order when parsing transaction timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const dateLayout = "2006-01-02"

// dateWindow is the resolved inclusive bounds of the date filter.
type dateWindow struct {
	start    time.Time
	end      time.Time
	hasStart bool
	hasEnd   bool
}

// Apply filters transactions through every active predicate of the filter
// set, ANDed together. Predicate order never changes the result set, only
// performance; cheap numeric checks run before string and date checks.
// Returns a compile error only when the set carries an invalid CEL
// expression that slipped past set-time validation.
func (e *Engine) Apply(transactions []domain.Transaction, fs *domain.FilterSet) ([]domain.Transaction, error) {
	prog, err := e.program(fs.Expression)
	if err != nil {
		return nil, err
	}

	window := resolveDateWindow(fs)

	out := make([]domain.Transaction, 0, len(transactions))
	for i := range transactions {
		tx := &transactions[i]
		if !matchesRanges(tx, fs) {
			continue
		}
		if fs.FraudOnly && tx.IsFraud != 1 {
			continue
		}
		if fs.LegitimateOnly && tx.IsFraud != 0 {
			continue
		}
		if !matchesStrings(tx, fs) {
			continue
		}
		if !matchesDateWindow(tx, window) {
			continue
		}
		if prog != nil && !e.evalProgram(prog, tx) {
			continue
		}
		out = append(out, transactions[i])
	}
	return out, nil
}

func matchesRanges(tx *domain.Transaction, fs *domain.FilterSet) bool {
	if fs.AmountMin != nil && tx.Amount < *fs.AmountMin {
		return false
	}
	if fs.AmountMax != nil && tx.Amount > *fs.AmountMax {
		return false
	}
	if fs.FraudProbabilityMin != nil && tx.FraudProbability < *fs.FraudProbabilityMin {
		return false
	}
	if fs.FraudProbabilityMax != nil && tx.FraudProbability > *fs.FraudProbabilityMax {
		return false
	}
	return true
}

func matchesStrings(tx *domain.Transaction, fs *domain.FilterSet) bool {
	// Case-insensitive substring containment
	if fs.Category != "" && !strings.Contains(strings.ToLower(tx.Category), strings.ToLower(fs.Category)) {
		return false
	}
	if fs.Merchant != "" && !strings.Contains(strings.ToLower(tx.Merchant), strings.ToLower(fs.Merchant)) {
		return false
	}

	// Exact equality
	if fs.TransactionCountry != "" && tx.TransactionCountry != fs.TransactionCountry {
		return false
	}
	if fs.LoginCountry != "" && tx.LoginCountry != fs.LoginCountry {
		return false
	}
	if fs.CardType != "" && tx.CardType != fs.CardType {
		return false
	}
	if fs.TransactionType != "" && tx.TransactionType != fs.TransactionType {
		return false
	}
	if fs.Currency != "" && tx.Currency != fs.Currency {
		return false
	}
	return true
}

// matchesDateWindow checks the transaction timestamp against the window.
// Unparseable timestamps fail open: the transaction is retained.
func matchesDateWindow(tx *domain.Transaction, w dateWindow) bool {
	if !w.hasStart && !w.hasEnd {
		return true
	}

	ts, ok := parseTimestamp(tx.Timestamp)
	if !ok {
		return true
	}

	if w.hasStart && ts.Before(w.start) {
		return false
	}
	if w.hasEnd && ts.After(w.end) {
		return false
	}
	return true
}

// resolveDateWindow parses the filter's date bounds. The start binds at
// 00:00:00 and the end at the last instant of its day. A malformed bound
// is treated as unset.
func resolveDateWindow(fs *domain.FilterSet) dateWindow {
	var w dateWindow
	if fs.DateStart != "" {
		if t, err := time.Parse(dateLayout, fs.DateStart); err == nil {
			w.start = t
			w.hasStart = true
		}
	}
	if fs.DateEnd != "" {
		if t, err := time.Parse(dateLayout, fs.DateEnd); err == nil {
			w.end = t.Add(24*time.Hour - time.Nanosecond)
			w.hasEnd = true
		}
	}
	return w
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
