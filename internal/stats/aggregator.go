// Package stats derives counts, percentages, and amount sums from
// filtered transaction sets.
package stats

import (
	"fmt"
	"sort"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// Aggregate partitions a filtered transaction set on the fraud flag and
// computes counts, percentages, and amount sums. Pure and idempotent; an
// empty input yields zero counts and "0.00" percentages.
func Aggregate(filtered []domain.Transaction) *domain.FilteredStatistics {
	s := &domain.FilteredStatistics{
		TotalCount: len(filtered),
	}

	for i := range filtered {
		tx := &filtered[i]
		s.TotalAmount += tx.Amount
		if tx.IsFraud == 1 {
			s.FraudCount++
			s.TotalFraudAmount += tx.Amount
		} else {
			s.LegitimateCount++
			s.TotalLegitimateAmount += tx.Amount
		}
	}

	s.FraudPercentage = percentage(s.FraudCount, s.TotalCount)
	s.LegitimatePercentage = percentage(s.LegitimateCount, s.TotalCount)

	return s
}

// percentage formats count/total as a 2-decimal percent string, "0.00"
// when total is zero.
func percentage(count, total int) string {
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(count)/float64(total)*100)
}

// Breakdown recomputes the fraud-reason breakdown over a filtered set:
// one entry per attributed pattern label among the fraudulent
// transactions, with count, share of fraud cases, and amount sum.
// Entries are ordered by count descending, label ascending on ties.
func Breakdown(filtered []domain.Transaction) []domain.BreakdownEntry {
	type acc struct {
		count  int
		amount float64
	}

	byLabel := make(map[string]*acc)
	fraudTotal := 0
	for i := range filtered {
		tx := &filtered[i]
		if tx.IsFraud != 1 || tx.FraudReason == "" {
			continue
		}
		fraudTotal++
		a, ok := byLabel[tx.FraudReason]
		if !ok {
			a = &acc{}
			byLabel[tx.FraudReason] = a
		}
		a.count++
		a.amount += tx.Amount
	}

	entries := make([]domain.BreakdownEntry, 0, len(byLabel))
	for label, a := range byLabel {
		pct := 0.0
		if fraudTotal > 0 {
			pct = float64(a.count) / float64(fraudTotal) * 100
		}
		entries = append(entries, domain.BreakdownEntry{
			Label:       label,
			Count:       a.count,
			Percentage:  pct,
			TotalAmount: a.amount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})

	return entries
}
