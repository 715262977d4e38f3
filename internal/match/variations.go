package match

import "strings"

// CanonicalPatterns is the fixed, product-defined set of fraud-pattern
// labels. Labels observed in a run's fraud-reason breakdown extend this
// set as matching candidates; they do not replace it.
var CanonicalPatterns = []string{
	"Velocity abuse",
	"Card-not-present risk",
	"Account takeover",
	"Night-time activity",
	"Cross-border mismatch",
	"High-value outlier",
	"New merchant exposure",
	"Round amount structuring",
}

// patternSynonyms maps a lower-cased canonical label to phrases reported to
// co-occur with that pattern in historical recommendation text.
var patternSynonyms = map[string][]string{
	"velocity abuse": {
		"rapid transactions",
		"transaction velocity",
		"burst of transactions",
		"rapid succession",
		"many transactions in a short window",
	},
	"card-not-present risk": {
		"card not present",
		"cnp",
		"online payment fraud",
		"e-commerce fraud",
		"remote purchase",
	},
	"account takeover": {
		"credential compromise",
		"unauthorized access",
		"hijacked account",
		"stolen credentials",
		"suspicious login",
	},
	"night-time activity": {
		"after hours",
		"late night transactions",
		"overnight activity",
		"unusual hours",
	},
	"cross-border mismatch": {
		"foreign transaction",
		"country mismatch",
		"geographic anomaly",
		"login country differs",
	},
	"high-value outlier": {
		"large transaction",
		"unusually high amount",
		"amount spike",
		"big ticket purchase",
	},
	"new merchant exposure": {
		"unfamiliar merchant",
		"first time merchant",
		"unknown vendor",
	},
	"round amount structuring": {
		"structuring",
		"round amounts",
		"just below threshold",
		"smurfing",
	},
}

// Variations holds the comparison phrases derived for one pattern label.
// Raw entries are lower-cased literals; Normalized entries have the
// normalizer applied. Both lists are ordered, de-duplicated, and start
// with the label itself, so they are non-empty for any non-empty label.
type Variations struct {
	Raw        []string
	Normalized []string
}

// VariationsFor derives the variation lists for a label. Unknown labels
// get no synonyms but still match against themselves.
func VariationsFor(label string) Variations {
	lower := strings.ToLower(label)

	raw := appendUnique(nil, lower)
	for _, syn := range patternSynonyms[lower] {
		raw = appendUnique(raw, strings.ToLower(syn))
	}

	normalized := appendUnique(nil, Normalize(label))
	for _, r := range raw {
		normalized = appendUnique(normalized, Normalize(r))
	}

	return Variations{Raw: raw, Normalized: normalized}
}

// appendUnique appends s to list if not already present, preserving order.
func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
