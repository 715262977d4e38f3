package match

import "testing"

func TestVariationsForKnownLabel(t *testing.T) {
	v := VariationsFor("Night-time activity")

	if len(v.Raw) == 0 || len(v.Normalized) == 0 {
		t.Fatal("expected non-empty variation lists for a canonical label")
	}

	if v.Raw[0] != "night-time activity" {
		t.Errorf("first raw entry = %q, want the lower-cased label", v.Raw[0])
	}
	if v.Normalized[0] != "night time activity" {
		t.Errorf("first normalized entry = %q, want the normalized label", v.Normalized[0])
	}

	if !contains(v.Raw, "after hours") {
		t.Error("expected 'after hours' among raw synonyms")
	}
}

func TestVariationsForUnknownLabel(t *testing.T) {
	v := VariationsFor("Completely Novel Pattern")

	if len(v.Raw) != 1 || v.Raw[0] != "completely novel pattern" {
		t.Errorf("unknown label raw variations = %v, want just the label itself", v.Raw)
	}
	if len(v.Normalized) != 1 || v.Normalized[0] != "completely novel pattern" {
		t.Errorf("unknown label normalized variations = %v", v.Normalized)
	}
}

func TestVariationsDeduplicated(t *testing.T) {
	for _, label := range CanonicalPatterns {
		v := VariationsFor(label)

		seen := make(map[string]bool)
		for _, r := range v.Raw {
			if seen[r] {
				t.Errorf("label %q: duplicate raw variation %q", label, r)
			}
			seen[r] = true
		}

		seen = make(map[string]bool)
		for _, n := range v.Normalized {
			if seen[n] {
				t.Errorf("label %q: duplicate normalized variation %q", label, n)
			}
			seen[n] = true
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
