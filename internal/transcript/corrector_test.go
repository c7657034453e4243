package transcript

import (
	"strings"
	"testing"
)

func TestCorrectorAlignsMisheardName(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"Leo", "Sparkle", "Captain Nimbus"})

	got, corrections := c.Correct("can sparkel tell me a story")
	if !strings.Contains(got, "Sparkle") {
		t.Errorf("Correct = %q, want %q aligned to Sparkle", got, "sparkel")
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %d, want 1", len(corrections))
	}
	if corrections[0].Original != "sparkel" || corrections[0].Corrected != "Sparkle" {
		t.Errorf("correction = %+v", corrections[0])
	}
}

func TestCorrectorMultiWordKeywordWinsOverSingle(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"Nimbus", "Captain Nimbus"})

	got, _ := c.Correct("is captain nimbis coming back")
	if !strings.Contains(got, "Captain Nimbus") {
		t.Errorf("Correct = %q, want the two-word keyword matched as a unit", got)
	}
}

func TestCorrectorLeavesUnrelatedTextAlone(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"Sparkle"})

	in := "what is the weather today"
	got, corrections := c.Correct(in)
	if got != in {
		t.Errorf("Correct = %q, want unchanged input", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none", corrections)
	}
}

func TestCorrectorNoKeywordsIsIdentity(t *testing.T) {
	t.Parallel()

	c := NewCorrector(nil)
	in := "anything at all"
	if got, _ := c.Correct(in); got != in {
		t.Errorf("Correct = %q, want identity with no keywords", got)
	}
}

func TestMatcherPhoneticBeatsFuzzy(t *testing.T) {
	t.Parallel()

	m := matcher{phoneticThreshold: defaultPhoneticThreshold, fuzzyThreshold: defaultFuzzyThreshold}

	// "leeo" shares metaphone codes with "Leo", so it only needs to clear the
	// lower phonetic threshold.
	got, _, ok := m.match("leeo", []string{"Leo"})
	if !ok || got != "Leo" {
		t.Errorf("match(leeo) = %q, ok=%v; want Leo via the phonetic pass", got, ok)
	}

	// A word with no phonetic overlap must clear the stricter fuzzy bar.
	if _, _, ok := m.match("zzz", []string{"Leo"}); ok {
		t.Error("match(zzz) matched, want no alignment")
	}
}
