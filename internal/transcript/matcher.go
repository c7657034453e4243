// Package transcript post-processes ASR output before it reaches the
// session actor. Speech recognizers reliably mangle the proper nouns a toy
// conversation revolves around — the child's name, the agent persona's name,
// invented words from a running story — because none of them appear in the
// recognizer's language model. Providers that accept keyword boosts (see
// [stt.StreamConfig.Keywords]) handle this server-side; for the rest, this
// package aligns transcribed words against the agent's configured keyword
// list phonetically.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// matcher scores a transcribed word (or n-gram) against known keywords using
// Double Metaphone codes for candidate filtering and Jaro-Winkler similarity
// for ranking. Read-only after construction, safe for concurrent use.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// match returns the keyword most phonetically similar to word, its
// similarity score, and whether any keyword cleared the thresholds. When ok
// is false, corrected equals word unchanged.
//
// Keywords that share a metaphone code with word compete at the lower
// phonetic threshold; when none overlaps phonetically, a pure string-
// similarity pass runs at the stricter fuzzy threshold. Non-ASCII keywords
// (Chinese persona names) produce no metaphone codes and so only ever match
// through the fuzzy pass.
func (m *matcher) match(word string, keywords []string) (corrected string, score float64, ok bool) {
	if len(keywords) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	wordCodes := metaphoneCodes(wordTokens)

	var firstCodes map[string]struct{}
	if len(wordTokens) > 1 {
		firstCodes = metaphoneCodes(wordTokens[:1])
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)

	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		if kwLower == "" {
			continue
		}
		kwTokens := strings.Fields(kwLower)
		kwCodes := metaphoneCodes(kwTokens)

		// A multi-token window must be anchored: its first token has to
		// relate to the keyword on its own, or the window is really "some
		// unrelated word followed by the keyword" and matching it would
		// swallow the unrelated word.
		if len(wordTokens) > 1 {
			if !codesOverlap(firstCodes, kwCodes) &&
				matchr.JaroWinkler(wordTokens[0], kwTokens[0], false) < m.phoneticThreshold {
				continue
			}
		}

		phonetic := codesOverlap(wordCodes, kwCodes)
		score := similarity(wordTokens, kwTokens, wordLower, kwLower)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = kw, score, true
			}
		case !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = kw, score
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// metaphoneCodes returns the union of primary and secondary Double Metaphone
// codes across tokens. Tokens that yield no code (too short, no consonants,
// non-ASCII) contribute nothing.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score between the transcribed text
// and a keyword across two comparisons: the full strings, and the
// space-stripped strings (a recognizer often splits an invented name into
// two words). Per-token-pair scoring is deliberately not used — a shared
// token ("captain" in both "is captain" and "Captain Nimbus") would score
// 1.0 and swallow unrelated neighbours.
func similarity(wordTokens, kwTokens []string, wordFull, kwFull string) float64 {
	score := matchr.JaroWinkler(wordFull, kwFull, false)

	if len(wordTokens) > 1 || len(kwTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(wordTokens, ""), strings.Join(kwTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
