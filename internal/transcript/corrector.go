package transcript

import "strings"

// Correction records one substitution the corrector made, kept for
// diagnostics and debug logging.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// Corrector aligns whitespace-separated transcript tokens against a fixed
// keyword list. Construct one per connection from the agent's configured
// keywords; Correct is safe to call concurrently.
type Corrector struct {
	m        matcher
	keywords []string
	maxWords int
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a
// phonetically-matched keyword must reach. Default 0.70.
func WithPhoneticThreshold(t float64) Option {
	return func(c *Corrector) { c.m.phoneticThreshold = t }
}

// WithFuzzyThreshold sets the minimum score for the pure string-similarity
// fallback used when no keyword matches phonetically. Default 0.85.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Corrector) { c.m.fuzzyThreshold = t }
}

// NewCorrector builds a Corrector over keywords. A nil or empty keyword list
// yields a corrector whose Correct is the identity function.
func NewCorrector(keywords []string, opts ...Option) *Corrector {
	c := &Corrector{
		m:        matcher{phoneticThreshold: defaultPhoneticThreshold, fuzzyThreshold: defaultFuzzyThreshold},
		keywords: keywords,
	}
	for _, kw := range keywords {
		if n := len(strings.Fields(kw)); n > c.maxWords {
			c.maxWords = n
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct replaces tokens (and token windows, for multi-word or split-up
// keywords) that phonetically align with a configured keyword. Every window
// size at a position competes on score — the best-scoring alignment wins,
// with ties going to the longer window — so a single mangled word is not
// absorbed into a wider window that happens to clear the threshold, while a
// name the recognizer split into two words still matches as a unit. Text
// with no alignment comes back unchanged.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c.maxWords == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords + 1 // split-name windows may span one token more
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		var (
			bestKw     string
			bestWindow string
			bestScore  float64
			bestN      int
		)
		for n := 1; n <= maxN; n++ {
			window := strings.Join(tokens[i:i+n], " ")
			kw, score, ok := c.m.match(window, c.keywords)
			if !ok {
				continue
			}
			if score > bestScore || (score == bestScore && n > bestN) {
				bestKw, bestWindow, bestScore, bestN = kw, window, score, n
			}
		}

		if bestN == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, strings.Fields(bestKw)...)
		if !strings.EqualFold(bestWindow, bestKw) {
			corrections = append(corrections, Correction{Original: bestWindow, Corrected: bestKw, Score: bestScore})
		}
		i += bestN
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}
