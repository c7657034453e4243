package pipeline

import "strings"

// sentenceAccumulator splits a stream of LLM text chunks into complete
// sentences for submission to TTS, one at a time, preserving order (§4.4.4).
//
// Extends the teacher's ASCII-only firstSentenceBoundary with Chinese
// sentence-terminal punctuation, since agents in this gateway may reply in
// either language depending on AgentConfig.function_settings.chat_language.
type sentenceAccumulator struct {
	buf strings.Builder
}

// cjkTerminators are Chinese/full-width sentence-terminal punctuation marks.
// Unlike ASCII terminators these are not required to be followed by
// whitespace — CJK text is conventionally written without inter-sentence
// spaces.
const cjkTerminators = "。！？"

// asciiTerminators must be immediately followed by one of asciiBoundarySpace
// to count as a sentence end, so a terminator inside a token ("3.50",
// "example.com") does not split. An abbreviation or ellipsis followed by
// whitespace ("Mr. Smith", "wait... what") still ends a sentence.
const asciiTerminators = ".!?"
const asciiBoundarySpace = " \n\r\t"

// push appends text to the accumulator and returns every complete sentence
// newly available, in order. Remaining partial text stays buffered.
func (a *sentenceAccumulator) push(text string) []string {
	if text == "" {
		return nil
	}
	a.buf.WriteString(text)

	var sentences []string
	for {
		s := a.buf.String()
		idx := sentenceBoundary(s)
		if idx < 0 {
			break
		}
		sentences = append(sentences, s[:idx+boundaryRuneLen(s, idx)])
		rest := strings.TrimLeft(s[idx+boundaryRuneLen(s, idx):], asciiBoundarySpace)
		a.buf.Reset()
		a.buf.WriteString(rest)
	}
	return sentences
}

// flush returns any remaining buffered text as a final fragment and clears
// the accumulator. Call once when the LLM stream ends.
func (a *sentenceAccumulator) flush() string {
	if a.buf.Len() == 0 {
		return ""
	}
	s := a.buf.String()
	a.buf.Reset()
	return s
}

// sentenceBoundary returns the byte index of the terminal punctuation mark
// ending the first complete sentence in s, or -1 if none is found yet.
func sentenceBoundary(s string) int {
	runes := []rune(s)
	byteIdx := 0
	for i, r := range runes {
		switch {
		case strings.ContainsRune(cjkTerminators, r):
			return byteIdx
		case strings.ContainsRune(asciiTerminators, r):
			if i+1 < len(runes) && strings.ContainsRune(asciiBoundarySpace, runes[i+1]) {
				return byteIdx
			}
		}
		byteIdx += len(string(r))
	}
	return -1
}

// boundaryRuneLen returns the byte length of the rune at byte offset idx in s.
func boundaryRuneLen(s string, idx int) int {
	for _, r := range s[idx:] {
		return len(string(r))
	}
	return 1
}
