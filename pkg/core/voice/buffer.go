// Package voice holds the text-side plumbing of the speech pipeline.
package voice

import (
	"strings"
)

// SentenceBuffer accumulates streamed generation tokens and extracts
// complete sentences so synthesis can start before the full response
// has been generated.
//
// A sentence ends at '.', '!', or '?' followed by whitespace. A
// terminator at the end of the buffered text is not a boundary yet:
// more input may still extend it ("3." + "14"). Whatever never
// completes is recovered with Flush at stream end, so every token
// added comes back out exactly once.
type SentenceBuffer struct {
	buffer strings.Builder
}

// NewSentenceBuffer creates an empty sentence buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends text and returns any newly completed sentences in order.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)

	content := b.buffer.String()
	var sentences []string

	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if !isSentenceEnd(content, i) {
			continue
		}
		sentence := strings.TrimSpace(content[lastEnd : i+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		lastEnd = i + 1
	}

	if lastEnd > 0 {
		remainder := content[lastEnd:]
		b.buffer.Reset()
		b.buffer.WriteString(remainder)
	}

	return sentences
}

// Flush returns the trimmed remainder and clears the buffer. Call it
// once the token stream has ended.
func (b *SentenceBuffer) Flush() string {
	result := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	return result
}

// Pending returns the buffered fragment without clearing it.
func (b *SentenceBuffer) Pending() string {
	return b.buffer.String()
}

// isSentenceEnd reports whether position i terminates a sentence: a
// closing punctuation mark with whitespace after it.
func isSentenceEnd(s string, i int) bool {
	c := s[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}

	// Abbreviations (Dr., Mr., initials) do not end sentences.
	if c == '.' && isAbbreviation(s, i) {
		return false
	}

	if i+1 >= len(s) {
		return false
	}
	next := s[i+1]
	return next == ' ' || next == '\n' || next == '\r' || next == '\t'
}

// isAbbreviation checks if the period at position i is likely an abbreviation.
func isAbbreviation(s string, i int) bool {
	if i < 1 {
		return false
	}

	commonAbbreviations := []string{
		"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
		"Prof.", "Rev.", "Gen.", "Col.", "Lt.", "Sgt.",
		"Inc.", "Ltd.", "Corp.", "Co.", "vs.", "etc.",
		"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
	}

	// The word ending at i, period included.
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]

	for _, abbr := range commonAbbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}

	// Single uppercase letter followed by a period reads as an initial.
	if s[i-1] >= 'A' && s[i-1] <= 'Z' {
		if i < 2 || s[i-2] == ' ' || s[i-2] == '\n' {
			return true
		}
	}

	return false
}
