package ingestion_engine

import (
	"strings"
	"unicode"
)

// ChunkSpan is one split of the source text. Start/End are rune offsets
// into the original text before boundary trimming.
type ChunkSpan struct {
	Text  string
	Start int
	End   int
}

// SplitText splits text into ordered, overlapping chunks of at most
// chunkSize runes. Consecutive chunks overlap by at most overlap runes.
// Splits prefer a paragraph break, then a line break, then a sentence
// end, then a word boundary, before falling back to a hard cut, so that
// multi-byte runes and words are never severed. The same input and
// config always produce the same output.
func SplitText(text string, chunkSize, overlap int) []ChunkSpan {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}

	runes := []rune(text)
	var out []ChunkSpan

	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = splitPoint(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, ChunkSpan{Text: piece, Start: start, End: end})
		}

		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			// overlap would stall the walk; move forward without it
			next = end
		}
		start = next
	}
	return out
}

// splitPoint picks the best boundary in (min, limit], scanning backwards
// from the size limit. Boundaries in the first half of the window are
// ignored so chunks do not collapse to fragments.
func splitPoint(runes []rune, start, limit int) int {
	min := start + (limit-start)/2

	// paragraph break
	for i := limit; i > min; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	// line break
	for i := limit; i > min; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	// sentence end followed by space or at the cut
	for i := limit; i > min; i-- {
		if isSentenceEnd(runes[i-1]) && (i == limit || unicode.IsSpace(runes[i])) {
			return i
		}
	}
	// word boundary
	for i := limit; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	// hard cut
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', ';':
		return true
	}
	return false
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
