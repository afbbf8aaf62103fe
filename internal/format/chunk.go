package format

import (
	"strings"
	"unicode/utf8"
)

// boundaryLookback is how far back from the hard limit Chunk searches
// for a paragraph or sentence boundary before giving up and cutting.
const boundaryLookback = 512

// Chunk splits text into pieces no longer than maxLen bytes, preferring
// paragraph breaks, then line breaks, then sentence ends within the
// lookback window. A cut never lands inside a UTF-8 sequence or between
// a backslash and the character it escapes. Input that already fits is
// returned as a single unchanged element; concatenating the pieces
// reconstructs the original text.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = TelegramMessageLimit
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > maxLen {
		cut := splitPoint(rest, maxLen)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitPoint picks the byte offset to cut s at, 0 < offset <= maxLen.
func splitPoint(s string, maxLen int) int {
	window := s[:maxLen]
	lookback := maxLen - boundaryLookback
	if lookback < 0 {
		lookback = 0
	}

	// Paragraph break: cut after the blank line.
	if i := strings.LastIndex(window, "\n\n"); i >= lookback {
		return i + 2
	}
	// Line break.
	if i := strings.LastIndexByte(window, '\n'); i >= lookback {
		return i + 1
	}
	// Sentence end followed by a space.
	for i := maxLen - 2; i >= lookback; i-- {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && window[i+1] == ' ' && !isEscaped(s, i) {
			return i + 2
		}
	}
	// Word boundary.
	if i := strings.LastIndexByte(window, ' '); i >= lookback {
		return i + 1
	}

	// Hard cut: back off any trailing escape backslash, then to a rune
	// boundary.
	cut := maxLen
	if isEscaped(s, cut) {
		cut--
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxLen
	}
	return cut
}

// isEscaped reports whether the byte at offset i is preceded by an odd
// run of backslashes, i.e. cutting before it would orphan an escape.
func isEscaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
