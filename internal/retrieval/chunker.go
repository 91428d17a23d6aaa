package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Embedding input budget. The embedding models in use accept 8192 tokens;
// MaxTokens leaves headroom and CharsPerToken is a conservative average.
const (
	MaxTokens     = 7000
	CharsPerToken = 4
	MaxChars      = MaxTokens * CharsPerToken
)

// breakMarkers are the boundaries Chunk prefers to cut after.
var breakMarkers = []string{". ", "! ", "? ", "\n"}

// Chunk splits text into pieces of at most maxChars bytes. Each cut lands
// just after the last sentence end or newline in the window when that point
// lies beyond 70% of maxChars; otherwise the window is cut hard. Chunks are
// whitespace-trimmed and empty chunks are dropped.
func Chunk(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{strings.TrimSpace(text)}
	}

	minBreak := maxChars * 7 / 10
	var chunks []string
	for start := 0; start < len(text); {
		end := start + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			window := text[start:end]
			cut := -1
			for _, m := range breakMarkers {
				if i := strings.LastIndex(window, m); i >= 0 && i+1 > cut {
					cut = i + 1
				}
			}
			if cut > minBreak {
				end = start + cut
			} else {
				for end > start+1 && !utf8.RuneStart(text[end]) {
					end--
				}
			}
		}

		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		start = end
	}
	return chunks
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ChunkID derives the external id of the n-th chunk of a document.
func ChunkID(externalID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", externalID, n)
}
