package tokenizer

import (
	"regexp"
	"strings"
)

// CountTokens provides a rough token count estimate.
// For production, use tiktoken-go for exact counts.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	// Rough estimate: ~4 chars per token for English
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}

// CountMessages estimates the prompt side of a chat exchange.
func CountMessages(contents ...string) int {
	n := 0
	for _, c := range contents {
		n += CountTokens(c)
	}
	return n
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)

// Words splits text into word and punctuation tokens, keeping case. It is the
// tokenization used for BLEU.
func Words(text string) []string {
	return wordPattern.FindAllString(text, -1)
}

// Fields lower-cases text and splits it on whitespace.
func Fields(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// NGrams returns the n-grams of tokens joined by a single space, in order.
func NGrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}
