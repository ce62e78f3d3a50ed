package textutil

import (
	"regexp"
	"strings"
)

// tokenSplitPattern matches non-alphanumeric character sequences.
var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize splits text into lowercase alphanumeric tokens. Punctuation and
// whitespace separate tokens; empty tokens are dropped.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenSplitPattern.Split(lowered, -1)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}
