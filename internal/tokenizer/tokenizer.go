// Package tokenizer provides pluggable token counting for context budgeting.
package tokenizer

import "unicode/utf8"

// Tokenizer counts tokens in text. Implementations must be safe for
// concurrent use.
type Tokenizer interface {
	Count(text string) int
}

// CharsPerToken is the conservative heuristic ratio used by Heuristic.
const CharsPerToken = 4

// Heuristic estimates tokens from rune count at ~4 characters per token.
// It overestimates slightly for English prose, which is the safe direction
// for budgeting.
type Heuristic struct{}

// NewHeuristic returns the default heuristic tokenizer.
func NewHeuristic() Heuristic {
	return Heuristic{}
}

// Count implements Tokenizer.
func (Heuristic) Count(text string) int {
	chars := utf8.RuneCountInString(text)
	tokens := chars / CharsPerToken
	if tokens == 0 && chars > 0 {
		return 1
	}
	return tokens
}
