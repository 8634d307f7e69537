package textutil

import (
	"math"
	"strings"
	"unicode"
)

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint creates a fingerprint from the provided text.
// Returns nil if the text produces no valid tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{
		tokens: counts,
		norm:   math.Sqrt(norm),
	}
}

// Tokenize lowercases text, drops everything but letters and digits, and
// returns overlapping rune bigrams. Bigrams work for both spaced scripts and
// CJK text. A single remaining rune is returned as its own token.
func Tokenize(text string) []string {
	runes := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, r)
		}
	}
	switch len(runes) {
	case 0:
		return nil
	case 1:
		return []string{string(runes)}
	}
	terms := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		terms = append(terms, string(runes[i:i+2]))
	}
	return terms
}
