// Package textnorm prepares chat text for lexical matching. Everything here
// is a pure function over its input and safe for concurrent use.
package textnorm

import (
	"strings"
	"unicode"
)

// Set is a deduplicated collection of strings.
type Set map[string]struct{}

// Contains reports membership.
func (s Set) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Overlap returns how many elements of s are also in other.
func (s Set) Overlap(other Set) int {
	// Iterate the smaller set
	if len(other) < len(s) {
		s, other = other, s
	}
	n := 0
	for v := range s {
		if other.Contains(v) {
			n++
		}
	}
	return n
}

func newSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Normalize lowercases the text, replaces everything that is not a letter or
// digit in any script (emoji, punctuation, symbols) with a space, and
// collapses whitespace runs into single spaces. Punctuation becomes a word
// boundary rather than vanishing, so "б/у" stays two tokens instead of
// fusing into a phantom word.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the whitespace-separated words of the normalized text.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// NGrams returns the set of character n-grams of the normalized text. If the
// normalized text is shorter than n, the result is a single-element set
// containing the whole string.
func NGrams(text string, n int) Set {
	normalized := Normalize(text)
	runes := []rune(normalized)

	if len(runes) < n {
		return newSet(normalized)
	}

	grams := make(Set, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams[string(runes[i:i+n])] = struct{}{}
	}
	return grams
}

// WordShingles returns the set of contiguous word n-grams of the tokenized
// text. If fewer than n words exist, the result is a single-element set
// containing all words joined by a space. Empty text yields an empty set so
// that two empty inputs never count as overlapping.
func WordShingles(text string, n int) Set {
	words := Tokens(text)
	if len(words) == 0 {
		return Set{}
	}

	if len(words) < n {
		return newSet(strings.Join(words, " "))
	}

	shingles := make(Set, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		shingles[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return shingles
}
