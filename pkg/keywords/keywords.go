// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package keywords implements the tokenization shared by capability search
// and episodic memory retrieval.
package keywords

import (
	"strings"
	"unicode"
)

// MinLength is the minimum rune length of a kept token.
const MinLength = 3

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "to": {}, "for": {}, "and": {}, "or": {}, "in": {},
	"on": {}, "at": {}, "of": {}, "with": {},
}

// Tokens lowercases text, splits it on non-alphanumeric runes and drops
// short tokens and stop words. Order of first appearance is preserved and
// duplicates are removed.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < MinLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Set is a keyword set.
type Set map[string]struct{}

// NewSet builds a Set from already tokenized words.
func NewSet(words []string) Set {
	s := make(Set, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// SetOf tokenizes text into a Set.
func SetOf(text string) Set {
	return NewSet(Tokens(text))
}

// Has reports whether word is in the set.
func (s Set) Has(word string) bool {
	_, ok := s[word]
	return ok
}

// Overlap returns the number of words present in both sets.
func Overlap(a, b Set) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if b.Has(w) {
			n++
		}
	}
	return n
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either set is empty.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := Overlap(a, b)
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
