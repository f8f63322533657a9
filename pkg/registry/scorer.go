// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"strings"

	"github.com/jllopis/sextant/pkg/keywords"
	"github.com/jllopis/sextant/pkg/mcp"
)

// DefaultNameBonus is added when the query names the capability directly.
const DefaultNameBonus = 3

// Query is a tokenized search query.
type Query struct {
	Text     string
	Keywords []string
}

// NewQuery normalizes and tokenizes text.
func NewQuery(text string) Query {
	text = strings.ToLower(strings.TrimSpace(text))
	return Query{Text: text, Keywords: keywords.Tokens(text)}
}

// Scorer ranks a descriptor against a query. A score of zero or less means
// no match.
type Scorer interface {
	Score(q Query, d mcp.Descriptor) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(q Query, d mcp.Descriptor) float64

// Score implements Scorer.
func (f ScorerFunc) Score(q Query, d mcp.Descriptor) float64 { return f(q, d) }

// KeywordScorer counts query keywords found among the summary, category and
// name tokens, plus NameBonus when the query or a keyword appears inside the
// name.
type KeywordScorer struct {
	NameBonus float64
}

// Score implements Scorer.
func (s KeywordScorer) Score(q Query, d mcp.Descriptor) float64 {
	if q.Text == "" {
		return 0
	}
	name := strings.ToLower(d.Name)
	vocab := keywords.NewSet(keywords.Tokens(d.Summary + " " + d.Category + " " + name))

	var score float64
	for _, kw := range q.Keywords {
		if vocab.Has(kw) {
			score++
		}
	}

	if strings.Contains(name, q.Text) {
		return score + s.NameBonus
	}
	for _, kw := range q.Keywords {
		if strings.Contains(name, kw) {
			return score + s.NameBonus
		}
	}
	return score
}
