// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import "github.com/jllopis/sextant/pkg/keywords"

// Scorer rates how relevant an episode is to a task signature. Zero or
// less means unrelated.
type Scorer interface {
	Score(query keywords.Set, e Episode) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(query keywords.Set, e Episode) float64

// Score implements Scorer.
func (f ScorerFunc) Score(query keywords.Set, e Episode) float64 { return f(query, e) }

// KeywordScorer scores by Jaccard overlap of keyword sets. Related
// successful episodes earn an efficiency bonus of 0.3 minus 0.01 per call
// beyond the first. Episodes without a chain earn no bonus.
type KeywordScorer struct {
	NoEfficiencyBonus bool
}

// Score implements Scorer.
func (s KeywordScorer) Score(query keywords.Set, e Episode) float64 {
	set := e.KeywordSet()
	if keywords.Overlap(query, set) == 0 {
		return 0
	}
	score := keywords.Jaccard(query, set)
	if !s.NoEfficiencyBonus && e.Outcome == OutcomeSuccess && len(e.Chain) > 0 {
		score += EfficiencyBonus(len(e.Chain))
	}
	return score
}

// EfficiencyBonus favors short capability chains. chainLen below one is
// treated as one.
func EfficiencyBonus(chainLen int) float64 {
	chainLen = max(chainLen, 1)
	return max(0, 0.3-float64(chainLen-1)*0.01)
}
