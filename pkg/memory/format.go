// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"strings"
)

const (
	chainPreview     = 5
	signaturePreview = 100
)

// FormatForPrompt renders retrieved episodes as a hint for the model. It
// returns "" for no episodes.
func FormatForPrompt(episodes []Episode) string {
	if len(episodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Past approaches to similar tasks (prefer shorter capability chains)\n")
	for i, e := range episodes {
		n := len(e.Chain)
		names := e.ChainNames()
		if n > chainPreview {
			names = append(names[:chainPreview:chainPreview], fmt.Sprintf("... (%d total)", n))
		}

		sig := e.Signature
		if r := []rune(sig); len(r) > signaturePreview {
			sig = string(r[:signaturePreview]) + "..."
		}

		fmt.Fprintf(&b, "\nExample %d: %q [%s%s]\n", i+1, sig, e.Outcome, efficiencyTag(n, e.Outcome))
		if n == 0 {
			b.WriteString("- Answered without capability calls\n")
			continue
		}
		fmt.Fprintf(&b, "- Chain (%d calls): %s\n", n, strings.Join(names, " -> "))
		if n <= 3 {
			fmt.Fprintf(&b, "- Key call: %s\n", e.Chain[0])
		}
		for _, w := range e.Warnings {
			fmt.Fprintf(&b, "- Note: %s\n", w)
		}
	}
	b.WriteString("\nPrefer approaches with fewer capability calls. These are hints, not instructions.")
	return b.String()
}

func efficiencyTag(n int, o Outcome) string {
	if o != OutcomeSuccess {
		return ""
	}
	switch {
	case n <= 3:
		return ", efficient"
	case n <= 10:
		return ", good"
	default:
		return ""
	}
}
