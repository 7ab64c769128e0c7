// Package scrub irreversibly redacts credential-class values. It is
// stateless and session-independent: matches are replaced with a fixed
// literal, never recorded, never restorable.
package scrub

import (
	"sort"

	"github.com/triage-ai/cloak/internal/entity"
)

// Match is one credential occurrence inside a text.
type Match struct {
	Start, End int
	RuleID     string
}

// Scrubber applies the credential rule set to text.
type Scrubber struct {
	rules []Rule
}

// New creates a Scrubber. A nil or empty rule slice falls back to the
// built-in defaults.
func New(rules []Rule) *Scrubber {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scrubber{rules: rules}
}

// Find returns every credential match, merged so that overlapping matches
// from different rules collapse into single regions, ordered by start.
func (s *Scrubber) Find(text string) []Match {
	var found []Match
	for _, rule := range s.rules {
		for _, m := range rule.Pattern.FindAllStringIndex(text, -1) {
			found = append(found, Match{Start: m[0], End: m[1], RuleID: rule.ID})
		}
	}
	if len(found) == 0 {
		return nil
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})

	// Merge overlapping or adjacent regions.
	merged := found[:1]
	for _, m := range found[1:] {
		last := &merged[len(merged)-1]
		if m.Start <= last.End {
			if m.End > last.End {
				last.End = m.End
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// Scrub replaces every credential match with the fixed redaction literal.
// The output contains no substring matching any credential rule.
func (s *Scrubber) Scrub(text string) string {
	matches := s.Find(text)
	if len(matches) == 0 {
		return text
	}

	// Apply in reverse so earlier offsets stay valid.
	out := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		out = out[:m.Start] + entity.RedactedLiteral + out[m.End:]
	}
	return out
}
