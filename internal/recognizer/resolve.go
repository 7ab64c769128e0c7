package recognizer

import (
	"sort"

	"github.com/triage-ai/cloak/internal/entity"
)

// Resolve turns overlapping candidate spans into a deterministic,
// non-overlapping list ordered by start offset.
//
// Candidates inside an existing placeholder token are dropped first, so
// already-masked text is never masked twice. The remaining candidates are
// ranked by priority, then span length, then earliest start, and selected
// with a single sweep: a candidate overlapping any already-selected span
// loses.
func Resolve(text string, candidates []Span) []Span {
	if len(candidates) == 0 {
		return nil
	}

	reserved := entity.FindPlaceholders(text)

	kept := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		if c.Start < 0 || c.End > len(text) || c.Start >= c.End {
			continue
		}
		inPlaceholder := false
		for _, p := range reserved {
			if c.Start < p.End && p.Start < c.End {
				inPlaceholder = true
				break
			}
		}
		if !inPlaceholder {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Type.Priority() != b.Type.Priority() {
			return a.Type.Priority() > b.Type.Priority()
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return a.Start < b.Start
	})

	selected := make([]Span, 0, len(kept))
	for _, c := range kept {
		overlaps := false
		for _, s := range selected {
			if c.Start < s.End && s.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			selected = append(selected, c)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Start < selected[j].Start
	})
	return selected
}
