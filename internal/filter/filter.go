// Package filter implements the keyword relevance pre-filter that bounds how
// many candidates reach the LLM. It is pure: no network access, no state.
package filter

import (
	"strings"

	"github.com/aischolar/scholar-daily/internal/feed"
)

// Keywords holds the two configured keyword tiers. Core keywords describe the
// operator's own research area; related keywords describe adjacent topics
// that are only worth reading when several of them line up.
type Keywords struct {
	Core    []string
	Related []string
}

// Decision records the outcome of filtering one candidate.
type Decision struct {
	PaperID string
	Keep    bool
	Matched []string
}

// Match decides whether a candidate proceeds to summarization. A paper is
// kept iff at least one core keyword matches, or at least two distinct
// related keywords match, case-insensitively against title and abstract.
func Match(p feed.Paper, kw Keywords) Decision {
	text := strings.ToLower(p.Title + " " + p.Abstract)

	decision := Decision{PaperID: p.ID}

	coreHits := 0
	for _, keyword := range kw.Core {
		if containsKeyword(text, keyword) {
			coreHits++
			decision.Matched = append(decision.Matched, keyword)
		}
	}

	relatedHits := 0
	for _, keyword := range kw.Related {
		if containsKeyword(text, keyword) {
			relatedHits++
			decision.Matched = append(decision.Matched, keyword)
		}
	}

	decision.Keep = coreHits >= 1 || relatedHits >= 2
	return decision
}

// Retain applies Match over a candidate list, preserving feed order.
func Retain(papers []feed.Paper, kw Keywords) ([]feed.Paper, []Decision) {
	var kept []feed.Paper
	decisions := make([]Decision, 0, len(papers))

	for _, p := range papers {
		d := Match(p, kw)
		decisions = append(decisions, d)
		if d.Keep {
			kept = append(kept, p)
		}
	}

	return kept, decisions
}

func containsKeyword(text, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	return strings.Contains(text, keyword)
}
