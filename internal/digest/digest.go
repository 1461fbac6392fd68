// Package digest turns scored analyses into the single rendered message for
// a run. Assembly is deterministic: score descending, ties broken by the
// paper's original feed order, so a rerun over the same inputs renders the
// same digest.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aischolar/scholar-daily/internal/feed"
	"github.com/aischolar/scholar-daily/internal/llm"
	"github.com/aischolar/scholar-daily/internal/trending"
)

// Separator delimits item blocks in the rendered digest. The delivery client
// splits oversized messages at this boundary.
const Separator = "\n---\n"

// Item is one entry of the assembled digest.
type Item struct {
	Paper    feed.Paper
	Analysis llm.Analysis
	// feedIndex is the paper's position in the feed output, the tie-break key.
	feedIndex int
}

// Counts carries the run's observability triple plus the failure count shown
// in the header.
type Counts struct {
	Candidates int `json:"candidates"`
	Retained   int `json:"retained"`
	Scored     int `json:"scored"`
	Failed     int `json:"failed"`
}

// Digest is the ordered result of one run. It lives until delivery and is
// not retained afterwards.
type Digest struct {
	Items       []Item
	GeneratedAt time.Time
	Counts      Counts
}

// Assemble pairs analyses with their papers and builds the digest. Papers
// must be the retained candidates in feed order, analyses their results in
// the same order (index-aligned, as produced by the summarization fan-out).
// The boolean is false when no successfully scored items exist: the NoDigest
// outcome, which is not an error.
func Assemble(papers []feed.Paper, analyses []llm.Analysis, candidates, maxItems int, now time.Time) (*Digest, bool) {
	var items []Item
	failed := 0

	for i, a := range analyses {
		switch a.Status {
		case llm.StatusOK:
			items = append(items, Item{Paper: papers[i], Analysis: a, feedIndex: i})
		case llm.StatusFailed:
			failed++
		}
	}

	if len(items) == 0 {
		return nil, false
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Analysis.Score != items[j].Analysis.Score {
			return items[i].Analysis.Score > items[j].Analysis.Score
		}
		return items[i].feedIndex < items[j].feedIndex
	})

	// Counts report every successfully scored item, including those the cap
	// drops from the rendered digest.
	scored := len(items)
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	return &Digest{
		Items:       items,
		GeneratedAt: now,
		Counts: Counts{
			Candidates: candidates,
			Retained:   len(papers),
			Scored:     scored,
			Failed:     failed,
		},
	}, true
}

// Render produces the Telegram Markdown body: a header with the run date and
// counts, then one block per item separated by Separator.
func (d *Digest) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "📚 *Scholar Daily* | %s\n\n", d.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "%d candidates, %d retained, %d scored", d.Counts.Candidates, d.Counts.Retained, d.Counts.Scored)
	if d.Counts.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", d.Counts.Failed)
	}
	b.WriteString(Separator)

	blocks := make([]string, 0, len(d.Items))
	for i, item := range d.Items {
		blocks = append(blocks, renderItem(i+1, item))
	}
	b.WriteString(strings.Join(blocks, Separator))

	return b.String()
}

const maxRenderedAuthors = 3

func renderItem(rank int, item Item) string {
	authors := item.Paper.Authors
	if len(authors) > maxRenderedAuthors {
		authors = append(authors[:maxRenderedAuthors:maxRenderedAuthors], "et al.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%d. [%s](%s)*\n", rank, escapeMarkdown(item.Paper.Title), item.Paper.URL)
	fmt.Fprintf(&b, "👤 %s\n", escapeMarkdown(strings.Join(authors, ", ")))
	fmt.Fprintf(&b, "⭐ Relevance: %d/10\n", item.Analysis.Score)
	fmt.Fprintf(&b, "📝 %s\n", escapeMarkdown(item.Analysis.Summary))
	fmt.Fprintf(&b, "💡 %s", escapeMarkdown(item.Analysis.Note))
	return b.String()
}

// RenderTrending renders the GitHub Trending digest. Projects and analyses
// are index-aligned; failed analyses are dropped silently since the project
// digest is best-effort.
func RenderTrending(projects []trending.Project, analyses []llm.Analysis, now time.Time) (string, bool) {
	type scored struct {
		project  trending.Project
		analysis llm.Analysis
		index    int
	}

	var items []scored
	for i, a := range analyses {
		if a.Status == llm.StatusOK {
			items = append(items, scored{project: projects[i], analysis: a, index: i})
		}
	}
	if len(items) == 0 {
		return "", false
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].analysis.Score != items[j].analysis.Score {
			return items[i].analysis.Score > items[j].analysis.Score
		}
		return items[i].index < items[j].index
	})

	var b strings.Builder
	fmt.Fprintf(&b, "🔥 *GitHub AI Trending* | %s", now.Format("2006-01-02"))
	b.WriteString(Separator)

	blocks := make([]string, 0, len(items))
	for i, item := range items {
		var block strings.Builder
		fmt.Fprintf(&block, "*%d. [%s](%s)*\n", i+1, escapeMarkdown(item.project.Name), item.project.URL)
		fmt.Fprintf(&block, "⭐ %d stars (+%d today) | %s\n", item.project.Stars, item.project.StarsToday, item.project.Language)
		fmt.Fprintf(&block, "📝 %s\n", escapeMarkdown(item.analysis.Summary))
		fmt.Fprintf(&block, "💡 %s", escapeMarkdown(item.analysis.Note))
		blocks = append(blocks, block.String())
	}
	b.WriteString(strings.Join(blocks, Separator))

	return b.String(), true
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"`", "\\`",
)

// escapeMarkdown escapes the characters Telegram's legacy Markdown parse
// mode treats as formatting.
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
