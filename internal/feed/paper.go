package feed

import "time"

// Paper is one candidate from the listing feed. It is created here and
// handed forward by value; later stages never mutate it.
type Paper struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Abstract   string    `json:"abstract"`
	URL        string    `json:"url"`
	Published  time.Time `json:"published"`
	Updated    time.Time `json:"updated"`
	Version    int       `json:"version"`
	Categories []string  `json:"categories"`
	Source     string    `json:"source"`
}

// DedupePapers collapses papers sharing an ID, keeping the most recent
// version. A revised paper keeps the position of its first appearance so
// downstream ordering stays tied to feed order.
func DedupePapers(papers []Paper) []Paper {
	index := make(map[string]int, len(papers))
	var unique []Paper

	for _, p := range papers {
		if p.ID == "" {
			continue
		}
		if at, seen := index[p.ID]; seen {
			if newerPaper(p, unique[at]) {
				unique[at] = p
			}
			continue
		}
		index[p.ID] = len(unique)
		unique = append(unique, p)
	}

	return unique
}

func newerPaper(a, b Paper) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Updated.After(b.Updated)
}
