package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aischolar/scholar-daily/internal/retry"
)

var (
	// ErrFeedUnavailable is returned after the transport retry budget is spent.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrFeedSchema is returned when an entire result page fails to parse.
	ErrFeedSchema = errors.New("feed schema error")
)

const defaultArxivURL = "http://export.arxiv.org/api/query"

// Client fetches paper listings from the arXiv Atom API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	pageSize   int
	maxPages   int
	policy     retry.Policy
}

// NewClient creates an arXiv feed client with the given transport retry budget.
func NewClient(retryBudget int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   defaultArxivURL,
		userAgent: "scholar-daily/1.0",
		pageSize:  100,
		maxPages:  10,
		policy:    retry.Default(retryBudget),
	}
}

// atom mirrors the subset of the arXiv Atom response we consume.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

// Fetch retrieves papers in the given window for the configured categories,
// newest first, deduplicated by paper ID keeping the most recent version.
// Pagination stops once a page falls entirely before windowStart.
func (c *Client) Fetch(ctx context.Context, windowStart, windowEnd time.Time, categories []string) ([]Paper, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrFeedSchema)
	}

	var papers []Paper

	for page := 0; page < c.maxPages; page++ {
		entries, err := c.fetchPage(ctx, categories, page*c.pageSize)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		pagePapers, parsedCount := c.collectEntries(entries, windowStart, windowEnd)
		if parsedCount == 0 {
			return nil, fmt.Errorf("%w: no parseable entries in page %d", ErrFeedSchema, page)
		}
		papers = append(papers, pagePapers...)

		// Listing is sorted by submission date descending, so once a page
		// reaches past the window start there is nothing left to fetch.
		if c.pageBeforeWindow(entries, windowStart) {
			break
		}
	}

	return DedupePapers(papers), nil
}

// collectEntries parses a page of entries, skipping malformed records with a
// warning. It returns the in-window papers and how many entries parsed at all.
func (c *Client) collectEntries(entries []atomEntry, windowStart, windowEnd time.Time) ([]Paper, int) {
	var papers []Paper
	parsed := 0

	for _, entry := range entries {
		p, err := parseEntry(entry)
		if err != nil {
			log.Printf("Skipping unparseable feed entry %q: %v", entry.ID, err)
			continue
		}
		parsed++

		if p.Published.Before(windowStart) || p.Published.After(windowEnd) {
			continue
		}
		papers = append(papers, p)
	}

	return papers, parsed
}

func (c *Client) pageBeforeWindow(entries []atomEntry, windowStart time.Time) bool {
	for i := len(entries) - 1; i >= 0; i-- {
		if t, err := time.Parse(time.RFC3339, entries[i].Published); err == nil {
			return t.Before(windowStart)
		}
	}
	return false
}

func (c *Client) fetchPage(ctx context.Context, categories []string, start int) ([]atomEntry, error) {
	terms := make([]string, len(categories))
	for i, cat := range categories {
		terms[i] = "cat:" + cat
	}

	query := url.Values{}
	query.Set("search_query", strings.Join(terms, " OR "))
	query.Set("start", strconv.Itoa(start))
	query.Set("max_results", strconv.Itoa(c.pageSize))
	query.Set("sortBy", "submittedDate")
	query.Set("sortOrder", "descending")

	requestURL := c.baseURL + "?" + query.Encode()

	var body []byte
	err := c.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return &retry.Permanent{Err: fmt.Errorf("creating request: %w", err)}
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/atom+xml, application/xml, text/xml")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetching feed page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: parsing feed page: %v", ErrFeedSchema, err)
	}

	return feed.Entries, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func parseEntry(entry atomEntry) (Paper, error) {
	id, version := splitArxivID(entry.ID)
	if id == "" {
		return Paper{}, fmt.Errorf("missing entry ID")
	}

	title := cleanText(entry.Title)
	if title == "" {
		return Paper{}, fmt.Errorf("missing title")
	}

	published, err := time.Parse(time.RFC3339, entry.Published)
	if err != nil {
		return Paper{}, fmt.Errorf("parsing published date %q: %w", entry.Published, err)
	}

	updated := published
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		updated = t
	}

	var authors []string
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	var categories []string
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			categories = append(categories, cat.Term)
		}
	}

	link := entry.ID
	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			link = l.Href
			break
		}
	}

	return Paper{
		ID:         id,
		Title:      title,
		Authors:    authors,
		Abstract:   cleanText(entry.Summary),
		URL:        link,
		Published:  published,
		Updated:    updated,
		Version:    version,
		Categories: categories,
		Source:     "arxiv",
	}, nil
}

var versionRe = regexp.MustCompile(`v(\d+)$`)

// splitArxivID strips the version suffix from an arXiv entry ID so revised
// papers share one identifier, e.g. ".../abs/2408.01234v2" -> "2408.01234", 2.
func splitArxivID(raw string) (string, int) {
	id := strings.TrimSpace(raw)
	if i := strings.LastIndex(id, "/abs/"); i != -1 {
		id = id[i+len("/abs/"):]
	}
	if id == "" {
		return "", 0
	}

	version := 1
	if m := versionRe.FindStringSubmatch(id); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			version = v
		}
		id = strings.TrimSuffix(id, m[0])
	}

	return id, version
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
