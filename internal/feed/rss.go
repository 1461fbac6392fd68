package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"
)

// NewsSource is an RSS feed pulled alongside the paper listing.
type NewsSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultNewsSources are the AI news feeds merged into the daily candidate set.
var DefaultNewsSources = []NewsSource{
	{Name: "MIT Technology Review - AI", URL: "https://www.technologyreview.com/topic/artificial-intelligence/feed"},
	{Name: "Google AI Blog", URL: "https://blog.google/technology/ai/rss/"},
}

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

const maxNewsAbstract = 500

// FetchNews fetches the given RSS sources and converts in-window entries to
// Papers. A source that fails to fetch or parse is logged and skipped; news
// sources are best-effort and never fail the run.
func (c *Client) FetchNews(ctx context.Context, sources []NewsSource, windowStart time.Time) []Paper {
	var papers []Paper

	for _, source := range sources {
		items, err := c.fetchNewsFeed(ctx, source.URL)
		if err != nil {
			log.Printf("Skipping news source %s: %v", source.Name, err)
			continue
		}

		count := 0
		for _, item := range items {
			p, ok := newsItemToPaper(item, source.Name, windowStart)
			if !ok {
				continue
			}
			papers = append(papers, p)
			count++
		}
		log.Printf("Fetched %d articles from %s", count, source.Name)
	}

	return papers
}

func (c *Client) fetchNewsFeed(ctx context.Context, feedURL string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing RSS feed: %w", err)
	}

	return feed.Items, nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

func newsItemToPaper(item rssItem, sourceName string, windowStart time.Time) (Paper, bool) {
	if item.Title == "" || item.Link == "" {
		return Paper{}, false
	}

	published, err := parseRSSDate(item.PubDate)
	if err != nil || published.Before(windowStart) {
		return Paper{}, false
	}

	abstract := cleanText(htmlTagRe.ReplaceAllString(item.Description, ""))
	if len(abstract) > maxNewsAbstract {
		cut := maxNewsAbstract
		for cut > 0 && !utf8.RuneStart(abstract[cut]) {
			cut--
		}
		abstract = abstract[:cut]
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}

	return Paper{
		ID:         id,
		Title:      cleanText(item.Title),
		Authors:    []string{sourceName},
		Abstract:   abstract,
		URL:        item.Link,
		Published:  published,
		Updated:    published,
		Version:    1,
		Categories: []string{"news"},
		Source:     sourceName,
	}, true
}

// parseRSSDate parses the date formats seen across RSS sources.
func parseRSSDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
