// Package trending scrapes GitHub Trending and keeps the AI-related projects
// for the daily project digest.
package trending

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aischolar/scholar-daily/internal/retry"
)

// Project is one trending repository.
type Project struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	StarsToday  int    `json:"stars_today"`
}

// aiKeywords mark a project as AI-related when found in its name or
// description.
var aiKeywords = []string{
	"llm", "gpt", "transformer", "neural", "deep-learning", "deep learning",
	"machine-learning", "machine learning", " ai ", "nlp", "computer vision",
	"bert", "llama", "mistral", "gemini", "claude", "chatgpt", "openai",
	"stable-diffusion", "diffusion", "pytorch", "tensorflow", "huggingface",
	"langchain", "chatbot", "rag", "agent", "embedding", "fine-tuning",
	"quantization", "inference",
}

const defaultTrendingURL = "https://github.com/trending"

// Client scrapes the trending page.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	policy     retry.Policy
}

func NewClient(retryBudget int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   defaultTrendingURL,
		userAgent: "Mozilla/5.0 (compatible; scholar-daily/1.0)",
		policy:    retry.Default(retryBudget),
	}
}

// FetchAIProjects returns up to maxResults AI-related trending projects.
// When the daily range yields fewer than minResults, it widens to weekly and
// then monthly before giving up.
func (c *Client) FetchAIProjects(ctx context.Context, language string, maxResults, minResults int) ([]Project, error) {
	var projects []Project
	var lastErr error

	for _, since := range []string{"daily", "weekly", "monthly"} {
		all, err := c.fetch(ctx, language, since)
		if err != nil {
			lastErr = err
			continue
		}

		projects = filterAI(all)
		log.Printf("GitHub trending (%s): %d projects, %d AI-related", since, len(all), len(projects))
		if len(projects) >= minResults {
			break
		}
	}

	if len(projects) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(projects) > maxResults {
		projects = projects[:maxResults]
	}
	return projects, nil
}

func (c *Client) fetch(ctx context.Context, language, since string) ([]Project, error) {
	requestURL := fmt.Sprintf("%s/%s?since=%s", c.baseURL, language, since)

	var doc *goquery.Document
	err := c.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return &retry.Permanent{Err: fmt.Errorf("creating request: %w", err)}
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetching trending page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("parsing trending page: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var projects []Project
	doc.Find("article.Box-row").Each(func(_ int, s *goquery.Selection) {
		if p, ok := parseRow(s); ok {
			projects = append(projects, p)
		}
	})

	return projects, nil
}

var spacesRe = regexp.MustCompile(`\s+`)

func parseRow(s *goquery.Selection) (Project, bool) {
	nameLink := s.Find("h2 a").First()
	href, exists := nameLink.Attr("href")
	if !exists || href == "" {
		return Project{}, false
	}

	name := strings.Trim(spacesRe.ReplaceAllString(nameLink.Text(), ""), "/")
	if name == "" {
		return Project{}, false
	}

	p := Project{
		Name:        name,
		URL:         "https://github.com" + href,
		Description: strings.TrimSpace(s.Find("p").First().Text()),
		Language:    strings.TrimSpace(s.Find("[itemprop='programmingLanguage']").First().Text()),
	}

	s.Find("a.Link--muted").Each(func(_ int, stat *goquery.Selection) {
		statHref, _ := stat.Attr("href")
		count := parseCount(stat.Text())
		switch {
		case strings.HasSuffix(statHref, "/stargazers"):
			p.Stars = count
		case strings.HasSuffix(statHref, "/forks"):
			p.Forks = count
		}
	})

	todayText := s.Find("span.d-inline-block.float-sm-right").First().Text()
	p.StarsToday = parseCount(todayText)

	return p, true
}

var digitsRe = regexp.MustCompile(`[\d,]+`)

func parseCount(text string) int {
	m := digitsRe.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func filterAI(projects []Project) []Project {
	var kept []Project
	for _, p := range projects {
		if isAIProject(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

func isAIProject(p Project) bool {
	// Pad with spaces so the bare " ai " keyword can match at boundaries.
	text := " " + strings.ToLower(p.Name+" "+p.Description) + " "
	for _, keyword := range aiKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
