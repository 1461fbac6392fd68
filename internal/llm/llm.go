// Package llm scores and summarizes retained papers through an
// OpenAI-compatible chat-completions API. Each paper is analyzed
// independently; one paper's failure never aborts the batch.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aischolar/scholar-daily/internal/feed"
	"github.com/aischolar/scholar-daily/internal/retry"
)

// Status tags the outcome of one analysis.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Analysis is the scored summary for one paper. A failed or skipped Analysis
// carries no summary fields; only its PaperID survives for logging and counts.
type Analysis struct {
	PaperID string `json:"paper_id"`
	Summary string `json:"summary"`
	Score   int    `json:"score"`
	Note    string `json:"note"`
	Status  Status `json:"status"`
}

const (
	maxSummaryChars  = 400
	maxAbstractChars = 1500
	maxPromptAuthors = 3
)

const researchContext = `You are a research paper analyst for a graduate student working on
edge intelligence, Transformer architectures and network optimization.
Judge each paper's relevance from that perspective.`

// Client calls the chat-completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	transport   retry.Policy
	schema      retry.Policy
	callTimeout time.Duration
}

// NewClient creates an analysis client. baseURL is the provider root, e.g.
// "https://api.openai.com/v1". Transport and schema retries share the same
// backoff shape but are capped independently.
func NewClient(apiKey, baseURL, model string, retryBudget int) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		transport:   retry.Default(retryBudget),
		schema:      retry.Default(retryBudget),
		callTimeout: 90 * time.Second,
	}
}

// Analyze produces a scored summary for one paper. Transport errors and
// schema violations are each retried within their own bounded budget; when
// either budget is spent the result is a failed Analysis, not an error.
func (c *Client) Analyze(ctx context.Context, p feed.Paper) Analysis {
	return c.analyze(ctx, p.ID, buildPrompt(p))
}

// ProjectInput describes a trending repository for analysis.
type ProjectInput struct {
	Name        string
	URL         string
	Description string
	Language    string
	Stars       int
	StarsToday  int
}

// AnalyzeProject scores a trending repository with the same retry and schema
// rules as paper analysis.
func (c *Client) AnalyzeProject(ctx context.Context, in ProjectInput) Analysis {
	return c.analyze(ctx, in.Name, buildProjectPrompt(in))
}

func (c *Client) analyze(ctx context.Context, id, prompt string) Analysis {
	if ctx.Err() != nil {
		return Analysis{PaperID: id, Status: StatusSkipped}
	}

	delay := c.schema.BaseDelay
	for attempt := 1; attempt <= c.schema.MaxAttempts; attempt++ {
		content, err := c.complete(ctx, prompt)
		if err != nil {
			log.Printf("Analysis call failed for %s: %v", id, err)
			return Analysis{PaperID: id, Status: StatusFailed}
		}

		analysis, err := parseAnalysis(id, content)
		if err == nil {
			return analysis
		}
		log.Printf("Invalid analysis payload for %s (attempt %d/%d): %v",
			id, attempt, c.schema.MaxAttempts, err)

		if attempt == c.schema.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Analysis{PaperID: id, Status: StatusFailed}
		case <-time.After(delay):
		}
		delay *= 2
		if c.schema.MaxDelay > 0 && delay > c.schema.MaxDelay {
			delay = c.schema.MaxDelay
		}
	}

	return Analysis{PaperID: id, Status: StatusFailed}
}

// AnalyzeBatch analyzes papers with bounded concurrency. Results come back in
// input order: each worker writes to its own index slot, so completion order
// never affects the output.
func (c *Client) AnalyzeBatch(ctx context.Context, papers []feed.Paper, maxConcurrent int) []Analysis {
	return c.fanOut(ctx, len(papers), maxConcurrent, func(callCtx context.Context, i int) Analysis {
		return c.Analyze(callCtx, papers[i])
	})
}

// AnalyzeProjects is AnalyzeBatch for trending repositories.
func (c *Client) AnalyzeProjects(ctx context.Context, projects []ProjectInput, maxConcurrent int) []Analysis {
	return c.fanOut(ctx, len(projects), maxConcurrent, func(callCtx context.Context, i int) Analysis {
		return c.AnalyzeProject(callCtx, projects[i])
	})
}

// fanOut runs n independent calls under a concurrency semaphore, each with
// its own timeout, collecting results into index-addressed slots.
func (c *Client) fanOut(ctx context.Context, n, maxConcurrent int, call func(ctx context.Context, i int) Analysis) []Analysis {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	type result struct {
		index    int
		analysis Analysis
	}

	semaphore := make(chan struct{}, maxConcurrent)
	results := make(chan result, n)

	for i := 0; i < n; i++ {
		go func(index int) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			// A call that has not started yet is skipped once the run budget
			// is spent, but a started call keeps the full per-call timeout:
			// the run deadline never aborts it mid-flight.
			if ctx.Err() != nil {
				results <- result{index: index, analysis: call(ctx, index)}
				return
			}

			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
			defer cancel()

			results <- result{index: index, analysis: call(callCtx, index)}
		}(i)
	}

	analyses := make([]Analysis, n)
	for i := 0; i < n; i++ {
		res := <-results
		analyses[res.index] = res.analysis
	}

	return analyses
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete sends one chat-completions request, retrying rate limits and
// server errors within the transport budget.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: researchContext},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   500,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var content string
	err = c.transport.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return &retry.Permanent{Err: fmt.Errorf("creating request: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return &retry.Permanent{Err: fmt.Errorf("provider returned status %d: %s", resp.StatusCode, respBody)}
		}

		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return fmt.Errorf("no choices in response")
		}

		content = chatResp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

func buildPrompt(p feed.Paper) string {
	authors := p.Authors
	if len(authors) > maxPromptAuthors {
		authors = authors[:maxPromptAuthors]
	}

	abstract := truncate(p.Abstract, maxAbstractChars)

	var b strings.Builder
	b.WriteString("Analyze the following paper and reply with JSON only, in this exact shape:\n\n")
	b.WriteString("{\n")
	b.WriteString("  \"summary\": \"<2-3 sentence summary of the paper>\",\n")
	b.WriteString("  \"score\": <integer 1-10, 10 = directly relevant to edge intelligence or Transformer optimization>,\n")
	b.WriteString("  \"note\": \"<one sentence on why this matters for the reader's research>\"\n")
	b.WriteString("}\n\n")
	b.WriteString("Scoring guide: 9-10 edge intelligence, edge inference, Transformer optimization; ")
	b.WriteString("7-8 federated learning, model compression, mobile computing; ")
	b.WriteString("5-6 network optimization, distributed systems; 1-4 weakly related AI work.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Authors: %s\n", strings.Join(authors, ", "))
	fmt.Fprintf(&b, "Abstract: %s\n", abstract)

	return b.String()
}

func buildProjectPrompt(in ProjectInput) string {
	var b strings.Builder
	b.WriteString("Analyze the following trending open-source AI project and reply with JSON only, in this exact shape:\n\n")
	b.WriteString("{\n")
	b.WriteString("  \"summary\": \"<2-3 sentence summary of what the project does>\",\n")
	b.WriteString("  \"score\": <integer 1-10, 10 = highly useful for edge intelligence or Transformer research>,\n")
	b.WriteString("  \"note\": \"<one sentence on how a researcher could use it>\"\n")
	b.WriteString("}\n\n")
	fmt.Fprintf(&b, "Project: %s\n", in.Name)
	fmt.Fprintf(&b, "Language: %s\n", in.Language)
	fmt.Fprintf(&b, "Stars: %d (%d today)\n", in.Stars, in.StarsToday)
	fmt.Fprintf(&b, "Description: %s\n", in.Description)

	return b.String()
}

// parseAnalysis extracts and validates the JSON payload from the model's
// reply. Any deviation from the expected schema is an error, never a
// best-effort partial result.
func parseAnalysis(paperID, content string) (Analysis, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return Analysis{}, err
	}

	var payload struct {
		Summary *string      `json:"summary"`
		Score   *json.Number `json:"score"`
		Note    *string      `json:"note"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return Analysis{}, fmt.Errorf("unmarshaling payload: %w", err)
	}

	if payload.Summary == nil || payload.Score == nil || payload.Note == nil {
		return Analysis{}, fmt.Errorf("payload missing required fields")
	}

	summary := strings.TrimSpace(*payload.Summary)
	note := strings.TrimSpace(*payload.Note)
	if summary == "" || note == "" {
		return Analysis{}, fmt.Errorf("payload has empty summary or note")
	}
	summary = truncate(summary, maxSummaryChars)

	score, err := payload.Score.Int64()
	if err != nil {
		// Providers sometimes return an integral float like 8.0.
		f, ferr := payload.Score.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return Analysis{}, fmt.Errorf("score is not an integer: %s", *payload.Score)
		}
		score = int64(f)
	}
	if score < 1 || score > 10 {
		return Analysis{}, fmt.Errorf("score %d out of range", score)
	}

	return Analysis{
		PaperID: paperID,
		Summary: summary,
		Score:   int(score),
		Note:    note,
		Status:  StatusOK,
	}, nil
}

// extractJSON finds the first balanced JSON object in the reply, tolerating
// markdown fences and prose around it.
func extractJSON(content string) (string, error) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, ch := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return content[start : i+1], nil
				}
			}
		}
	}

	return "", fmt.Errorf("no JSON object in response")
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
