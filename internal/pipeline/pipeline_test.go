package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/feed"
	"github.com/aischolar/scholar-daily/internal/llm"
	"github.com/aischolar/scholar-daily/internal/telegram"
	"github.com/aischolar/scholar-daily/internal/trending"
)

type stubFeed struct {
	papers []feed.Paper
	err    error
	calls  int
}

func (s *stubFeed) Fetch(_ context.Context, _, _ time.Time, _ []string) ([]feed.Paper, error) {
	s.calls++
	return s.papers, s.err
}

func (s *stubFeed) FetchNews(_ context.Context, _ []feed.NewsSource, _ time.Time) []feed.Paper {
	return nil
}

type stubDeliverer struct {
	mu      sync.Mutex
	sent    []string
	receipt telegram.Receipt
	err     error
}

func (s *stubDeliverer) Send(_ context.Context, text string) (telegram.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	if s.err != nil {
		return s.receipt, s.err
	}
	return telegram.Receipt{Parts: 1, Delivered: 1}, nil
}

type stubTrending struct {
	projects []trending.Project
	err      error
}

func (s *stubTrending) FetchAIProjects(_ context.Context, _ string, _, _ int) ([]trending.Project, error) {
	return s.projects, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		CoreKeywords:      []string{"transformer"},
		RelatedKeywords:   []string{"attention", "pretraining"},
		ArxivCategories:   []string{"cs.LG"},
		FeedDays:          1,
		MaxItems:          10,
		RetryBudget:       2,
		ConcurrencyCap:    2,
		RunTimeoutSeconds: 60,
		LLMModel:          "test-model",
	}
}

func testPaper(id, title, abstract string) feed.Paper {
	return feed.Paper{
		ID:        id,
		Title:     title,
		Authors:   []string{"A. Researcher"},
		Abstract:  abstract,
		URL:       "https://arxiv.org/abs/" + id,
		Published: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		Version:   1,
		Source:    "arxiv",
	}
}

// promptedTitle extracts which paper a chat completion request is about by
// matching known titles against the user prompt.
func promptedTitle(t *testing.T, r *http.Request, titles []string) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("reading request body: %v", err)
	}
	for _, title := range titles {
		if strings.Contains(string(body), title) {
			return title
		}
	}
	t.Fatalf("request prompt mentions none of the expected titles: %s", body)
	return ""
}

func chatCompletion(content string) string {
	reply, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(reply)
}

func analysisJSON(summary string, score int) string {
	return fmt.Sprintf(`{"summary": %q, "score": %d, "note": "worth a read"}`, summary, score)
}

func newPipeline(cfg *config.Config, f FeedClient, a Analyzer, d Deliverer) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		feed:      f,
		analyzer:  a,
		deliverer: d,
		trending:  &stubTrending{},
		now:       func() time.Time { return time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC) },
	}
}

func TestRunDeliversDigestOrderedByScore(t *testing.T) {
	papers := []feed.Paper{
		testPaper("2408.00001", "Sparse Attention Revisited", "We study attention and pretraining."),
		testPaper("2408.00002", "Transformer Scaling Laws", "A transformer study."),
		testPaper("2408.00003", "Crop Yield Estimation", "Nothing relevant here."),
	}
	titles := []string{papers[0].Title, papers[1].Title}

	// The second paper's first reply is malformed; the retry must recover it.
	var mu sync.Mutex
	attempts := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title := promptedTitle(t, r, titles)
		mu.Lock()
		attempts[title]++
		n := attempts[title]
		mu.Unlock()

		switch {
		case title == papers[1].Title && n == 1:
			fmt.Fprint(w, chatCompletion("sorry, no JSON today"))
		case title == papers[0].Title:
			fmt.Fprint(w, chatCompletion(analysisJSON("Attention summary", 5)))
		default:
			fmt.Fprint(w, chatCompletion(analysisJSON("Scaling summary", 8)))
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomeDigestSent {
		t.Fatalf("outcome = %s, want %s (err: %v)", report.Outcome, OutcomeDigestSent, report.Err)
	}
	if report.Counts.Candidates != 3 || report.Counts.Retained != 2 || report.Counts.Scored != 2 {
		t.Errorf("counts = %+v, want 3 candidates, 2 retained, 2 scored", report.Counts)
	}
	if report.Counts.Failed != 0 {
		t.Errorf("failed = %d, want 0", report.Counts.Failed)
	}
	if len(deliverer.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(deliverer.sent))
	}

	text := deliverer.sent[0]
	high := strings.Index(text, "8/10")
	low := strings.Index(text, "5/10")
	if high < 0 || low < 0 {
		t.Fatalf("rendered digest missing scores:\n%s", text)
	}
	if high > low {
		t.Errorf("score 8 item should precede score 5 item:\n%s", text)
	}
	if strings.Contains(text, "Crop Yield") {
		t.Errorf("filtered-out paper leaked into digest:\n%s", text)
	}
	if got := attempts[papers[1].Title]; got != 2 {
		t.Errorf("malformed-reply paper took %d calls, want 2", got)
	}
}

func TestRunWithoutMatchesSkipsSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("summarizer called for a run with no retained candidates")
		http.Error(w, "unexpected", http.StatusTeapot)
	}))
	defer srv.Close()

	papers := []feed.Paper{
		testPaper("2408.00010", "Bridge Load Modeling", "Concrete and steel."),
		testPaper("2408.00011", "Tidal Current Atlas", "Oceanography survey."),
	}

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomeNoDigest {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeNoDigest)
	}
	if report.Counts.Candidates != 2 || report.Counts.Retained != 0 {
		t.Errorf("counts = %+v, want 2 candidates, 0 retained", report.Counts)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("delivered %d messages, want none", len(deliverer.sent))
	}
}

func TestRunFeedFailureIsHard(t *testing.T) {
	fetchErr := fmt.Errorf("fetching page 1: %w", feed.ErrFeedUnavailable)
	cfg := testConfig()
	deliverer := &stubDeliverer{}
	analyzer := llm.NewClient("test-key", "http://127.0.0.1:0", cfg.LLMModel, cfg.RetryBudget)
	p := newPipeline(cfg, &stubFeed{err: fetchErr}, analyzer, deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomeHardFailure {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeHardFailure)
	}
	if !errors.Is(report.Err, feed.ErrFeedUnavailable) {
		t.Errorf("report error = %v, want wrapped ErrFeedUnavailable", report.Err)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("delivered %d messages after feed failure, want none", len(deliverer.sent))
	}
}

func TestRunPartialFailure(t *testing.T) {
	papers := []feed.Paper{
		testPaper("2408.00020", "Transformer Compression", "A transformer study."),
		testPaper("2408.00021", "Transformer Poison", "A transformer study."),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title := promptedTitle(t, r, []string{papers[0].Title, papers[1].Title})
		if title == papers[1].Title {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, chatCompletion(analysisJSON("Compression summary", 7)))
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomePartialFailure {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomePartialFailure)
	}
	if report.Counts.Scored != 1 || report.Counts.Failed != 1 {
		t.Errorf("counts = %+v, want 1 scored, 1 failed", report.Counts)
	}
	if len(deliverer.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(deliverer.sent))
	}
	if strings.Contains(deliverer.sent[0], "Poison") {
		t.Errorf("failed paper leaked into digest:\n%s", deliverer.sent[0])
	}
}

func TestRunDeliveryFailureIsHard(t *testing.T) {
	papers := []feed.Paper{
		testPaper("2408.00030", "Transformer Basics", "A transformer study."),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, chatCompletion(analysisJSON("Basics summary", 6)))
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{
		receipt: telegram.Receipt{Parts: 2, Delivered: 1},
		err:     fmt.Errorf("sending part 2/2: %w", telegram.ErrDeliveryFailed),
	}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomeHardFailure {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeHardFailure)
	}
	if !errors.Is(report.Err, telegram.ErrDeliveryFailed) {
		t.Errorf("report error = %v, want wrapped ErrDeliveryFailed", report.Err)
	}
	if report.Receipt.Delivered != 1 || report.Receipt.Parts != 2 {
		t.Errorf("receipt = %+v, want 1/2 delivered", report.Receipt)
	}
}

func TestRunAllAnalysesFailedIsNoDigest(t *testing.T) {
	papers := []feed.Paper{
		testPaper("2408.00040", "Transformer Outage", "A transformer study."),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	report := p.Run(context.Background())

	if report.Outcome != OutcomeNoDigest {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeNoDigest)
	}
	if report.Counts.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Counts.Failed)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("delivered %d messages, want none", len(deliverer.sent))
	}
}

func TestPreviewRendersWithoutDelivering(t *testing.T) {
	papers := []feed.Paper{
		testPaper("2408.00050", "Transformer Preview", "A transformer study."),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, chatCompletion(analysisJSON("Preview summary", 9)))
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{papers: papers},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)

	rendered, report := p.Preview(context.Background())

	if report.Outcome != OutcomeDigestSent {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeDigestSent)
	}
	if !strings.Contains(rendered, "Transformer Preview") {
		t.Errorf("preview missing paper title:\n%s", rendered)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("preview delivered %d messages, want none", len(deliverer.sent))
	}
}

func TestRunTrendingDigest(t *testing.T) {
	projects := []trending.Project{
		{Name: "acme/llm-kit", URL: "https://github.com/acme/llm-kit", Description: "LLM toolbox", Language: "Python", Stars: 1200, StarsToday: 80},
		{Name: "acme/agent-lab", URL: "https://github.com/acme/agent-lab", Description: "Agent sandbox", Language: "Python", Stars: 300, StarsToday: 15},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		score := 6
		if strings.Contains(string(body), "llm-kit") {
			score = 9
		}
		fmt.Fprint(w, chatCompletion(analysisJSON("Project summary", score)))
	}))
	defer srv.Close()

	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{},
		llm.NewClient("test-key", srv.URL, cfg.LLMModel, cfg.RetryBudget), deliverer)
	p.trending = &stubTrending{projects: projects}

	report := p.RunTrending(context.Background())

	if report.Outcome != OutcomeDigestSent {
		t.Fatalf("outcome = %s, want %s (err: %v)", report.Outcome, OutcomeDigestSent, report.Err)
	}
	if report.Counts.Scored != 2 {
		t.Errorf("scored = %d, want 2", report.Counts.Scored)
	}
	if len(deliverer.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(deliverer.sent))
	}
	if !strings.Contains(deliverer.sent[0], "llm-kit") {
		t.Errorf("trending digest missing project:\n%s", deliverer.sent[0])
	}
}

func TestRunTrendingFetchFailureIsHard(t *testing.T) {
	cfg := testConfig()
	deliverer := &stubDeliverer{}
	p := newPipeline(cfg, &stubFeed{}, llm.NewClient("k", "http://127.0.0.1:0", cfg.LLMModel, 2), deliverer)
	p.trending = &stubTrending{err: errors.New("trending page unavailable")}

	report := p.RunTrending(context.Background())

	if report.Outcome != OutcomeHardFailure {
		t.Fatalf("outcome = %s, want %s", report.Outcome, OutcomeHardFailure)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("delivered %d messages, want none", len(deliverer.sent))
	}
}
