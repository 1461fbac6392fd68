// Package pipeline orchestrates one digest run: fetch, filter, score,
// assemble, deliver. All run state lives in the Run call; nothing persists
// between runs.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/digest"
	"github.com/aischolar/scholar-daily/internal/feed"
	"github.com/aischolar/scholar-daily/internal/filter"
	"github.com/aischolar/scholar-daily/internal/llm"
	"github.com/aischolar/scholar-daily/internal/telegram"
	"github.com/aischolar/scholar-daily/internal/trending"
)

// Outcome is the logical result of a run, consumed by whatever triggered it.
type Outcome string

const (
	OutcomeDigestSent     Outcome = "success-with-digest"
	OutcomeNoDigest       Outcome = "success-no-digest"
	OutcomePartialFailure Outcome = "partial-failure"
	OutcomeHardFailure    Outcome = "hard-failure"
)

// Report summarizes a finished run.
type Report struct {
	RunID      string           `json:"run_id"`
	Outcome    Outcome          `json:"outcome"`
	Counts     digest.Counts    `json:"counts"`
	Receipt    telegram.Receipt `json:"receipt"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Err        error            `json:"-"`
}

// FeedClient retrieves candidate papers.
type FeedClient interface {
	Fetch(ctx context.Context, windowStart, windowEnd time.Time, categories []string) ([]feed.Paper, error)
	FetchNews(ctx context.Context, sources []feed.NewsSource, windowStart time.Time) []feed.Paper
}

// Analyzer scores retained candidates.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, papers []feed.Paper, maxConcurrent int) []llm.Analysis
	AnalyzeProjects(ctx context.Context, projects []llm.ProjectInput, maxConcurrent int) []llm.Analysis
}

// Deliverer pushes the rendered digest to the messaging endpoint.
type Deliverer interface {
	Send(ctx context.Context, text string) (telegram.Receipt, error)
}

// TrendingClient retrieves AI-related trending repositories.
type TrendingClient interface {
	FetchAIProjects(ctx context.Context, language string, maxResults, minResults int) ([]trending.Project, error)
}

// Pipeline wires the stages for one subscriber.
type Pipeline struct {
	cfg         *config.Config
	feed        FeedClient
	analyzer    Analyzer
	deliverer   Deliverer
	trending    TrendingClient
	newsSources []feed.NewsSource
	now         func() time.Time
}

// New builds a pipeline with the production clients.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		feed:        feed.NewClient(cfg.RetryBudget),
		analyzer:    llm.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, cfg.RetryBudget),
		deliverer:   telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.RetryBudget),
		trending:    trending.NewClient(cfg.RetryBudget),
		newsSources: feed.DefaultNewsSources,
		now:         time.Now,
	}
}

// Run executes one paper digest run and reports its outcome. Feed and
// delivery failures are run-fatal; per-paper summarization failures are not.
func (p *Pipeline) Run(ctx context.Context) Report {
	report := Report{
		RunID:     shortRunID(),
		StartedAt: p.now(),
	}
	defer func() { report.FinishedAt = p.now() }()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.RunTimeoutSeconds)*time.Second)
	defer cancel()

	windowEnd := p.now()
	windowStart := windowEnd.Add(-time.Duration(p.cfg.FeedDays) * 24 * time.Hour)

	log.Printf("[%s] Run started, window %s .. %s", report.RunID,
		windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	papers, err := p.feed.Fetch(ctx, windowStart, windowEnd, p.cfg.ArxivCategories)
	if err != nil {
		log.Printf("[%s] Feed retrieval failed: %v", report.RunID, err)
		report.Outcome = OutcomeHardFailure
		report.Err = err
		return report
	}

	// News sources are best-effort extras; merge and re-dedup by ID.
	if len(p.newsSources) > 0 {
		news := p.feed.FetchNews(ctx, p.newsSources, windowStart)
		papers = feed.DedupePapers(append(papers, news...))
	}
	report.Counts.Candidates = len(papers)
	log.Printf("[%s] %d candidates fetched", report.RunID, len(papers))

	keywords := filter.Keywords{Core: p.cfg.CoreKeywords, Related: p.cfg.RelatedKeywords}
	retained, _ := filter.Retain(papers, keywords)
	report.Counts.Retained = len(retained)
	log.Printf("[%s] %d candidates retained by keyword filter", report.RunID, len(retained))

	if len(retained) == 0 {
		report.Outcome = OutcomeNoDigest
		return report
	}

	analyses := p.analyzer.AnalyzeBatch(ctx, retained, p.cfg.ConcurrencyCap)

	d, ok := digest.Assemble(retained, analyses, len(papers), p.cfg.MaxItems, p.now())
	if !ok {
		for _, a := range analyses {
			if a.Status == llm.StatusFailed {
				report.Counts.Failed++
			}
		}
		log.Printf("[%s] No successfully scored items, nothing to send", report.RunID)
		report.Outcome = OutcomeNoDigest
		return report
	}
	report.Counts = d.Counts

	receipt, err := p.deliverer.Send(ctx, d.Render())
	report.Receipt = receipt
	if err != nil {
		log.Printf("[%s] Delivery failed after %d/%d parts: %v",
			report.RunID, receipt.Delivered, receipt.Parts, err)
		report.Outcome = OutcomeHardFailure
		report.Err = err
		return report
	}

	if d.Counts.Failed > 0 {
		report.Outcome = OutcomePartialFailure
	} else {
		report.Outcome = OutcomeDigestSent
	}
	log.Printf("[%s] Run finished: %s (%d items, %d parts)",
		report.RunID, report.Outcome, d.Counts.Scored, receipt.Parts)
	return report
}

// RunTrending executes the GitHub Trending digest run.
func (p *Pipeline) RunTrending(ctx context.Context) Report {
	report := Report{
		RunID:     shortRunID(),
		StartedAt: p.now(),
	}
	defer func() { report.FinishedAt = p.now() }()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.RunTimeoutSeconds)*time.Second)
	defer cancel()

	projects, err := p.trending.FetchAIProjects(ctx, "python", p.cfg.MaxItems, 5)
	if err != nil {
		log.Printf("[%s] Trending retrieval failed: %v", report.RunID, err)
		report.Outcome = OutcomeHardFailure
		report.Err = err
		return report
	}
	report.Counts.Candidates = len(projects)
	report.Counts.Retained = len(projects)

	if len(projects) == 0 {
		report.Outcome = OutcomeNoDigest
		return report
	}

	inputs := make([]llm.ProjectInput, len(projects))
	for i, pr := range projects {
		inputs[i] = llm.ProjectInput{
			Name:        pr.Name,
			URL:         pr.URL,
			Description: pr.Description,
			Language:    pr.Language,
			Stars:       pr.Stars,
			StarsToday:  pr.StarsToday,
		}
	}

	analyses := p.analyzer.AnalyzeProjects(ctx, inputs, p.cfg.ConcurrencyCap)
	for _, a := range analyses {
		switch a.Status {
		case llm.StatusOK:
			report.Counts.Scored++
		case llm.StatusFailed:
			report.Counts.Failed++
		}
	}

	rendered, ok := digest.RenderTrending(projects, analyses, p.now())
	if !ok {
		report.Outcome = OutcomeNoDigest
		return report
	}

	receipt, err := p.deliverer.Send(ctx, rendered)
	report.Receipt = receipt
	if err != nil {
		report.Outcome = OutcomeHardFailure
		report.Err = err
		return report
	}

	if report.Counts.Failed > 0 {
		report.Outcome = OutcomePartialFailure
	} else {
		report.Outcome = OutcomeDigestSent
	}
	return report
}

// Preview renders the digest without delivering it.
func (p *Pipeline) Preview(ctx context.Context) (string, Report) {
	recorder := &renderRecorder{}
	clone := *p
	clone.deliverer = recorder
	report := clone.Run(ctx)
	return recorder.rendered, report
}

type renderRecorder struct {
	rendered string
}

func (r *renderRecorder) Send(_ context.Context, text string) (telegram.Receipt, error) {
	r.rendered = text
	return telegram.Receipt{Parts: 1, Delivered: 1}, nil
}

func shortRunID() string {
	return uuid.NewString()[:8]
}
