package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/pipeline"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scholar-daily",
		Short: "Daily research paper digest pipeline",
		Long:  "Fetches recent arXiv papers, filters them by keyword relevance, scores them with an LLM and delivers a ranked digest to Telegram.",
	}

	rootCmd.AddCommand(runCmd(), trendingCmd(), previewCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPipeline() *pipeline.Pipeline {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return pipeline.New(cfg)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the paper digest once and deliver it",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := newPipeline().Run(cmd.Context())
			return finish(report)
		},
	}
}

func trendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trending",
		Short: "Run the trending-repositories digest once and deliver it",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := newPipeline().RunTrending(cmd.Context())
			return finish(report)
		},
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Render the paper digest without delivering it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rendered, report := newPipeline().Preview(cmd.Context())
			if report.Outcome == pipeline.OutcomeHardFailure {
				return fmt.Errorf("run %s failed: %w", report.RunID, report.Err)
			}
			if rendered == "" {
				fmt.Println("No digest for this run")
				return nil
			}
			fmt.Println(rendered)
			return nil
		},
	}
}

func finish(report pipeline.Report) error {
	switch report.Outcome {
	case pipeline.OutcomeHardFailure:
		return fmt.Errorf("run %s failed: %w", report.RunID, report.Err)
	case pipeline.OutcomePartialFailure:
		fmt.Printf("Run %s delivered with %d failed items\n", report.RunID, report.Counts.Failed)
	case pipeline.OutcomeNoDigest:
		fmt.Printf("Run %s finished: nothing to deliver\n", report.RunID)
	default:
		fmt.Printf("Run %s delivered %d items\n", report.RunID, report.Counts.Scored)
	}
	return nil
}
