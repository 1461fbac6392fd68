package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/handlers"
	"github.com/aischolar/scholar-daily/internal/pipeline"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server := handlers.NewServer(cfg)
	router := server.SetupRoutes()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scheduled daily digest run
	p := pipeline.New(cfg)
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.DigestSchedule, func() {
		report := p.Run(ctx)
		if report.Outcome == pipeline.OutcomeHardFailure {
			log.Printf("Scheduled run %s failed: %v", report.RunID, report.Err)
		}
	})
	if err != nil {
		log.Fatalf("Invalid digest schedule %q: %v", cfg.DigestSchedule, err)
	}
	scheduler.Start()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server
	go func() {
		log.Printf("Starting server on %s:%s (digest schedule %q)", cfg.Host, cfg.Port, cfg.DigestSchedule)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down server...")

	cancel()
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
