package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/pipeline"
)

func init() {
	// Register HTTP function for scheduled and manual triggers
	functions.HTTP("RunDigest", RunDigest)
}

// RunDigest is the HTTP function behind the Cloud Scheduler trigger. The
// path selects which digest to run.
func RunDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Check Bearer token authentication
	if cfg.TriggerAuthToken != "" {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(authHeader, "Bearer ") != cfg.TriggerAuthToken {
			http.Error(w, "Invalid token", http.StatusForbidden)
			return
		}
	}

	p := pipeline.New(cfg)

	var report pipeline.Report
	switch r.URL.Path {
	case "/", "/run":
		report = p.Run(ctx)
	case "/trending":
		report = p.RunTrending(ctx)
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Outcome == pipeline.OutcomeHardFailure {
		log.Printf("Run %s failed: %v", report.RunID, report.Err)
		w.WriteHeader(http.StatusBadGateway)
	}
	response := map[string]interface{}{
		"report": report,
	}
	if report.Err != nil {
		response["error"] = report.Err.Error()
	}
	json.NewEncoder(w).Encode(response)
}

func main() {
	// This main function is required for Cloud Functions
	// The actual function registration happens in init()
}
