package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aischolar/scholar-daily/internal/pipeline"
)

// runDigestHandler triggers a paper digest run
func (s *Server) runDigestHandler(w http.ResponseWriter, r *http.Request) {
	report := s.runner.Run(r.Context())
	writeReport(w, report)
}

// runTrendingHandler triggers a trending-repositories digest run
func (s *Server) runTrendingHandler(w http.ResponseWriter, r *http.Request) {
	report := s.runner.RunTrending(r.Context())
	writeReport(w, report)
}

// previewHandler runs the pipeline without delivering and returns the
// rendered digest
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	rendered, report := s.runner.Preview(r.Context())

	response := map[string]interface{}{
		"report":   report,
		"rendered": rendered,
	}
	if report.Err != nil {
		response["error"] = report.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Outcome == pipeline.OutcomeHardFailure {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(response)
}

// statusHandler returns system status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":           "running",
		"arxiv_categories": s.config.ArxivCategories,
		"core_keywords":    len(s.config.CoreKeywords),
		"related_keywords": len(s.config.RelatedKeywords),
		"schedule":         s.config.DigestSchedule,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// configHandler returns configuration (sanitized)
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	// Config marshals without credentials; its json tags hide them.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.config)
}

func writeReport(w http.ResponseWriter, report pipeline.Report) {
	response := map[string]interface{}{
		"report": report,
	}
	if report.Err != nil {
		response["error"] = report.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Outcome == pipeline.OutcomeHardFailure {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(response)
}
