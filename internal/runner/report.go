package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ferrow/reqscope/pkg/models"
)

// report is the on-disk analysis artifact
type report struct {
	SessionID    string               `json:"session_id"`
	Document     string               `json:"document"`
	Iteration    int                  `json:"iteration"`
	Requirements []models.Requirement `json:"requirements"`
	Categories   *models.CategorySet  `json:"categories,omitempty"`
	Technologies []string             `json:"technologies,omitempty"`
	Findings     []models.Finding     `json:"findings,omitempty"`
	Summary      string               `json:"summary"`
	Errors       []string             `json:"errors,omitempty"`
	Stats        models.SessionStats  `json:"stats"`
}

// writeReport persists the completed analysis under the session directory.
// Written via a temp file and rename so a crash never leaves a truncated
// report behind.
func (r *Runner) writeReport(sessionID string, state *models.PipelineState, stats models.SessionStats) (string, error) {
	sessionDir := filepath.Join(r.cfg.Pipeline.OutputDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	rep := report{
		SessionID:    sessionID,
		Document:     state.DocumentPath,
		Iteration:    state.Iteration,
		Requirements: state.Requirements,
		Categories:   state.Categories,
		Technologies: state.Technologies,
		Findings:     state.Findings,
		Summary:      state.Summary,
		Errors:       state.Errors,
		Stats:        stats,
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	reportPath := filepath.Join(sessionDir, "report.json")
	tempPath := reportPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tempPath, reportPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize report: %w", err)
	}

	summaryPath := filepath.Join(sessionDir, "summary.txt")
	if err := os.WriteFile(summaryPath, []byte(state.Summary), 0644); err != nil {
		r.logger.Warn("Failed to write summary file", "error", err)
	}

	r.logger.Info("Wrote analysis report",
		"session_id", sessionID,
		"path", reportPath)
	return reportPath, nil
}
