package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ferrow/reqscope/internal/config"
	"github.com/ferrow/reqscope/internal/pipeline"
	"github.com/ferrow/reqscope/internal/store"
	"github.com/ferrow/reqscope/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Pipeline.OutputDir = filepath.Join(dir, "output")
	cfg.Pipeline.StoreFile = filepath.Join(dir, "test.db")
	cfg.Events.FlushTickMs = 10

	r, err := New(cfg, &config.Secrets{APIKeys: map[string]string{}}, testLogger())
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleDoc = `# Payment service requirements
The system must process card payments
Refunds shall complete within one day
The dashboard should show daily totals
Receipts could be emailed, nice to have
Events flow through Kafka into PostgreSQL
`

func TestAnalyzeEndToEnd(t *testing.T) {
	r := newTestRunner(t)
	doc := writeDoc(t, sampleDoc)

	result, err := r.Analyze(context.Background(), doc, Options{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Outcome != pipeline.Completed {
		t.Fatalf("expected Completed, got %v", result.Outcome)
	}

	state := result.State
	if len(state.Requirements) != 5 {
		t.Errorf("expected 5 requirements, got %d", len(state.Requirements))
	}
	if state.Categories == nil || state.Categories.Total() != 5 {
		t.Error("categorization missing or incomplete")
	}
	if len(state.Categories.Buckets[models.PriorityMust]) != 2 {
		t.Errorf("expected 2 must requirements, got %+v",
			state.Categories.Buckets[models.PriorityMust])
	}

	found := strings.Join(state.Technologies, ",")
	if !strings.Contains(found, "kafka") || !strings.Contains(found, "postgresql") {
		t.Errorf("technologies not detected: %v", state.Technologies)
	}
	if state.Summary == "" {
		t.Error("expected a summary")
	}

	// No services configured, so no upstream traffic at all.
	if result.Stats.UpstreamCalls != 0 {
		t.Errorf("expected 0 upstream calls, got %d", result.Stats.UpstreamCalls)
	}
	if result.Stats.StagesRun != 5 {
		t.Errorf("expected 5 stages run, got %d", result.Stats.StagesRun)
	}

	if result.ReportPath == "" {
		t.Fatal("expected a report path")
	}
	data, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("report not readable: %v", err)
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if rep.SessionID != result.SessionID || len(rep.Requirements) != 5 {
		t.Errorf("report content mismatch: %+v", rep)
	}
}

func TestAnalyzeSameDocumentReusesSession(t *testing.T) {
	r := newTestRunner(t)
	doc := writeDoc(t, sampleDoc)

	first, err := r.Analyze(context.Background(), doc, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Analyze(context.Background(), doc, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if second.SessionID != first.SessionID {
		t.Error("unchanged document must reuse its session")
	}
	// Completed session short-circuits; no stages re-run.
	if second.Stats.StagesRun != 0 {
		t.Errorf("expected 0 stages on re-analyze, got %d", second.Stats.StagesRun)
	}

	forced, err := r.Analyze(context.Background(), doc, Options{ForceNew: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced.SessionID == first.SessionID {
		t.Error("force-new must allocate a fresh session")
	}
	if forced.Stats.StagesRun != 5 {
		t.Errorf("forced session must run the full pipeline, got %d stages", forced.Stats.StagesRun)
	}
}

func TestRefineBumpsIterationAndAppends(t *testing.T) {
	r := newTestRunner(t)
	doc := writeDoc(t, sampleDoc)

	if _, err := r.Analyze(context.Background(), doc, Options{}); err != nil {
		t.Fatal(err)
	}

	result, err := r.Refine(context.Background(), doc,
		"The audit log must be immutable", Options{})
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if result.Outcome != pipeline.Completed {
		t.Fatalf("expected Completed, got %v", result.Outcome)
	}
	if result.State.Iteration != 1 {
		t.Errorf("expected iteration 1, got %d", result.State.Iteration)
	}
	if len(result.State.Requirements) != 6 {
		t.Errorf("appended input must yield a 6th requirement, got %d",
			len(result.State.Requirements))
	}
	if !strings.Contains(result.State.Summary, "iteration 1") {
		t.Errorf("summary should reflect the iteration:\n%s", result.State.Summary)
	}
}

func TestRefineWithoutPriorAnalysisFails(t *testing.T) {
	r := newTestRunner(t)
	doc := writeDoc(t, sampleDoc)

	_, err := r.Refine(context.Background(), doc, "more", Options{})
	if !errors.Is(err, store.ErrNoPriorAnalysis) {
		t.Fatalf("expected ErrNoPriorAnalysis, got %v", err)
	}
}

func TestAnalyzeMissingDocumentIsFatal(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Analyze(context.Background(), "/nonexistent/doc.md", Options{})
	if err == nil {
		t.Fatal("expected error for unreadable document")
	}
}
