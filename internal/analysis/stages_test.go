package analysis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ferrow/reqscope/internal/pipeline"
	"github.com/ferrow/reqscope/pkg/models"
)

func testDeps() Deps {
	return Deps{
		Parser:       LineParser{},
		Concurrency:  2,
		Timeout:      time.Minute,
		MaxPerSource: 10,
		Logger:       testLogger(),
	}
}

func stageByName(t *testing.T, name string) pipeline.Stage {
	t.Helper()
	for _, s := range Stages(testDeps()) {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("stage %s not found", name)
	return pipeline.Stage{}
}

func TestStagesFormValidRegistry(t *testing.T) {
	r, err := pipeline.NewRegistry(Stages(testDeps()))
	if err != nil {
		t.Fatalf("stage table must register cleanly: %v", err)
	}
	if r.First() != StageRequirementExtraction {
		t.Errorf("pipeline must start at extraction, got %s", r.First())
	}
}

func TestExtractionStage(t *testing.T) {
	stage := stageByName(t, StageRequirementExtraction)
	state := models.NewPipelineState("/tmp/doc.md",
		"The system must support login\nReports may be exported\n",
		StageRequirementExtraction)

	delta, next, err := stage.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if next != StageCategorization {
		t.Errorf("expected next %s, got %s", StageCategorization, next)
	}
	if len(delta.Requirements) != 2 {
		t.Errorf("expected 2 requirements, got %d", len(delta.Requirements))
	}
}

func TestExtractionStageFailsOnEmptyDocument(t *testing.T) {
	stage := stageByName(t, StageRequirementExtraction)
	state := models.NewPipelineState("/tmp/doc.md", "", StageRequirementExtraction)

	if _, _, err := stage.Run(context.Background(), state); err == nil {
		t.Fatal("expected error for empty document")
	}
	if stage.FallbackNext != StageCategorization {
		t.Errorf("fallback must continue the pipeline, got %q", stage.FallbackNext)
	}
}

func TestTechnologyExtractionStage(t *testing.T) {
	stage := stageByName(t, StageTechnologyExtraction)
	state := models.NewPipelineState("/tmp/doc.md",
		"Events flow through Kafka into PostgreSQL; Redis caches hot keys.",
		StageTechnologyExtraction)

	delta, next, err := stage.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if next != StageResearch {
		t.Errorf("expected next %s, got %s", StageResearch, next)
	}

	found := make(map[string]bool)
	for _, tech := range delta.Technologies {
		found[tech] = true
	}
	for _, want := range []string{"kafka", "postgresql", "redis"} {
		if !found[want] {
			t.Errorf("expected %s in %v", want, delta.Technologies)
		}
	}
}

func TestResearchStageSkipsWithoutServices(t *testing.T) {
	stage := stageByName(t, StageResearch)
	state := models.NewPipelineState("/tmp/doc.md", "text", StageResearch)
	state.Technologies = []string{"kafka"}

	delta, next, err := stage.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if next != StageReportAssembly {
		t.Errorf("expected next %s, got %s", StageReportAssembly, next)
	}
	if delta.Findings == nil || len(delta.Findings) != 0 {
		t.Errorf("expected explicit empty findings, got %v", delta.Findings)
	}
}

func TestReportAssemblyStage(t *testing.T) {
	stage := stageByName(t, StageReportAssembly)
	state := models.NewPipelineState("/tmp/doc.md", "text", StageReportAssembly)
	state.Iteration = 1
	state.Requirements = []models.Requirement{{ID: "REQ-1", Text: "must login"}}
	state.Categories = &models.CategorySet{Buckets: map[models.Priority][]models.Requirement{
		models.PriorityMust: {{ID: "REQ-1", Text: "must login"}},
	}}
	state.Technologies = []string{"kafka"}
	state.Errors = []string{"Research: svc down"}

	delta, next, err := stage.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if next != "" {
		t.Errorf("report assembly must terminate the pipeline, got %q", next)
	}
	if delta.Summary == nil {
		t.Fatal("expected a summary")
	}
	for _, want := range []string{"iteration 1", "must: 1", "kafka", "Degraded steps: 1"} {
		if !strings.Contains(*delta.Summary, want) {
			t.Errorf("summary missing %q:\n%s", want, *delta.Summary)
		}
	}
}
