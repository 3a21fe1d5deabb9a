package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ferrow/reqscope/internal/client"
	"github.com/ferrow/reqscope/internal/pipeline"
	"github.com/ferrow/reqscope/pkg/models"
)

// Stage names. These are node identifiers in the engine's dispatch table
// and are validated against state field identifiers at registration.
const (
	StageRequirementExtraction = "RequirementExtraction"
	StageCategorization        = "Categorization"
	StageTechnologyExtraction  = "TechnologyExtraction"
	StageResearch              = "Research"
	StageReportAssembly        = "ReportAssembly"
)

// Deps carries everything the built-in stages need
type Deps struct {
	Client       *client.Client
	Parser       Parser
	Services     []string // enabled research services
	Concurrency  int
	Timeout      time.Duration
	MaxPerSource int
	Logger       *slog.Logger
}

// Stages returns the default stage sequence. Each stage's fallback is its
// success successor, so one broken analysis step never blocks the rest of
// the report.
func Stages(deps Deps) []pipeline.Stage {
	return []pipeline.Stage{
		{
			Name:         StageRequirementExtraction,
			Run:          extractRequirements(deps),
			FallbackNext: StageCategorization,
		},
		{
			Name:         StageCategorization,
			Run:          categorize(),
			FallbackNext: StageTechnologyExtraction,
		},
		{
			Name:         StageTechnologyExtraction,
			Run:          extractTechnologies(),
			FallbackNext: StageResearch,
		},
		{
			Name:         StageResearch,
			Run:          research(deps),
			FallbackNext: StageReportAssembly,
		},
		{
			Name:         StageReportAssembly,
			Run:          assembleReport(),
			FallbackNext: "",
		},
	}
}

func extractRequirements(deps Deps) pipeline.StageFunc {
	return func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		reqs, err := deps.Parser.Parse(state.DocumentText)
		if err != nil {
			return models.StateDelta{}, "", fmt.Errorf("requirement extraction failed: %w", err)
		}
		return models.StateDelta{
			Requirements: reqs,
			Progress:     []string{fmt.Sprintf("extracted %d requirements", len(reqs))},
		}, StageCategorization, nil
	}
}

func categorize() pipeline.StageFunc {
	return func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		if len(state.Requirements) == 0 {
			return models.StateDelta{}, "", fmt.Errorf("no requirements to categorize")
		}
		cats := Categorize(state.Requirements)
		return models.StateDelta{
			Categories: cats,
			Progress:   []string{fmt.Sprintf("categorized %d requirements into %d buckets", cats.Total(), len(cats.Buckets))},
		}, StageTechnologyExtraction, nil
	}
}

// knownTechnologies is a deliberately small table; richer extraction is a
// collaborator concern, not pipeline design.
var knownTechnologies = []string{
	"postgresql", "mysql", "sqlite", "redis", "kafka", "rabbitmq",
	"kubernetes", "docker", "grpc", "graphql", "rest", "oauth",
	"websocket", "prometheus", "s3", "terraform", "react", "go",
	"python", "rust", "typescript",
}

func extractTechnologies() pipeline.StageFunc {
	return func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		text := strings.ToLower(state.DocumentText)
		var techs []string
		for _, tech := range knownTechnologies {
			if strings.Contains(text, tech) {
				techs = append(techs, tech)
			}
		}
		return models.StateDelta{
			Technologies: techs,
			Progress:     []string{fmt.Sprintf("identified %d technologies", len(techs))},
		}, StageResearch, nil
	}
}

func research(deps Deps) pipeline.StageFunc {
	return func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		queries := state.Technologies
		if len(queries) == 0 || len(deps.Services) == 0 {
			return models.StateDelta{
				Findings: []models.Finding{},
				Progress: []string{"research skipped: nothing to query"},
			}, StageReportAssembly, nil
		}

		findings, branchErrs := Research(ctx, deps.Client, deps.Services, queries,
			state.DocumentPath, deps.Concurrency, deps.Timeout, deps.MaxPerSource, deps.Logger)

		return models.StateDelta{
			Findings: findings,
			Errors:   branchErrs,
			Progress: []string{fmt.Sprintf("research returned %d findings from %d services", len(findings), len(deps.Services))},
		}, StageReportAssembly, nil
	}
}

func assembleReport() pipeline.StageFunc {
	return func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "Analysis of %s (iteration %d)\n", state.DocumentPath, state.Iteration)
		fmt.Fprintf(&b, "Requirements: %d\n", len(state.Requirements))
		if state.Categories != nil {
			for _, p := range models.Priorities {
				if n := len(state.Categories.Buckets[p]); n > 0 {
					fmt.Fprintf(&b, "  %s: %d\n", p, n)
				}
			}
		}
		fmt.Fprintf(&b, "Technologies: %s\n", strings.Join(state.Technologies, ", "))
		fmt.Fprintf(&b, "Research findings: %d\n", len(state.Findings))
		if len(state.Errors) > 0 {
			fmt.Fprintf(&b, "Degraded steps: %d\n", len(state.Errors))
		}

		summary := b.String()
		return models.StateDelta{
			Summary:  &summary,
			Progress: []string{"report assembled"},
		}, "", nil
	}
}
