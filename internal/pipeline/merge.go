package pipeline

import "github.com/ferrow/reqscope/pkg/models"

// Apply merges a stage's delta into the state: accumulator lists are
// concatenated, stage-owned outputs replace the previous value when set.
// Control fields are owned by the engine and never appear in a delta.
func Apply(state *models.PipelineState, d *models.StateDelta) {
	state.Errors = append(state.Errors, d.Errors...)
	state.Progress = append(state.Progress, d.Progress...)

	if d.Requirements != nil {
		state.Requirements = d.Requirements
	}
	if d.Categories != nil {
		state.Categories = d.Categories
	}
	if d.Technologies != nil {
		state.Technologies = d.Technologies
	}
	if d.Findings != nil {
		state.Findings = d.Findings
	}
	if d.Summary != nil {
		state.Summary = *d.Summary
	}
}
