package pipeline

import (
	"context"
	"fmt"

	"github.com/ferrow/reqscope/pkg/models"
)

// StageFunc is one unit of pipeline processing. It receives a copy of the
// shared state and returns a patch to merge plus the name of the next
// stage ("" marks completion). Stages never mutate the state directly.
type StageFunc func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error)

// Stage is a tagged entry in the registry: a name, a handler, and the
// stage to route to when the handler fails (normally the same next stage
// as on success, so one broken step never blocks the rest of the report).
type Stage struct {
	Name         string
	Run          StageFunc
	FallbackNext string
}

// Registry is the explicit stage dispatch table. Stage names and state
// field identifiers are disjoint namespaces by construction: registration
// fails fast on a collision.
type Registry struct {
	stages map[string]Stage
	first  string
}

// NewRegistry builds a registry from an ordered stage list. The first
// entry is the pipeline entry point.
func NewRegistry(stages []Stage) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("registry requires at least one stage")
	}

	r := &Registry{stages: make(map[string]Stage, len(stages)), first: stages[0].Name}
	for _, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage name must not be empty")
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %q has no handler", s.Name)
		}
		if models.StateFieldNames[s.Name] {
			return nil, fmt.Errorf("stage name %q collides with a state field identifier", s.Name)
		}
		if _, dup := r.stages[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage name %q", s.Name)
		}
		r.stages[s.Name] = s
	}

	// Fallback targets must resolve ("" means terminate on failure)
	for _, s := range stages {
		if s.FallbackNext != "" {
			if _, ok := r.stages[s.FallbackNext]; !ok {
				return nil, fmt.Errorf("stage %q: fallback target %q is not registered", s.Name, s.FallbackNext)
			}
		}
	}

	return r, nil
}

// First returns the entry-point stage name
func (r *Registry) First() string {
	return r.first
}

// Get looks up a stage by name
func (r *Registry) Get(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}
