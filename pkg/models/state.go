package models

// PipelineState is the single mutable record threaded through every stage.
//
// Fields fall into three classes: accumulators appended to by many stages
// (Errors, Progress), stage-owned outputs written once by their producing
// stage (Requirements, Categories, Technologies, Findings, Summary), and
// control fields (CurrentStage, NextStage, Iteration). NextStage == ""
// marks pipeline completion.
type PipelineState struct {
	// Document
	DocumentPath string `json:"document_path"`
	DocumentText string `json:"document_text"`

	// Accumulators (concatenated on merge)
	Errors   []string `json:"errors"`
	Progress []string `json:"progress"`

	// Stage-owned outputs (replaced on merge when set)
	Requirements []Requirement `json:"requirements,omitempty"`
	Categories   *CategorySet  `json:"categories,omitempty"`
	Technologies []string      `json:"technologies,omitempty"`
	Findings     []Finding     `json:"findings,omitempty"`
	Summary      string        `json:"summary,omitempty"`

	// Control
	CurrentStage string `json:"current_stage"`
	NextStage    string `json:"next_stage"`
	Iteration    int    `json:"iteration"`
}

// StateFieldNames is the set of state field identifiers. Stage names must
// not collide with these; the registry rejects such names at construction.
var StateFieldNames = map[string]bool{
	"document_path": true,
	"document_text": true,
	"errors":        true,
	"progress":      true,
	"requirements":  true,
	"categories":    true,
	"technologies":  true,
	"findings":      true,
	"summary":       true,
	"current_stage": true,
	"next_stage":    true,
	"iteration":     true,
}

// NewPipelineState creates the initial state for a session with empty
// accumulators, positioned at the given first stage.
func NewPipelineState(docPath, docText, firstStage string) *PipelineState {
	return &PipelineState{
		DocumentPath: docPath,
		DocumentText: docText,
		Errors:       []string{},
		Progress:     []string{},
		CurrentStage: firstStage,
		NextStage:    firstStage,
	}
}

// Clone returns a deep copy of the state
func (s *PipelineState) Clone() *PipelineState {
	out := *s
	out.Errors = append([]string{}, s.Errors...)
	out.Progress = append([]string{}, s.Progress...)
	out.Requirements = append([]Requirement(nil), s.Requirements...)
	out.Technologies = append([]string(nil), s.Technologies...)
	out.Findings = append([]Finding(nil), s.Findings...)
	if s.Categories != nil {
		buckets := make(map[Priority][]Requirement, len(s.Categories.Buckets))
		for p, reqs := range s.Categories.Buckets {
			buckets[p] = append([]Requirement(nil), reqs...)
		}
		out.Categories = &CategorySet{Buckets: buckets}
	}
	return &out
}

// StateDelta is the shallow-merge patch returned by a stage. List fields
// are concatenated onto the state's accumulators; non-nil scalar and
// object fields replace the state's value.
type StateDelta struct {
	Errors   []string
	Progress []string

	Requirements []Requirement
	Categories   *CategorySet
	Technologies []string
	Findings     []Finding
	Summary      *string
}
