package models

import "time"

// Priority represents a MoSCoW categorization bucket
type Priority string

const (
	PriorityMust   Priority = "must"
	PriorityShould Priority = "should"
	PriorityCould  Priority = "could"
	PriorityWont   Priority = "wont"
)

// Priorities lists all buckets in presentation order
var Priorities = []Priority{PriorityMust, PriorityShould, PriorityCould, PriorityWont}

// Requirement is one structured record extracted from the source document
type Requirement struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source int    `json:"source_line,omitempty"` // 1-based line in the document, 0 if synthetic
}

// CategorySet partitions requirements into disjoint priority buckets.
// The union of all buckets, deduplicated by first-seen requirement ID,
// equals the input set.
type CategorySet struct {
	Buckets map[Priority][]Requirement `json:"buckets"`
}

// Total returns the number of requirements across all buckets
func (c *CategorySet) Total() int {
	n := 0
	for _, reqs := range c.Buckets {
		n += len(reqs)
	}
	return n
}

// Finding is a single research result contributed by an upstream service
type Finding struct {
	Service string `json:"service"`
	Query   string `json:"query"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// SessionStats tracks statistics for an analysis session
type SessionStats struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	StagesRun     int           `json:"stages_run"`
	StageErrors   int           `json:"stage_errors"`
	UpstreamCalls int           `json:"upstream_calls"`
	CacheHits     int           `json:"cache_hits"`
	TotalDuration time.Duration `json:"total_duration"`
}
