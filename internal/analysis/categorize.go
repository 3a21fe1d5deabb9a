package analysis

import (
	"strings"

	"github.com/ferrow/reqscope/pkg/models"
)

// Categorize partitions requirements into disjoint MoSCoW buckets. Input
// duplicates are removed by first-seen requirement ID, so the union of
// all buckets equals the deduplicated input: no loss, no duplication.
func Categorize(reqs []models.Requirement) *models.CategorySet {
	buckets := make(map[models.Priority][]models.Requirement, len(models.Priorities))
	seen := make(map[string]bool, len(reqs))

	for _, req := range reqs {
		if seen[req.ID] {
			continue
		}
		seen[req.ID] = true
		buckets[priorityFor(req.Text)] = append(buckets[priorityFor(req.Text)], req)
	}

	return &models.CategorySet{Buckets: buckets}
}

// priorityFor is a keyword heuristic; the semantic rules of any particular
// categorization scheme are not fixed here.
func priorityFor(text string) models.Priority {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "won't") || strings.Contains(t, "wont") ||
		strings.Contains(t, "out of scope") || strings.Contains(t, "not required"):
		return models.PriorityWont
	case strings.Contains(t, "must") || strings.Contains(t, "shall") ||
		strings.Contains(t, "required"):
		return models.PriorityMust
	case strings.Contains(t, "could") || strings.Contains(t, "may ") ||
		strings.Contains(t, "optional") || strings.Contains(t, "nice to have"):
		return models.PriorityCould
	default:
		return models.PriorityShould
	}
}
