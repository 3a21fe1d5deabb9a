package analysis

import (
	"testing"

	"github.com/ferrow/reqscope/pkg/models"
)

func TestCategorizeByKeyword(t *testing.T) {
	reqs := []models.Requirement{
		{ID: "REQ-1", Text: "The system must authenticate users"},
		{ID: "REQ-2", Text: "Sessions shall expire after an hour"},
		{ID: "REQ-3", Text: "The UI should remember the last filter"},
		{ID: "REQ-4", Text: "Exports could include CSV, nice to have"},
		{ID: "REQ-5", Text: "Mobile support is out of scope"},
	}

	cats := Categorize(reqs)

	expect := map[models.Priority][]string{
		models.PriorityMust:   {"REQ-1", "REQ-2"},
		models.PriorityShould: {"REQ-3"},
		models.PriorityCould:  {"REQ-4"},
		models.PriorityWont:   {"REQ-5"},
	}
	for prio, ids := range expect {
		bucket := cats.Buckets[prio]
		if len(bucket) != len(ids) {
			t.Errorf("%s: expected %v, got %+v", prio, ids, bucket)
			continue
		}
		for i, id := range ids {
			if bucket[i].ID != id {
				t.Errorf("%s[%d]: expected %s, got %s", prio, i, id, bucket[i].ID)
			}
		}
	}
}

func TestCategorizePartitionsInput(t *testing.T) {
	reqs := []models.Requirement{
		{ID: "REQ-1", Text: "must do a thing"},
		{ID: "REQ-2", Text: "a plain statement"},
		{ID: "REQ-3", Text: "optional extra"},
	}

	cats := Categorize(reqs)

	if cats.Total() != len(reqs) {
		t.Fatalf("union of buckets must equal input: %d vs %d", cats.Total(), len(reqs))
	}

	seen := make(map[string]int)
	for _, bucket := range cats.Buckets {
		for _, req := range bucket {
			seen[req.ID]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("requirement %s appears in %d buckets", id, n)
		}
	}
}

func TestCategorizeDeduplicatesByID(t *testing.T) {
	reqs := []models.Requirement{
		{ID: "REQ-1", Text: "must do a thing"},
		{ID: "REQ-1", Text: "must do a thing, again"},
	}

	cats := Categorize(reqs)
	if cats.Total() != 1 {
		t.Errorf("duplicate IDs must collapse to one entry, got %d", cats.Total())
	}
}
