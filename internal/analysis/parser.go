package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ferrow/reqscope/pkg/models"
)

// Parser turns free document text into structured requirement records.
// The default implementation is deliberately thin; callers may plug in a
// richer one.
type Parser interface {
	Parse(text string) ([]models.Requirement, error)
}

// LineParser extracts one requirement per non-empty line, honoring an
// explicit "REQ-n:" prefix when present and assigning sequential IDs
// otherwise.
type LineParser struct{}

var reqIDPattern = regexp.MustCompile(`^([A-Z]+-\d+)\s*[:.-]\s*(.+)$`)

// Parse implements Parser
func (LineParser) Parse(text string) ([]models.Requirement, error) {
	var reqs []models.Requirement
	seq := 0
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• \t"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		seq++
		req := models.Requirement{Source: i + 1}
		if m := reqIDPattern.FindStringSubmatch(line); m != nil {
			req.ID = m[1]
			req.Text = m[2]
		} else {
			req.ID = fmt.Sprintf("REQ-%d", seq)
			req.Text = line
		}
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("document contains no requirements")
	}
	return reqs, nil
}
