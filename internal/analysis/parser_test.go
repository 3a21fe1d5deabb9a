package analysis

import (
	"testing"
)

func TestParseAssignsSequentialIDs(t *testing.T) {
	text := "The system must support login\n\nThe system should export reports\n"
	reqs, err := LineParser{}.Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].ID != "REQ-1" || reqs[1].ID != "REQ-2" {
		t.Errorf("expected sequential IDs, got %s / %s", reqs[0].ID, reqs[1].ID)
	}
	if reqs[0].Source != 1 || reqs[1].Source != 3 {
		t.Errorf("expected source lines 1 and 3, got %d / %d", reqs[0].Source, reqs[1].Source)
	}
}

func TestParseHonorsExplicitIDs(t *testing.T) {
	text := "REQ-10: The system must support login\nAUTH-2 - Sessions shall expire\n"
	reqs, err := LineParser{}.Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if reqs[0].ID != "REQ-10" {
		t.Errorf("expected REQ-10, got %s", reqs[0].ID)
	}
	if reqs[0].Text != "The system must support login" {
		t.Errorf("ID prefix must be stripped from text: %q", reqs[0].Text)
	}
	if reqs[1].ID != "AUTH-2" {
		t.Errorf("expected AUTH-2, got %s", reqs[1].ID)
	}
}

func TestParseStripsBulletsAndHeadings(t *testing.T) {
	text := "# Requirements\n- The system must support login\n* Reports may be exported\n"
	reqs, err := LineParser{}.Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("headings must be skipped and bullets stripped, got %d requirements", len(reqs))
	}
	if reqs[0].Text != "The system must support login" {
		t.Errorf("bullet not stripped: %q", reqs[0].Text)
	}
}

func TestParseEmptyDocumentFails(t *testing.T) {
	if _, err := (LineParser{}).Parse("\n\n# only a heading\n"); err == nil {
		t.Fatal("expected error for document with no requirements")
	}
}
