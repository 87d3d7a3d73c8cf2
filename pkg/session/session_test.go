package session

import (
	"fmt"
	"strings"
	"testing"
)

func TestCompact_FoldsOldMessages(t *testing.T) {
	sess := NewSession("cli:direct")
	for i := 0; i < 60; i++ {
		sess.AddMessage("user", fmt.Sprintf("message %d", i))
	}

	compacted := sess.Compact(50, "")
	if compacted != 10 {
		t.Fatalf("Compact returned %d, want 10", compacted)
	}
	if len(sess.Messages) != 51 {
		t.Fatalf("len(Messages) = %d, want 51", len(sess.Messages))
	}

	marker := sess.Messages[0]
	if marker.Type != "compaction" {
		t.Errorf("marker Type = %q, want compaction", marker.Type)
	}
	if marker.Role != "system" {
		t.Errorf("marker Role = %q, want system", marker.Role)
	}
	if marker.CompactedCount != 10 {
		t.Errorf("CompactedCount = %d, want 10", marker.CompactedCount)
	}
	if !strings.Contains(marker.Content, "Compacted 10 messages from session cli:direct.") {
		t.Errorf("marker content missing digest header: %q", marker.Content)
	}
	if !strings.Contains(marker.Content, "- user: message 0") {
		t.Errorf("marker content missing excerpt: %q", marker.Content)
	}

	// Kept tail starts right after the folded prefix.
	if sess.Messages[1].Content != "message 10" {
		t.Errorf("first kept message = %q, want message 10", sess.Messages[1].Content)
	}
}

func TestCompact_NoopWhenWithinBounds(t *testing.T) {
	sess := NewSession("cli:direct")
	for i := 0; i < 5; i++ {
		sess.AddMessage("user", "hi")
	}

	if got := sess.Compact(50, ""); got != 0 {
		t.Errorf("Compact returned %d, want 0", got)
	}
	if len(sess.Messages) != 5 {
		t.Errorf("len(Messages) = %d, want 5 (unchanged)", len(sess.Messages))
	}
	if sess.Metadata.Compactions != nil {
		t.Error("no-op compaction should not record telemetry")
	}
}

func TestCompact_TruncatesExcerpts(t *testing.T) {
	sess := NewSession("cli:direct")
	sess.AddMessage("user", strings.Repeat("x", 500)+"\nsecond line")
	sess.AddMessage("assistant", "ok")

	sess.Compact(1, "")

	for _, line := range strings.Split(sess.Messages[0].Content, "\n") {
		if strings.HasPrefix(line, "- user: ") {
			excerpt := strings.TrimPrefix(line, "- user: ")
			if len(excerpt) != 200 {
				t.Errorf("excerpt length = %d, want 200", len(excerpt))
			}
			if strings.Contains(excerpt, "\n") {
				t.Error("excerpt should be single-line")
			}
		}
	}
}

func TestCompact_AccumulatesTelemetry(t *testing.T) {
	sess := NewSession("telegram:42")
	for i := 0; i < 10; i++ {
		sess.AddMessage("user", "hi")
	}
	sess.Compact(5, "")
	for i := 0; i < 10; i++ {
		sess.AddMessage("user", "hi again")
	}
	sess.Compact(5, "")

	stats := sess.Metadata.Compactions
	if stats == nil {
		t.Fatal("expected compaction telemetry")
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Count != 16 {
		t.Errorf("Count = %d, want 16", stats.Count)
	}
	if stats.LastAt == "" {
		t.Error("LastAt should be set")
	}
}

func TestHistory_Window(t *testing.T) {
	sess := NewSession("cli:direct")
	for i := 0; i < 10; i++ {
		sess.AddMessage("user", fmt.Sprintf("m%d", i))
	}

	got := sess.History(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content != "m7" || got[2].Content != "m9" {
		t.Errorf("window = [%s..%s], want [m7..m9]", got[0].Content, got[2].Content)
	}

	if got := sess.History(100); len(got) != 10 {
		t.Errorf("oversized window len = %d, want 10", len(got))
	}
}
