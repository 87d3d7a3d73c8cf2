package agent

import (
	"strings"
	"testing"
)

func TestBuildMessages_AppendsMediaPaths(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	messages := cb.BuildMessages(nil, "what is in this photo?", "telegram", "42",
		[]string{"/tmp/photo.jpg", "/tmp/voice.ogg"})

	last := messages[len(messages)-1]
	if last.Role != "user" {
		t.Fatalf("last role = %q, want user", last.Role)
	}
	if !strings.Contains(last.Content, "what is in this photo?") {
		t.Errorf("user text missing from %q", last.Content)
	}
	if !strings.Contains(last.Content, "/tmp/photo.jpg") || !strings.Contains(last.Content, "/tmp/voice.ogg") {
		t.Errorf("attachment paths missing from %q", last.Content)
	}
}

func TestBuildMessages_NoMediaKeepsContentVerbatim(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	messages := cb.BuildMessages(nil, "plain text", "cli", "direct", nil)
	last := messages[len(messages)-1]
	if last.Content != "plain text" {
		t.Errorf("Content = %q, want unchanged user text", last.Content)
	}
}
