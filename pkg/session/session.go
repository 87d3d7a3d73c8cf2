package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/skiffbot/skiff/pkg/providers"
)

const compactionMarker = "compaction"

// Message is a single conversation record as persisted in the JSONL file.
// Compaction markers carry Type "compaction" and a CompactedCount.
type Message struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"_type,omitempty"`
	CompactedCount int       `json:"compacted_count,omitempty"`
}

// CompactionStats accumulates compaction telemetry across the session's
// lifetime.
type CompactionStats struct {
	Total             int    `json:"total"`
	Count             int    `json:"count"`
	LastAt            string `json:"last_at,omitempty"`
	MessagesCompacted int    `json:"messages_compacted"`
}

type Metadata struct {
	Compactions *CompactionStats `json:"compactions,omitempty"`
}

// Session holds the conversation history for one origin. Sessions are not
// internally synchronized; the agent loop is their single writer.
type Session struct {
	Key       string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  Metadata
}

func NewSession(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// History returns the most recent messages converted to LLM format. Only
// role and content survive the conversion.
func (s *Session) History(maxMessages int) []providers.Message {
	recent := s.Messages
	if maxMessages > 0 && len(recent) > maxMessages {
		recent = recent[len(recent)-maxMessages:]
	}

	out := make([]providers.Message, 0, len(recent))
	for _, m := range recent {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Session) Clear() {
	s.Messages = []Message{}
	s.UpdatedAt = time.Now()
}

// Compact folds every message older than the last keepLast into a single
// system marker placed at the head of the history. The digest is
// deterministic and built offline so compaction never needs a model call.
// It returns the number of messages folded away, zero when the history is
// already within bounds.
func (s *Session) Compact(keepLast int, instruction string) int {
	if keepLast < 0 {
		keepLast = 0
	}

	total := len(s.Messages)
	if total <= keepLast {
		return 0
	}

	old := s.Messages[:total-keepLast]
	recent := s.Messages[total-keepLast:]

	var parts []string
	if instruction != "" {
		parts = append(parts, "Compaction instructions: "+instruction)
	}
	parts = append(parts, fmt.Sprintf("Compacted %d messages from session %s.", len(old), s.Key))
	for _, m := range old {
		role := m.Role
		if role == "" {
			role = "unknown"
		}
		excerpt := strings.ReplaceAll(m.Content, "\n", " ")
		if runes := []rune(excerpt); len(runes) > 200 {
			excerpt = string(runes[:200])
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", role, excerpt))
	}
	summary := strings.Join(parts, "\n")

	now := time.Now()
	marker := Message{
		Role:           "system",
		Content:        "🧹 Auto-compaction summary:\n\n" + summary,
		Timestamp:      now,
		Type:           compactionMarker,
		CompactedCount: len(old),
	}

	s.Messages = append([]Message{marker}, recent...)
	s.UpdatedAt = now

	if s.Metadata.Compactions == nil {
		s.Metadata.Compactions = &CompactionStats{}
	}
	stats := s.Metadata.Compactions
	stats.Total++
	stats.Count += len(old)
	stats.LastAt = now.Format(time.RFC3339)
	stats.MessagesCompacted += len(old)

	return len(old)
}
