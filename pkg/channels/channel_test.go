package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/config"
)

func TestBaseChannelIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{
			name:      "empty allowlist allows all",
			allowList: nil,
			senderID:  "anyone",
			want:      true,
		},
		{
			name:      "compound sender matches numeric allowlist",
			allowList: []string{"123456"},
			senderID:  "123456|alice",
			want:      true,
		},
		{
			name:      "compound sender matches username allowlist",
			allowList: []string{"@alice"},
			senderID:  "123456|alice",
			want:      true,
		},
		{
			name:      "non matching sender is denied",
			allowList: []string{"123456"},
			senderID:  "654321|bob",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewBaseChannel("test", nil, tt.allowList)
			if got := ch.IsAllowed(tt.senderID); got != tt.want {
				t.Fatalf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestBaseChannelHandleMessageAllowList(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch := NewBaseChannel("test", msgBus, []string{"allowed"})

	ch.HandleMessage("blocked", "chat-1", "denied", nil)

	deniedCtx, deniedCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer deniedCancel()
	if msg, ok := msgBus.ConsumeInbound(deniedCtx); ok {
		t.Fatalf("expected denied sender to be dropped, got message: %+v", msg)
	}

	ch.HandleMessage("allowed", "chat-1", "accepted", []string{"m1"})

	allowedCtx, allowedCancel := context.WithTimeout(context.Background(), time.Second)
	defer allowedCancel()
	msg, ok := msgBus.ConsumeInbound(allowedCtx)
	if !ok {
		t.Fatal("expected allowed sender message to be published")
	}
	if msg.Channel != "test" || msg.SenderID != "allowed" || msg.ChatID != "chat-1" || msg.Content != "accepted" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if len(msg.Media) != 1 || msg.Media[0] != "m1" {
		t.Fatalf("unexpected media payload: %+v", msg.Media)
	}
}

func TestSplitMessage(t *testing.T) {
	short := "hello"
	if chunks := splitMessage(short, 10); len(chunks) != 1 || chunks[0] != short {
		t.Fatalf("splitMessage(short) = %v", chunks)
	}

	long := strings.Repeat("line one\n", 50)
	chunks := splitMessage(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len([]rune(chunk)) > 100 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(chunk)))
		}
	}
	joined := strings.Join(chunks, "\n")
	if !strings.HasPrefix(joined, "line one") {
		t.Errorf("content mangled: %q", joined[:20])
	}
}

type stubChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (s *stubChannel) Start(ctx context.Context) error {
	s.setRunning(true)
	return nil
}

func (s *stubChannel) Stop(ctx context.Context) error {
	s.setRunning(false)
	return nil
}

func (s *stubChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

func (s *stubChannel) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestManagerDispatchesOutbound(t *testing.T) {
	msgBus := bus.NewMessageBus()
	cfg := config.DefaultConfig()

	m, err := NewManager(cfg, msgBus)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	stub := &stubChannel{BaseChannel: NewBaseChannel("stub", msgBus, nil)}
	m.RegisterChannel("stub", stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(context.Background())

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "stub", ChatID: "1", Content: "hi"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "nope", ChatID: "1", Content: "dropped"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "stub", ChatID: "1", Content: "again"})

	deadline := time.Now().Add(2 * time.Second)
	for stub.sentCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := stub.sentCount(); got != 2 {
		t.Fatalf("delivered %d messages, want 2", got)
	}
}
