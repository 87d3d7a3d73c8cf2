package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/providers"
	"github.com/skiffbot/skiff/pkg/routing"
)

type chatStep struct {
	response *providers.LLMResponse
	err      error
}

// scriptedProvider replays a fixed sequence of responses and records which
// model each call asked for. Once the script is exhausted it returns a
// plain stop response.
type scriptedProvider struct {
	mu     sync.Mutex
	steps  []chatStep
	models []string
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]any) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.models = append(p.models, model)
	if len(p.steps) == 0 {
		return &providers.LLMResponse{Content: "done", FinishReason: providers.FinishStop}, nil
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.response, step.err
}

func (p *scriptedProvider) GetDefaultModel() string {
	return "test-model"
}

func (p *scriptedProvider) calledModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}

func textResponse(content string) chatStep {
	return chatStep{response: &providers.LLMResponse{Content: content, FinishReason: providers.FinishStop}}
}

func newTestLoop(t *testing.T, provider providers.LLMProvider, router routing.Service) (*AgentLoop, *bus.MessageBus) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	cfg.Tools.Exec.Enabled = false

	msgBus := bus.NewMessageBus()
	return NewAgentLoop(cfg, msgBus, provider, router, t.TempDir()), msgBus
}

func startLoop(t *testing.T, al *AgentLoop) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go al.Run(ctx)
	t.Cleanup(func() {
		al.Stop()
		cancel()
	})
}

func waitOutbound(t *testing.T, msgBus *bus.MessageBus) bus.OutboundMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, ok := msgBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("timed out waiting for outbound message")
	}
	return msg
}

func TestLoop_RespondsAndPersists(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{textResponse("Hello!")}}
	al, msgBus := newTestLoop(t, provider, nil)
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "hi",
	})

	out := waitOutbound(t, msgBus)
	if out.Channel != "cli" || out.ChatID != "direct" {
		t.Errorf("response routed to %s/%s, want cli/direct", out.Channel, out.ChatID)
	}
	if out.Content != "Hello!" {
		t.Errorf("Content = %q, want %q", out.Content, "Hello!")
	}

	sess := al.Sessions().GetOrCreate("cli:direct")
	if len(sess.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hi" {
		t.Errorf("first record = %s %q", sess.Messages[0].Role, sess.Messages[0].Content)
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "Hello!" {
		t.Errorf("second record = %s %q", sess.Messages[1].Role, sess.Messages[1].Content)
	}
}

func TestLoop_ProviderErrorSurfacedToUser(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{
		{err: errors.New("connection refused")},
	}}
	al, msgBus := newTestLoop(t, provider, nil)
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "hi",
	})

	// No router means no escalation; the failed response's content goes out.
	out := waitOutbound(t, msgBus)
	if !strings.Contains(out.Content, "connection refused") {
		t.Errorf("Content = %q, want underlying error surfaced", out.Content)
	}
}

func TestLoop_EscalatesOnContextOverflow(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{
		{response: &providers.LLMResponse{
			Content:      "context length exceeded",
			FinishReason: providers.FinishContextExceeded,
		}},
		textResponse("Recovered."),
	}}
	router := routing.NewRouter()
	al, msgBus := newTestLoop(t, provider, router)
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "hi",
	})

	out := waitOutbound(t, msgBus)
	if out.Content != "Recovered." {
		t.Errorf("Content = %q, want %q", out.Content, "Recovered.")
	}

	metrics := router.Snapshot()
	if metrics.EscalationCount != 1 {
		t.Errorf("EscalationCount = %d, want 1", metrics.EscalationCount)
	}

	models := provider.calledModels()
	if len(models) != 2 {
		t.Fatalf("provider called %d times, want 2", len(models))
	}
	if models[0] == models[1] {
		t.Errorf("retry used the same model %q", models[0])
	}
}

func TestLoop_EscalationCapsAtThree(t *testing.T) {
	failed := chatStep{response: &providers.LLMResponse{
		Content:      "upstream error",
		FinishReason: providers.FinishError,
	}}
	provider := &scriptedProvider{steps: []chatStep{failed, failed, failed, failed, failed}}
	router := routing.NewRouter()
	al, msgBus := newTestLoop(t, provider, router)
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "hi",
	})

	out := waitOutbound(t, msgBus)
	if out.Content != "upstream error" {
		t.Errorf("Content = %q, want last failing content after exhausted escalation", out.Content)
	}

	// Initial call plus one retry per escalation.
	if models := provider.calledModels(); len(models) != 4 {
		t.Errorf("provider called %d times, want 4", len(models))
	}
	if metrics := router.Snapshot(); metrics.EscalationCount != 3 {
		t.Errorf("EscalationCount = %d, want 3", metrics.EscalationCount)
	}
}

func TestLoop_CompactsLongHistory(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{textResponse("ok")}}
	al, msgBus := newTestLoop(t, provider, nil)
	al.cfg.Agents.Defaults.MaxTokens = 100
	al.cfg.Agents.Defaults.CompactionKeepLast = 2
	al.cfg.Agents.Defaults.CompactionSilent = false

	sess := al.Sessions().GetOrCreate("cli:direct")
	filler := strings.Repeat("x", 200)
	for i := 0; i < 10; i++ {
		sess.AddMessage("user", filler)
	}
	if err := al.Sessions().Save(sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	startLoop(t, al)
	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "hi",
	})

	// Compaction itself produces no chat traffic; the only outbound
	// message is the assistant reply.
	out := waitOutbound(t, msgBus)
	if out.Content != "ok" {
		t.Errorf("Content = %q, want assistant reply only", out.Content)
	}

	sess = al.Sessions().GetOrCreate("cli:direct")
	if sess.Messages[0].Type != "compaction" {
		t.Fatalf("first record type = %q, want compaction", sess.Messages[0].Type)
	}
	if sess.Messages[0].CompactedCount != 8 {
		t.Errorf("CompactedCount = %d, want 8", sess.Messages[0].CompactedCount)
	}
	// marker + 2 kept + new user/assistant pair
	if len(sess.Messages) != 5 {
		t.Errorf("session has %d messages, want 5", len(sess.Messages))
	}
}

func TestLoop_SubagentToolsAreIsolated(t *testing.T) {
	al, _ := newTestLoop(t, &scriptedProvider{}, nil)

	reg := al.newSubagentRegistry()
	if reg == al.Tools() {
		t.Fatal("background tasks must not share the loop registry")
	}
	if _, ok := reg.Get("spawn"); ok {
		t.Error("background tasks must not fork further tasks")
	}
	if _, ok := reg.Get("message"); !ok {
		t.Error("background tasks should be able to message the user")
	}

	// Fresh instances per task: a task setting its reply context must not
	// repoint a tool another cycle is using.
	a, _ := al.newSubagentRegistry().Get("message")
	b, _ := al.newSubagentRegistry().Get("message")
	if a == b {
		t.Error("tool instances must be per task")
	}
}

func TestLoop_IterationBudgetFallback(t *testing.T) {
	toolCall := providers.ToolCall{
		ID:        "call_1",
		Name:      "list_dir",
		Arguments: map[string]any{"path": "."},
	}
	steps := make([]chatStep, 0, 2)
	for i := 0; i < 2; i++ {
		steps = append(steps, chatStep{response: &providers.LLMResponse{
			ToolCalls:    []providers.ToolCall{toolCall},
			FinishReason: providers.FinishToolCalls,
		}})
	}

	provider := &scriptedProvider{steps: steps}
	al, msgBus := newTestLoop(t, provider, nil)
	al.maxIterations = 2
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   "direct",
		Content:  "loop forever",
	})

	out := waitOutbound(t, msgBus)
	if out.Content != noResponseFallback {
		t.Errorf("Content = %q, want %q", out.Content, noResponseFallback)
	}
}

func TestLoop_SystemMessageRoutesToOrigin(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{textResponse("Noted.")}}
	al, msgBus := newTestLoop(t, provider, nil)
	startLoop(t, al)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  bus.SystemChannel,
		SenderID: "subagent:abc12345",
		ChatID:   "discord:12345",
		Content:  "Task 'fetch logs' completed.",
	})

	out := waitOutbound(t, msgBus)
	if out.Channel != "discord" || out.ChatID != "12345" {
		t.Errorf("response routed to %s/%s, want discord/12345", out.Channel, out.ChatID)
	}
	if out.Content != "Noted." {
		t.Errorf("Content = %q, want %q", out.Content, "Noted.")
	}

	sess := al.Sessions().GetOrCreate("discord:12345")
	if len(sess.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(sess.Messages))
	}
	want := "[System: subagent:abc12345] Task 'fetch logs' completed."
	if sess.Messages[0].Content != want {
		t.Errorf("first record = %q, want %q", sess.Messages[0].Content, want)
	}
}

func TestProcessDirect(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{textResponse("hi there")}}
	al, _ := newTestLoop(t, provider, nil)

	reply, err := al.ProcessDirect(context.Background(), "hello", "cli:direct")
	if err != nil {
		t.Fatalf("ProcessDirect() error = %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q, want %q", reply, "hi there")
	}
}
