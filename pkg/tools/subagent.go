package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/logger"
	"github.com/skiffbot/skiff/pkg/providers"
)

const (
	taskStatusRunning   = "running"
	taskStatusCompleted = "completed"
	taskStatusFailed    = "failed"

	subagentTimeout = 10 * time.Minute
)

const subagentSystemPrompt = `You are a subagent. Complete the given task independently and report the result.
You have access to tools - use them as needed to complete your task.
After completing the task, provide a clear summary of what was done.`

// SubagentTask tracks one background delegation.
type SubagentTask struct {
	ID            string
	Task          string
	Label         string
	OriginChannel string
	OriginChatID  string
	Status        string
	Result        string
	Created       time.Time
}

// SubagentManager runs delegated tasks in background goroutines. Each task
// gets a fresh conversation and announces its outcome back to the main
// agent through the system channel, tagged with the origin it was spawned
// from so the result lands in the right session.
type SubagentManager struct {
	mu            sync.RWMutex
	tasks         map[string]*SubagentTask
	provider      providers.LLMProvider
	model         string
	bus           *bus.MessageBus
	newTools      func() *Registry
	maxIterations int
}

// NewSubagentManager builds a manager that calls newTools once per spawned
// task. Every task works against its own tool instances so contextual tools
// are never shared between a running task and the main loop.
func NewSubagentManager(
	provider providers.LLMProvider,
	model string,
	msgBus *bus.MessageBus,
	newTools func() *Registry,
	maxIterations int,
) *SubagentManager {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if newTools == nil {
		newTools = NewRegistry
	}
	return &SubagentManager{
		tasks:         make(map[string]*SubagentTask),
		provider:      provider,
		model:         model,
		bus:           msgBus,
		newTools:      newTools,
		maxIterations: maxIterations,
	}
}

// Spawn starts a background task and returns its ID immediately.
func (sm *SubagentManager) Spawn(task, label, originChannel, originChatID string) (string, error) {
	if sm.provider == nil {
		return "", fmt.Errorf("no provider configured for subagents")
	}

	id := uuid.NewString()[:8]
	if label == "" {
		label = "task-" + id
	}

	record := &SubagentTask{
		ID:            id,
		Task:          task,
		Label:         label,
		OriginChannel: originChannel,
		OriginChatID:  originChatID,
		Status:        taskStatusRunning,
		Created:       time.Now(),
	}

	sm.mu.Lock()
	sm.tasks[id] = record
	sm.mu.Unlock()

	go sm.runTask(record)

	logger.InfoCF("subagent", "Spawned background task", map[string]any{
		"task_id": id,
		"label":   label,
	})
	return id, nil
}

func (sm *SubagentManager) GetTask(id string) (SubagentTask, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	task, ok := sm.tasks[id]
	if !ok {
		return SubagentTask{}, false
	}
	return *task, true
}

func (sm *SubagentManager) ListTasks() []SubagentTask {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]SubagentTask, 0, len(sm.tasks))
	for _, task := range sm.tasks {
		out = append(out, *task)
	}
	return out
}

func (sm *SubagentManager) runTask(task *SubagentTask) {
	ctx, cancel := context.WithTimeout(context.Background(), subagentTimeout)
	defer cancel()

	result, err := sm.runLoop(ctx, task)

	sm.mu.Lock()
	if err != nil {
		task.Status = taskStatusFailed
		task.Result = err.Error()
	} else {
		task.Status = taskStatusCompleted
		task.Result = result
	}
	snapshot := *task
	sm.mu.Unlock()

	sm.announce(snapshot)
}

// runLoop drives a bounded tool cycle for the task's isolated conversation.
func (sm *SubagentManager) runLoop(ctx context.Context, task *SubagentTask) (string, error) {
	messages := []providers.Message{
		{Role: "system", Content: subagentSystemPrompt},
		{Role: "user", Content: task.Task},
	}

	registry := sm.newTools()
	defs := registry.Definitions()

	for iteration := 0; iteration < sm.maxIterations; iteration++ {
		response, err := sm.provider.Chat(ctx, messages, defs, sm.model, nil)
		if err != nil {
			return "", err
		}

		if !response.HasToolCalls() {
			return response.Content, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, tc := range response.ToolCalls {
			tc = providers.NormalizeToolCall(tc)
			result := registry.ExecuteWithContext(ctx, tc.Name, tc.Arguments, task.OriginChannel, task.OriginChatID)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("task exceeded %d iterations without completing", sm.maxIterations)
}

// announce routes the outcome back to the main agent. ChatID carries the
// encoded origin so the loop can reply on the spawning conversation.
func (sm *SubagentManager) announce(task SubagentTask) {
	if sm.bus == nil {
		return
	}
	content := fmt.Sprintf("Task '%s' %s.\n\nResult:\n%s", task.Label, task.Status, task.Result)
	sm.bus.PublishInbound(bus.InboundMessage{
		Channel:  bus.SystemChannel,
		SenderID: "subagent:" + task.ID,
		ChatID:   bus.Origin{Channel: task.OriginChannel, ChatID: task.OriginChatID}.Encode(),
		Content:  content,
	})
}
