package tools

import (
	"context"
	"fmt"
	"strings"
)

// SpawnTool delegates a task to a background sub-agent. The result arrives
// later as a system message on the spawning conversation.
type SpawnTool struct {
	manager       *SubagentManager
	originChannel string
	originChatID  string
}

func NewSpawnTool(manager *SubagentManager) *SpawnTool {
	return &SpawnTool{
		manager:       manager,
		originChannel: "cli",
		originChatID:  "direct",
	}
}

func (t *SpawnTool) Name() string {
	return "spawn"
}

func (t *SpawnTool) Description() string {
	return "Delegate a task to a background sub-agent. The sub-agent works independently and its result is announced back to this conversation when done."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the sub-agent to accomplish",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) SetContext(channel, chatID string) {
	t.originChannel = channel
	t.originChatID = chatID
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	task, ok := args["task"].(string)
	if !ok || strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)

	if t.manager == nil {
		return ErrorResult("subagent manager not configured")
	}

	id, err := t.manager.Spawn(task, label, t.originChannel, t.originChatID)
	if err != nil {
		return ErrorResult("failed to spawn sub-agent: " + err.Error()).WithError(err)
	}

	return SilentResult(fmt.Sprintf("Spawned background task %s. The result will arrive as a system message.", id))
}
