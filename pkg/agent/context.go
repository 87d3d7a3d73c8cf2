package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/skiffbot/skiff/pkg/logger"
	"github.com/skiffbot/skiff/pkg/providers"
	"github.com/skiffbot/skiff/pkg/tools"
)

// ContextBuilder assembles the message list sent to the model: system
// prompt, recent history, then the current user message.
type ContextBuilder struct {
	workspace string
	tools     *tools.Registry
}

func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{workspace: workspace}
}

// SetToolsRegistry wires the registry so the system prompt can list the
// available tools.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.Registry) {
	cb.tools = registry
}

func (cb *ContextBuilder) identity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# skiff

You are skiff, a helpful AI assistant.

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s

%s

## Important Rules

1. **ALWAYS use tools** - When you need to perform an action (send messages, execute commands, delegate tasks, etc.), you MUST call the appropriate tool. Do NOT just say you'll do it.

2. **Be helpful and accurate** - When using tools, briefly explain what you're doing.`,
		now, rt, workspacePath, cb.toolsSection())
}

func (cb *ContextBuilder) toolsSection() string {
	if cb.tools == nil {
		return ""
	}
	names := cb.tools.Names()
	if len(names) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	sb.WriteString("You have access to the following tools:\n\n")
	for _, name := range names {
		sb.WriteString("- " + name + "\n")
	}
	return sb.String()
}

// loadBootstrapFiles picks up operator-provided context documents from the
// workspace root.
func (cb *ContextBuilder) loadBootstrapFiles() string {
	bootstrapFiles := []string{
		"AGENTS.md",
		"USER.md",
		"IDENTITY.md",
	}

	var result string
	for _, filename := range bootstrapFiles {
		filePath := filepath.Join(cb.workspace, filename)
		if data, err := os.ReadFile(filePath); err == nil {
			result += fmt.Sprintf("## %s\n\n%s\n\n", filename, string(data))
		}
	}
	return result
}

func (cb *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{cb.identity()}
	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildMessages assembles the full prompt for one processing round. Media
// attachments arrive as workspace paths and are appended to the user
// message so the model can read them with the file tools.
func (cb *ContextBuilder) BuildMessages(history []providers.Message, currentMessage, channel, chatID string, media []string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt()
	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	logger.DebugCF("agent", "System prompt built", map[string]any{
		"total_chars": len(systemPrompt),
		"history_len": len(history),
	})

	userContent := currentMessage
	if len(media) > 0 {
		userContent = fmt.Sprintf("%s\n\n[Attached files: %s]", currentMessage, strings.Join(media, ", "))
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: userContent})
	return messages
}

func (cb *ContextBuilder) AddAssistantMessage(messages []providers.Message, content string, toolCalls []providers.ToolCall) []providers.Message {
	return append(messages, providers.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func (cb *ContextBuilder) AddToolResult(messages []providers.Message, toolCallID, result string) []providers.Message {
	return append(messages, providers.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: toolCallID,
	})
}

// estimateTokens approximates prompt size as total content length divided
// by charsPerToken. Crude, but stable across providers and cheap enough to
// run on every message.
func estimateTokens(messages []providers.Message, charsPerToken int) int {
	if charsPerToken < 1 {
		charsPerToken = 1
	}
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / charsPerToken
}
