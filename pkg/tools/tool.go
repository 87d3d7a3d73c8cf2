package tools

import (
	"context"
	"fmt"
	"path/filepath"
)

// Tool is a capability the agent can invoke during a processing round.
// Parameters returns a JSON schema object describing the arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ContextualTool is a Tool that needs to know which conversation it is
// acting for. The registry injects the origin before each execution.
type ContextualTool interface {
	Tool
	SetContext(channel, chatID string)
}

// ToolResult separates what the LLM sees from what the user sees. ForLLM
// always feeds back into the conversation; ForUser is surfaced directly on
// the originating channel unless Silent is set.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, ForUser: forLLM}
}

func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

func UserResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, ForUser: content}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ValidatePath resolves path against the workspace and, when restrict is
// set, rejects anything that escapes it.
func ValidatePath(path, workspace string, restrict bool) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("workspace is not defined")
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath, err = filepath.Abs(filepath.Join(absWorkspace, path))
		if err != nil {
			return "", fmt.Errorf("failed to resolve file path: %w", err)
		}
	}

	if restrict && !isWithinWorkspace(absPath, absWorkspace) {
		return "", fmt.Errorf("access denied: path is outside the workspace")
	}

	return absPath, nil
}

func isWithinWorkspace(candidate, workspace string) bool {
	rel, err := filepath.Rel(filepath.Clean(workspace), filepath.Clean(candidate))
	return err == nil && filepath.IsLocal(rel)
}
