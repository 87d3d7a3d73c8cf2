package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skiffbot/skiff/pkg/cron"
)

func newScheduleTool(t *testing.T) *ScheduleTool {
	t.Helper()
	cs := cron.NewCronService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	tool := NewScheduleTool(cs)
	tool.SetContext("cli", "direct")
	return tool
}

func TestScheduleTool_CreateListCancel(t *testing.T) {
	tool := newScheduleTool(t)
	ctx := context.Background()

	result := tool.Execute(ctx, map[string]any{
		"action":  "create",
		"name":    "daily standup",
		"message": "time for standup",
		"schedule": map[string]any{
			"kind": "cron",
			"expr": "0 9 * * *",
		},
	})
	if result.IsError {
		t.Fatalf("create failed: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "daily standup") {
		t.Errorf("create result = %q", result.ForLLM)
	}

	result = tool.Execute(ctx, map[string]any{"action": "list"})
	if result.IsError {
		t.Fatalf("list failed: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "cron: 0 9 * * *") {
		t.Errorf("list result = %q", result.ForLLM)
	}

	// Pull the ID out of the list output: "(id: xxxxxxxx, ..."
	idx := strings.Index(result.ForLLM, "id: ")
	if idx < 0 {
		t.Fatalf("no job id in list output: %q", result.ForLLM)
	}
	jobID := result.ForLLM[idx+4 : idx+12]

	result = tool.Execute(ctx, map[string]any{"action": "cancel", "id": jobID})
	if result.IsError {
		t.Fatalf("cancel failed: %s", result.ForLLM)
	}

	result = tool.Execute(ctx, map[string]any{"action": "list"})
	if result.ForLLM != "No scheduled jobs" {
		t.Errorf("list after cancel = %q", result.ForLLM)
	}
}

func TestScheduleTool_CreateValidation(t *testing.T) {
	tool := newScheduleTool(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{
			name: "missing name",
			args: map[string]any{
				"action":   "create",
				"message":  "x",
				"schedule": map[string]any{"kind": "every", "every_seconds": float64(60)},
			},
		},
		{
			name: "missing schedule",
			args: map[string]any{"action": "create", "name": "n", "message": "x"},
		},
		{
			name: "negative interval",
			args: map[string]any{
				"action":   "create",
				"name":     "n",
				"message":  "x",
				"schedule": map[string]any{"kind": "every", "every_seconds": float64(-5)},
			},
		},
		{
			name: "bad cron expression",
			args: map[string]any{
				"action":   "create",
				"name":     "n",
				"message":  "x",
				"schedule": map[string]any{"kind": "cron", "expr": "nonsense"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tool.Execute(ctx, tt.args)
			if !result.IsError {
				t.Errorf("expected error, got %q", result.ForLLM)
			}
		})
	}
}

func TestScheduleTool_RequiresSessionContext(t *testing.T) {
	cs := cron.NewCronService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	tool := NewScheduleTool(cs)

	result := tool.Execute(context.Background(), map[string]any{
		"action":   "create",
		"name":     "n",
		"message":  "x",
		"schedule": map[string]any{"kind": "every", "every_seconds": float64(60)},
	})
	if !result.IsError {
		t.Errorf("expected error without session context, got %q", result.ForLLM)
	}
}
