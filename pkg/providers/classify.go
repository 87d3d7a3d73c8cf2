package providers

import "strings"

// contextErrorMarkers are substrings that identify a context-window
// overflow in provider error text. Providers disagree on wording, so the
// match is deliberately loose.
var contextErrorMarkers = []string{
	"context_length_exceeded",
	"context length",
	"context window",
	"maximum context",
	"too many tokens",
	"prompt is too long",
	"input is too long",
}

// ResponseFromError converts a transport-level provider error into a
// response whose finish reason the escalation machinery understands.
// Escalation is keyed purely on FinishReason, so Chat errors never
// propagate past this point.
func ResponseFromError(err error) *LLMResponse {
	if err == nil {
		return &LLMResponse{FinishReason: FinishError}
	}

	reason := FinishError
	lower := strings.ToLower(err.Error())
	for _, marker := range contextErrorMarkers {
		if strings.Contains(lower, marker) {
			reason = FinishContextExceeded
			break
		}
	}

	return &LLMResponse{
		Content:      err.Error(),
		FinishReason: reason,
	}
}

// NormalizeToolCall fills in the redundant name/argument fields so both
// the map form and the canonical JSON string form are always populated.
func NormalizeToolCall(tc ToolCall) ToolCall {
	if tc.Name == "" && tc.Function != nil {
		tc.Name = tc.Function.Name
	}
	if tc.Type == "" {
		tc.Type = "function"
	}
	if tc.Arguments == nil {
		tc.Arguments = map[string]any{}
	}
	return tc
}
