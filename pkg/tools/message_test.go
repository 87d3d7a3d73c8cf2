package tools

import (
	"context"
	"errors"
	"testing"
)

func TestMessageTool_UsesContextDefaults(t *testing.T) {
	tool := NewMessageTool()

	var gotChannel, gotChatID, gotContent string
	tool.SetSendCallback(func(channel, chatID, content string) error {
		gotChannel, gotChatID, gotContent = channel, chatID, content
		return nil
	})
	tool.SetContext("telegram", "42")

	result := tool.Execute(context.Background(), map[string]any{"content": "hello"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !result.Silent {
		t.Error("message result should be silent to avoid double delivery")
	}
	if gotChannel != "telegram" || gotChatID != "42" || gotContent != "hello" {
		t.Errorf("sent (%q, %q, %q)", gotChannel, gotChatID, gotContent)
	}
}

func TestMessageTool_ExplicitTargetWins(t *testing.T) {
	tool := NewMessageTool()

	var gotChannel, gotChatID string
	tool.SetSendCallback(func(channel, chatID, content string) error {
		gotChannel, gotChatID = channel, chatID
		return nil
	})
	tool.SetContext("telegram", "42")

	tool.Execute(context.Background(), map[string]any{
		"content": "hi",
		"channel": "discord",
		"chat_id": "99",
	})
	if gotChannel != "discord" || gotChatID != "99" {
		t.Errorf("sent to (%q, %q), want (discord, 99)", gotChannel, gotChatID)
	}
}

func TestMessageTool_Failures(t *testing.T) {
	tool := NewMessageTool()

	result := tool.Execute(context.Background(), map[string]any{"content": "hi"})
	if !result.IsError {
		t.Error("missing callback should be an error")
	}

	tool.SetSendCallback(func(channel, chatID, content string) error {
		return errors.New("network down")
	})
	tool.SetContext("cli", "direct")
	result = tool.Execute(context.Background(), map[string]any{"content": "hi"})
	if !result.IsError {
		t.Error("callback failure should surface as an error result")
	}

	result = tool.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Error("missing content should be an error")
	}
}
