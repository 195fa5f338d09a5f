package claude

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/warden/internal/agent"
)

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "analysis result"},
		},
		Model:      "claude-sonnet-4-20250514",
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if result.Text != "analysis result" {
		t.Errorf("text = %q, want %q", result.Text, "analysis result")
	}
	if result.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q, want %q", result.Model, "claude-sonnet-4-20250514")
	}
}

func TestFromSDKResponse_JoinsTextBlocks(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "first "},
			{Type: "text", Text: "second"},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	result := fromSDKResponse(msg)

	if result.Text != "first second" {
		t.Errorf("text = %q, want %q", result.Text, "first second")
	}
}

func TestFromSDKResponse_DropsNonTextBlocks(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "tu-1", Name: "query_metrics"},
			{Type: "text", Text: "kept"},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	result := fromSDKResponse(msg)

	if result.Text != "kept" {
		t.Errorf("text = %q, want %q", result.Text, "kept")
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected agent.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, agent.StopEnd},
		{"max_tokens", anthropic.StopReasonMaxTokens, agent.StopMaxTokens},
		{"unknown", anthropic.StopReason("refusal"), agent.StopReason("refusal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &anthropic.Message{
				StopReason: tt.sdk,
				Usage:      anthropic.Usage{},
			}
			result := fromSDKResponse(msg)
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}
