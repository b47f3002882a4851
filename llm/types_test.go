package llm

import (
	"encoding/json"
	"testing"
)

func TestAssistantToolCallMessage(t *testing.T) {
	msg := AssistantToolCallMessage("thinking out loud", []ToolCall{
		{ID: "c1", Name: "a", Arguments: json.RawMessage(`{"x":1}`)},
		{ID: "c2", Name: "b", Arguments: json.RawMessage(`{}`)},
	})
	if msg.Role != RoleAssistant {
		t.Errorf("unexpected role %q", msg.Role)
	}
	if msg.TextContent() != "thinking out loud" {
		t.Errorf("unexpected text %q", msg.TextContent())
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "c1" || calls[1].Name != "b" {
		t.Errorf("unexpected calls %+v", calls)
	}

	empty := AssistantToolCallMessage("", nil)
	if len(empty.Content) != 0 {
		t.Errorf("expected no content parts, got %d", len(empty.Content))
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	orig := AssistantToolCallMessage("", []ToolCall{{ID: "c1", Name: "a", Arguments: json.RawMessage(`{"x":1}`)}})
	clone := orig.Clone()
	clone.Content[0].ToolCall.Arguments[2] = 'y'
	clone.Content[0].ToolCall.Name = "changed"

	if orig.Content[0].ToolCall.Name != "a" {
		t.Error("clone shares tool call with original")
	}
	if string(orig.Content[0].ToolCall.Arguments) != `{"x":1}` {
		t.Errorf("clone shares argument bytes: %s", orig.Content[0].ToolCall.Arguments)
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("c1", json.RawMessage(`{"success":true}`), false)
	if msg.Role != RoleTool || msg.ToolCallID != "c1" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Content[0].ToolResult.ToolCallID != "c1" {
		t.Error("tool result part lost its call id")
	}
}

func TestMessageJSONRoundTripKeepsToolCalls(t *testing.T) {
	orig := AssistantToolCallMessage("hi", []ToolCall{{ID: "c1", Name: "a", Arguments: json.RawMessage(`{"x":1}`)}})
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.ToolCalls()) != 1 || back.ToolCalls()[0].ID != "c1" {
		t.Errorf("tool calls lost in round trip: %+v", back)
	}
}

func TestStreamAccumulatorBuildsResponse(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Process(StreamEvent{Type: TextDelta, Delta: "Hel"})
	acc.Process(StreamEvent{Type: TextDelta, Delta: "lo"})
	acc.Process(StreamEvent{Type: ToolCallEnd, ToolCall: &ToolCall{ID: "c1", Name: "x", Arguments: json.RawMessage(`{}`)}})

	resp := acc.Response()
	if resp.Text() != "Hello" {
		t.Errorf("expected Hello, got %q", resp.Text())
	}
	if len(resp.ToolCalls()) != 1 {
		t.Errorf("expected one tool call, got %d", len(resp.ToolCalls()))
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls finish, got %q", resp.FinishReason.Reason)
	}
}

func TestGetModelInfo(t *testing.T) {
	if info := GetModelInfo("haiku"); info == nil || info.ID != "claude-haiku-4-5" {
		t.Errorf("expected alias lookup, got %+v", info)
	}
	if GetModelInfo("nope") != nil {
		t.Error("expected nil for unknown model")
	}
	if DefaultModel("openai") != "gpt-4o" {
		t.Errorf("unexpected default model %q", DefaultModel("openai"))
	}
	if DefaultModel("unknown") != "" {
		t.Error("expected empty default for unknown provider")
	}
}
