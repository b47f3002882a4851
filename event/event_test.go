package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/dome/hitl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventJSON(t *testing.T) {
	e := ToolCall("c1", "call_writer_agent", json.RawMessage(`{"instructions":"x"}`))
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "tool_call", m["type"])
	assert.Equal(t, "c1", m["id"])
	assert.Equal(t, map[string]any{"instructions": "x"}, m["arguments"])
	assert.NotContains(t, m, "content")
	assert.NotContains(t, m, "result")

	in := &hitl.Interrupt{
		ThreadID:       "t1",
		ActionRequests: []hitl.ActionRequest{{ToolCallID: "c1", Name: "call_writer_agent", Arguments: json.RawMessage(`{}`)}},
		ReviewConfigs:  []hitl.ReviewConfig{{ActionName: "call_writer_agent", AllowedDecisions: hitl.AllDecisions}},
	}
	raw, err = json.Marshal(Interrupt(in))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "interrupt", m["type"])
	assert.Equal(t, "t1", m["threadId"])
	assert.Len(t, m["actionRequests"], 1)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Done("").Terminal())
	assert.True(t, Error("x").Terminal())
	assert.True(t, Interrupt(&hitl.Interrupt{}).Terminal())
	assert.False(t, Text("x").Terminal())
	assert.False(t, ToolCall("a", "b", nil).Terminal())
	assert.False(t, ToolResult("a", nil).Terminal())
}

func TestChannelSinkOrderAndClose(t *testing.T) {
	s := NewChannelSink(0)
	ctx := context.Background()

	go func() {
		defer s.Close()
		for _, e := range []Event{Text("a"), Text("b"), Done("")} {
			if err := s.Emit(ctx, e); err != nil {
				return
			}
		}
	}()

	got := Drain(s.Events())
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)
	assert.Equal(t, KindDone, got[2].Kind)

	assert.ErrorIs(t, s.Emit(ctx, Text("late")), ErrClosed)
	s.Close()
}

func TestChannelSinkCancelled(t *testing.T) {
	s := NewChannelSink(0).WithGrace(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Non-terminal events fail fast once ctx is done.
	assert.ErrorIs(t, s.Emit(ctx, Text("x")), context.Canceled)

	// Terminal events still reach a reader within the grace period.
	got := make(chan Event, 1)
	go func() { got <- <-s.Events() }()
	require.NoError(t, s.Emit(ctx, Done(ReasonCancelled)))
	e := <-got
	assert.Equal(t, ReasonCancelled, e.Reason)

	// Without a reader the terminal event gives up after the grace period.
	s2 := NewChannelSink(0).WithGrace(10 * time.Millisecond)
	assert.ErrorIs(t, s2.Emit(ctx, Done(ReasonCancelled)), context.Canceled)
}

func TestBufferFlushAndTagged(t *testing.T) {
	var inner, outer Buffer
	ctx := context.Background()

	tagged := Tagged(&inner, "t1", "writer")
	require.NoError(t, tagged.Emit(ctx, ToolCall("w1", "flashcard_create", nil)))
	require.NoError(t, tagged.Emit(ctx, Event{Kind: KindText, Agent: "keep"}))
	assert.Equal(t, 2, inner.Len())

	require.NoError(t, inner.FlushTo(ctx, &outer))
	assert.Equal(t, 0, inner.Len())
	got := outer.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "writer", got[0].Agent)
	assert.Equal(t, "t1", got[0].ThreadID)
	assert.Equal(t, "keep", got[1].Agent)
}

func TestSinkContext(t *testing.T) {
	assert.NotNil(t, SinkFrom(context.Background()))

	var b Buffer
	ctx := WithSink(context.Background(), &b)
	require.NoError(t, SinkFrom(ctx).Emit(ctx, Text("x")))
	assert.Equal(t, 1, b.Len())

	assert.Equal(t, ctx, WithSink(ctx, nil))
}

func TestCheck(t *testing.T) {
	call := ToolCall("c1", "call_library_agent", nil)
	result := ToolResult("c1", nil)
	inner := ToolCall("l1", "resource_search", nil)
	inner.Agent = "library"
	innerResult := ToolResult("l1", nil)
	innerResult.Agent = "library"

	tests := []struct {
		name    string
		events  []Event
		wantErr string
	}{
		{"simple", []Event{Text("hi"), Done("")}, ""},
		{"tools", []Event{call, inner, innerResult, result, Text("ok"), Done("")}, ""},
		{"interrupt leaves call open", []Event{call, Interrupt(&hitl.Interrupt{})}, ""},
		{"cancelled leaves call open", []Event{call, Done(ReasonCancelled)}, ""},
		{"empty", nil, "empty event stream"},
		{"no terminal", []Event{Text("hi")}, "non-terminal"},
		{"two terminals", []Event{Done(""), Done("")}, "terminal but not last"},
		{"orphan result", []Event{result, Done("")}, "unknown call"},
		{"duplicate result", []Event{call, result, result, Done("")}, "duplicate tool_result"},
		{"text inside batch", []Event{call, Text("x"), result, Done("")}, "text before tool_result"},
		{"done with open call", []Event{call, Done("")}, "has no result"},
		{"inner id is scoped by agent", []Event{call, ToolResult("l1", nil), Done("")}, "unknown call"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.events)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
