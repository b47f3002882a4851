package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoTool(name string, h Handler) *Tool {
	return NewTool(Declaration{
		Name: name,
		Parameters: Parameters{
			Type:       "object",
			Properties: map[string]Property{"text": {Type: "string"}},
		},
	}, h)
}

func TestExecuteUnregisteredNeverPanics(t *testing.T) {
	reg := NewRegistry()
	inputs := []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`not json`), json.RawMessage(`[1]`)}
	for _, raw := range inputs {
		var res Result
		require.NotPanics(t, func() {
			res = reg.Execute(context.Background(), "missing_tool", raw)
		})
		assert.False(t, res.Success)
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, "Tool not supported: missing_tool", res.Error)
	}
}

func TestExecuteOutcomes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(
		echoTool("echo", func(_ context.Context, args Args) (any, error) {
			return args.StringOr("text", ""), nil
		}),
		echoTool("fail", func(context.Context, Args) (any, error) {
			return nil, errors.New("disk full")
		}),
		echoTool("boom", func(context.Context, Args) (any, error) {
			panic("nil map write")
		}),
		echoTool("passthrough", func(context.Context, Args) (any, error) {
			return Rejected("passthrough", "no"), nil
		}),
	)

	ctx := context.Background()

	res := reg.Execute(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Data)

	res = reg.Execute(ctx, "fail", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "disk full", res.Error)

	require.NotPanics(t, func() { res = reg.Execute(ctx, "boom", nil) })
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked: nil map write")

	res = reg.Execute(ctx, "passthrough", nil)
	assert.True(t, res.Rejected)
	assert.Equal(t, "no", res.Message)

	res = reg.Execute(ctx, "echo", json.RawMessage(`{"text":5}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `"text"`)
}

func TestGetNormalizesName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("resourceSearch", nil))

	_, ok := reg.Get("resource_search")
	assert.True(t, ok)
	_, ok = reg.Get("resourceSearch")
	assert.True(t, ok)
	_, ok = reg.Get("Resource-Search")
	assert.True(t, ok)
	_, ok = reg.Get("resource_list")
	assert.False(t, ok)
}

func TestRegisterCollisionLastWins(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := NewRegistry(WithLogger(zap.New(core)))

	first := echoTool("fileSave", func(context.Context, Args) (any, error) { return "first", nil })
	second := echoTool("file_save", func(context.Context, Args) (any, error) { return "second", nil })
	reg.Register(first, second)

	assert.Equal(t, 1, reg.Len())
	res := reg.Execute(context.Background(), "file_save", nil)
	assert.Equal(t, "second", res.Data)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "fileSave", entry.ContextMap()["previous"])
	assert.Equal(t, "file_save", entry.ContextMap()["declared"])
}

func TestRegistryViews(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("b_tool", nil), echoTool("a_tool", nil), echoTool("c_tool", nil))

	assert.Equal(t, []string{"a_tool", "b_tool", "c_tool"}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "a_tool", defs[0].Name)

	sub := reg.Subset(func(t *Tool) bool { return strings.HasPrefix(t.Name, "a") })
	assert.Equal(t, []string{"a_tool"}, sub.Names())

	sub.Register(echoTool("d_tool", nil))
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, 2, sub.Len())
}

func TestCanonical(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("call_writer_agent", nil))

	for _, name := range []string{"call_writer_agent", "callWriterAgent", "call-writer-agent", "Call Writer Agent"} {
		assert.Equal(t, "call_writer_agent", reg.Canonical(name), name)
	}
	assert.Equal(t, "made_up_tool", reg.Canonical("madeUp Tool"))
}

func TestCallIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CallID(ctx))
	assert.Equal(t, "call_7", CallID(WithCallID(ctx, "call_7")))
}

func TestConversationPayload(t *testing.T) {
	small := Success("ok")
	assert.JSONEq(t, `{"success":true,"data":"ok"}`, string(ConversationPayload(small, 100)))

	big := Success(strings.Repeat("x", 500))
	payload := ConversationPayload(big, 100)
	var s string
	require.NoError(t, json.Unmarshal(payload, &s))
	assert.Contains(t, s, "characters were removed from the middle")
	assert.True(t, strings.HasPrefix(s, `{"success":true`))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "anything", Truncate("anything", 0))

	out := Truncate(strings.Repeat("a", 50)+strings.Repeat("b", 50), 20)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 10)))
	assert.Contains(t, out, "80 characters were removed")

	lines := strings.Repeat("line\n", 9) + "line"
	out = TruncateLines(lines, 4)
	assert.Contains(t, out, "[... 6 lines omitted ...]")
	assert.Equal(t, lines, TruncateLines(lines, 10))
}

func TestResultShapes(t *testing.T) {
	assert.JSONEq(t,
		`{"success":false,"status":"error","error":"Tool not supported: x"}`,
		string(NotSupported("x").JSON()))

	rej := Rejected("call_writer_agent", "")
	assert.True(t, rej.Failed())
	assert.Equal(t, StatusRejected, rej.Status)
	assert.Contains(t, rej.Message, "call_writer_agent")

	denied := Denied("web_fetch")
	assert.True(t, denied.Denied)
	assert.False(t, denied.Rejected)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.Equal(t, "blocked by policy", denied.Error)
	assert.Contains(t, denied.Message, "web_fetch")

	c := Cancelled()
	assert.True(t, c.Cancelled)
	assert.Equal(t, StatusCancelled, c.Status)

	bad := Success(make(chan int))
	assert.JSONEq(t, `{"success":false,"status":"error","error":"unencodable tool result: json: unsupported type: chan int"}`, string(bad.JSON()))
}
