package hitl

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/dome/llm"
)

func batch() []llm.ToolCall {
	return []llm.ToolCall{
		{ID: "c1", Name: "call_library_agent", Arguments: json.RawMessage(`{"instructions":"find notes"}`)},
		{ID: "c2", Name: "call_writer_agent", Arguments: json.RawMessage(`{"instructions":"write deck"}`)},
		{ID: "c3", Name: "call_data_agent", Arguments: json.RawMessage(`{"instructions":"chart"}`)},
	}
}

func TestPolicyBuild(t *testing.T) {
	p := DefaultPolicy()
	in := p.Build("t1", batch(), func(c llm.ToolCall) string { return "review " + c.Name })
	require.NotNil(t, in)

	assert.Equal(t, "t1", in.ThreadID)
	require.Len(t, in.ActionRequests, 2)
	assert.Equal(t, "c2", in.ActionRequests[0].ToolCallID)
	assert.Equal(t, "call_writer_agent", in.ActionRequests[0].Name)
	assert.Equal(t, "review call_writer_agent", in.ActionRequests[0].Description)
	assert.Equal(t, "c3", in.ActionRequests[1].ToolCallID)
	require.Len(t, in.ReviewConfigs, 2)
	assert.Equal(t, AllDecisions, in.ReviewConfigs[1].AllowedDecisions)

	// The whole batch is kept so the ungated call can run on resume.
	require.Len(t, in.Calls, 3)
	assert.True(t, in.Gated("c2"))
	assert.False(t, in.Gated("c1"))

	assert.Nil(t, p.Build("t1", batch()[:1], nil))
}

func TestPolicyRules(t *testing.T) {
	p := NewPolicy()
	p.Set("resource_*", Ask)
	p.Set("resource_get", Allow)
	p.Set("web_fetch", Deny)
	p.Set("*", Allow)
	p.Set("weird", "bogus")

	assert.Equal(t, Allow, p.Decide("resource_get"))
	assert.Equal(t, Ask, p.Decide("resource_delete"))
	assert.Equal(t, Deny, p.Decide("WEB_FETCH"))
	assert.Equal(t, Allow, p.Decide("anything"))
	assert.Equal(t, Ask, p.Decide("weird"))
	assert.Equal(t, Allow, p.Decide(""))

	var nilPolicy *Policy
	assert.False(t, nilPolicy.Gated("call_writer_agent"))
}

func TestPolicyMatchesNormalizedNames(t *testing.T) {
	p := DefaultPolicy()
	for _, name := range []string{"call_writer_agent", "callWriterAgent", "call-writer-agent", " Call Writer Agent "} {
		assert.Equal(t, Ask, p.Decide(name), name)
	}

	p.Set("webFetch", Deny)
	assert.Equal(t, Deny, p.Decide("web_fetch"))
	p.SetAllowed("callDataAgent", Approve, Reject)
	assert.Equal(t, []DecisionType{Approve, Reject}, p.Allowed("call_data_agent"))
}

func TestPolicyWildcardPrecedence(t *testing.T) {
	rules := []struct {
		pattern string
		mode    Mode
	}{
		{"call_*", Deny},
		{"call_writer_*", Ask},
		{"call_*_agent", Allow},
	}
	forward, backward := NewPolicy(), NewPolicy()
	for i := range rules {
		forward.Set(rules[i].pattern, rules[i].mode)
		r := rules[len(rules)-1-i]
		backward.Set(r.pattern, r.mode)
	}

	for _, p := range []*Policy{forward, backward} {
		assert.Equal(t, Ask, p.Decide("call_writer_agent"))
		assert.Equal(t, Allow, p.Decide("call_data_agent"))
		assert.Equal(t, Deny, p.Decide("call_home"))
	}

	// Equal lengths fall back to lexical order.
	p := NewPolicy()
	p.Set("web_f*", Ask)
	p.Set("web_*h", Deny)
	assert.Equal(t, Deny, p.Decide("web_fetch"))
}

func TestValidate(t *testing.T) {
	in := DefaultPolicy().Build("t1", batch(), nil)
	in.ReviewConfigs[1].AllowedDecisions = []DecisionType{Approve, Reject}

	tests := []struct {
		name      string
		decisions []Decision
		reason    string
	}{
		{"ok", []Decision{{Type: Approve}, {Type: Reject}}, ""},
		{"ok edit", []Decision{{Type: Edit, Arguments: json.RawMessage(`{"instructions":"x"}`)}, {Type: Approve}}, ""},
		{"too few", []Decision{{Type: Approve}}, "expected 2 decisions, got 1"},
		{"too many", []Decision{{Type: Approve}, {Type: Approve}, {Type: Approve}}, "expected 2 decisions, got 3"},
		{"none", nil, "expected 2 decisions, got 0"},
		{"unknown", []Decision{{Type: "maybe"}, {Type: Approve}}, `unknown decision "maybe"`},
		{"disallowed", []Decision{{Type: Approve}, {Type: Edit, Arguments: json.RawMessage(`{}`)}}, `"edit" is not allowed`},
		{"edit no args", []Decision{{Type: Edit}, {Type: Approve}}, "edit requires a JSON object"},
		{"edit array", []Decision{{Type: Edit, Arguments: json.RawMessage(`[1]`)}, {Type: Approve}}, "edit requires a JSON object"},
		{"edit null", []Decision{{Type: Edit, Arguments: json.RawMessage(`null`)}, {Type: Approve}}, "edit requires a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(in, tt.decisions)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			var perr *InterruptProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "t1", perr.ThreadID)
			assert.Contains(t, perr.Reason, tt.reason)
		})
	}

	var perr *InterruptProtocolError
	require.ErrorAs(t, Validate(nil, nil), &perr)
	assert.Equal(t, "no pending interrupt", perr.Reason)
}

func TestResolveAndClone(t *testing.T) {
	in := DefaultPolicy().Build("t1", batch(), nil)
	m := in.Resolve([]Decision{{Type: Approve}, {Type: Reject, Message: "not now"}})
	assert.Equal(t, Approve, m["c2"].Type)
	assert.Equal(t, "not now", m["c3"].Message)
	_, ok := m["c1"]
	assert.False(t, ok)

	clone := in.Clone()
	clone.Calls[0].Arguments[2] = 'X'
	clone.ActionRequests[0].Name = "changed"
	clone.ReviewConfigs[0].AllowedDecisions[0] = Reject
	assert.Equal(t, `{"instructions":"find notes"}`, string(in.Calls[0].Arguments))
	assert.Equal(t, "call_writer_agent", in.ActionRequests[0].Name)
	assert.Equal(t, Approve, in.ReviewConfigs[0].AllowedDecisions[0])

	var nilIn *Interrupt
	assert.Nil(t, nilIn.Clone())
}

func TestDecisionJSON(t *testing.T) {
	var ds []Decision
	require.NoError(t, json.Unmarshal([]byte(`[{"decision":"approve"},{"decision":"edit","args":{"instructions":"y"}}]`), &ds))
	require.Len(t, ds, 2)
	assert.Equal(t, Approve, ds[0].Type)
	assert.Equal(t, Edit, ds[1].Type)
	assert.JSONEq(t, `{"instructions":"y"}`, string(ds[1].Arguments))
}
