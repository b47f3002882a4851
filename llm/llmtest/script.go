// Package llmtest provides a scripted llm.ProviderAdapter for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/dome/llm"
)

// Step produces the response for one provider call. It may inspect the
// request to decide what to return.
type Step func(ctx context.Context, req llm.Request) (*llm.Response, error)

// Provider replays steps in order. Steps can be routed by the first system
// message text via Route, which lets a single provider serve a supervisor and
// its subagents.
type Provider struct {
	name   string
	mu     sync.Mutex
	queues map[string][]Step
	route  func(req llm.Request) string
	calls  []llm.Request
}

// New returns a Provider named name whose steps all share one queue.
func New(name string, steps ...Step) *Provider {
	p := &Provider{
		name:   name,
		queues: map[string][]Step{"": steps},
		route:  func(llm.Request) string { return "" },
	}
	return p
}

// Route installs a routing function and the per-key step queues.
func (p *Provider) Route(route func(req llm.Request) string, queues map[string][]Step) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.route = route
	p.queues = queues
	return p
}

// Name implements llm.ProviderAdapter.
func (p *Provider) Name() string { return p.name }

// Complete implements llm.ProviderAdapter.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	key := p.route(req)
	queue := p.queues[key]
	if len(queue) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("llmtest: no scripted step left for %q", key)
	}
	step := queue[0]
	p.queues[key] = queue[1:]
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := step(ctx, req)
	if resp != nil && resp.Provider == "" {
		resp.Provider = p.name
	}
	return resp, err
}

// Stream implements llm.ProviderAdapter by replaying Complete as deltas.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamEvent, 8)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Type: llm.StreamStart}
		if text := resp.Text(); text != "" {
			ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: text}
		}
		for _, tc := range resp.ToolCalls() {
			call := tc
			ch <- llm.StreamEvent{Type: llm.ToolCallEnd, ToolCall: &call}
		}
		ch <- llm.StreamEvent{Type: llm.StreamFinish, FinishReason: &resp.FinishReason, Response: resp}
	}()
	return ch, nil
}

// Calls returns a copy of every request the provider received.
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.calls...)
}

// Remaining reports how many scripted steps have not been consumed.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Text returns a step answering with plain text.
func Text(text string) Step {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{
			ID:           "resp_text",
			Message:      llm.AssistantMessage(text),
			FinishReason: llm.FinishReason{Reason: "stop"},
		}, nil
	}
}

// Call describes one scripted tool call.
type Call struct {
	ID   string
	Name string
	Args any
}

// ToolCalls returns a step answering with the given tool calls.
func ToolCalls(calls ...Call) Step {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		tcs := make([]llm.ToolCall, len(calls))
		for i, c := range calls {
			raw, err := json.Marshal(c.Args)
			if err != nil {
				return nil, err
			}
			if c.Args == nil {
				raw = json.RawMessage(`{}`)
			}
			tcs[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: raw}
		}
		return &llm.Response{
			ID:           "resp_tools",
			Message:      llm.AssistantToolCallMessage("", tcs),
			FinishReason: llm.FinishReason{Reason: "tool_calls"},
		}, nil
	}
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, err
	}
}

// Block returns a step that waits for ctx to end, then fails with its error.
// If started is non-nil it is closed when the step begins waiting.
func Block(started chan<- struct{}) Step {
	return func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// BySystemPrefix routes by the first system message's leading line.
func BySystemPrefix(req llm.Request) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			text := m.TextContent()
			for i, r := range text {
				if r == '\n' {
					return text[:i]
				}
			}
			return text
		}
	}
	return ""
}
