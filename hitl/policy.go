package hitl

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/tools"
)

// Mode is the policy verdict for a tool name.
type Mode string

const (
	// Allow runs the call without review.
	Allow Mode = "allow"
	// Ask suspends the call until a reviewer decides.
	Ask Mode = "ask"
	// Deny never runs the call; it gets a rejection result.
	Deny Mode = "deny"
)

// DefaultGated names the supervisor tools that always require approval.
var DefaultGated = []string{"call_writer_agent", "call_data_agent"}

// Policy maps tool names to modes. Names are compared in their normalized
// form. Rules match exact names first, then path.Match wildcards from the
// most specific (longest) pattern down, then "*"; anything else is allowed.
type Policy struct {
	rules     map[string]Mode
	wildcards []string
	allowed   map[string][]DecisionType
}

// NewPolicy returns a policy that asks for the given names.
func NewPolicy(gated ...string) *Policy {
	p := &Policy{rules: map[string]Mode{}, allowed: map[string][]DecisionType{}}
	for _, name := range gated {
		p.Set(name, Ask)
	}
	return p
}

// DefaultPolicy gates the writer and data subagents.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultGated...)
}

// Set adds or replaces a rule. Pattern may be an exact name or a path.Match
// pattern.
func (p *Policy) Set(pattern string, mode Mode) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	if !isWildcard(pattern) {
		p.rules[tools.Normalize(pattern)] = normalizeMode(mode)
		return
	}
	pattern = strings.ToLower(pattern)
	if _, ok := p.rules[pattern]; !ok && pattern != "*" {
		p.wildcards = append(p.wildcards, pattern)
		sort.Slice(p.wildcards, func(i, j int) bool {
			a, b := p.wildcards[i], p.wildcards[j]
			if len(a) != len(b) {
				return len(a) > len(b)
			}
			return a < b
		})
	}
	p.rules[pattern] = normalizeMode(mode)
}

// SetAllowed restricts the decisions a reviewer may return for name.
func (p *Policy) SetAllowed(name string, decisions ...DecisionType) {
	p.allowed[tools.Normalize(name)] = append([]DecisionType(nil), decisions...)
}

// Decide returns the mode for a tool name.
func (p *Policy) Decide(name string) Mode {
	name = strings.TrimSpace(name)
	if p == nil || name == "" {
		return Allow
	}
	name = tools.Normalize(name)
	if m, ok := p.rules[name]; ok {
		return m
	}
	for _, pattern := range p.wildcards {
		if ok, _ := path.Match(pattern, name); ok {
			return p.rules[pattern]
		}
	}
	if m, ok := p.rules["*"]; ok {
		return m
	}
	return Allow
}

// Gated reports whether name requires review.
func (p *Policy) Gated(name string) bool {
	return p.Decide(name) == Ask
}

// Allowed returns the decisions permitted for name.
func (p *Policy) Allowed(name string) []DecisionType {
	if p != nil {
		if d, ok := p.allowed[tools.Normalize(name)]; ok {
			return append([]DecisionType(nil), d...)
		}
	}
	return append([]DecisionType(nil), AllDecisions...)
}

// Build returns the interrupt for a batch of calls, or nil when no call in it
// is gated. describe may be nil.
func (p *Policy) Build(threadID string, batch []llm.ToolCall, describe func(llm.ToolCall) string) *Interrupt {
	var in *Interrupt
	for _, call := range batch {
		if !p.Gated(call.Name) {
			continue
		}
		if in == nil {
			in = &Interrupt{ThreadID: threadID, CreatedAt: time.Now().UTC()}
		}
		desc := ""
		if describe != nil {
			desc = describe(call)
		}
		in.ActionRequests = append(in.ActionRequests, ActionRequest{
			ToolCallID:  call.ID,
			Name:        call.Name,
			Arguments:   cloneRaw(call.Arguments),
			Description: desc,
		})
		in.ReviewConfigs = append(in.ReviewConfigs, ReviewConfig{
			ActionName:       call.Name,
			AllowedDecisions: p.Allowed(call.Name),
		})
	}
	if in == nil {
		return nil
	}
	in.Calls = make([]llm.ToolCall, len(batch))
	for i, c := range batch {
		c.Arguments = cloneRaw(c.Arguments)
		in.Calls[i] = c
	}
	return in
}

func isWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func normalizeMode(m Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(m)))) {
	case Allow:
		return Allow
	case Deny:
		return Deny
	default:
		return Ask
	}
}
