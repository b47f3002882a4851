// Package event defines the canonical stream a turn emits to its caller:
// text, tool_call, tool_result, interrupt, done and error.
//
// Ordering rules for one call of Invoke or Resume:
//   - every tool_call of an assistant batch precedes that batch's tool_result events;
//   - text closing a turn follows all of the turn's tool activity;
//   - exactly one terminal event (done, error or interrupt) is emitted, and it is last.
//
// Events from a subagent's inner loop carry the subagent role in Agent.
package event

import (
	"encoding/json"
	"time"

	"github.com/martinemde/dome/hitl"
)

// Kind identifies an event.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindInterrupt  Kind = "interrupt"
	KindDone       Kind = "done"
	KindError      Kind = "error"
)

// Done reasons.
const (
	ReasonCancelled  = "cancelled"
	ReasonRoundLimit = "round_limit"
)

// Event is one canonical stream event. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind      Kind      `json:"type"`
	ThreadID  string    `json:"threadId,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// text
	Content string `json:"content,omitempty"`

	// tool_call
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// tool_result
	ToolCallID string          `json:"toolCallId,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// interrupt
	ActionRequests []hitl.ActionRequest `json:"actionRequests,omitempty"`
	ReviewConfigs  []hitl.ReviewConfig  `json:"reviewConfigs,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// done
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether e ends a call's stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindDone, KindError, KindInterrupt:
		return true
	}
	return false
}

// Text builds a text event.
func Text(content string) Event {
	return Event{Kind: KindText, Content: content, Timestamp: time.Now()}
}

// ToolCall builds a tool_call event.
func ToolCall(id, name string, args json.RawMessage) Event {
	return Event{Kind: KindToolCall, ID: id, Name: name, Arguments: args, Timestamp: time.Now()}
}

// ToolResult builds a tool_result event.
func ToolResult(toolCallID string, result json.RawMessage) Event {
	return Event{Kind: KindToolResult, ToolCallID: toolCallID, Result: result, Timestamp: time.Now()}
}

// Interrupt builds an interrupt event from a pending interrupt.
func Interrupt(in *hitl.Interrupt) Event {
	return Event{
		Kind:           KindInterrupt,
		ThreadID:       in.ThreadID,
		ActionRequests: in.ActionRequests,
		ReviewConfigs:  in.ReviewConfigs,
		Timestamp:      time.Now(),
	}
}

// Done builds a done event. reason is empty for normal completion.
func Done(reason string) Event {
	return Event{Kind: KindDone, Reason: reason, Timestamp: time.Now()}
}

// Error builds an error event.
func Error(message string) Event {
	return Event{Kind: KindError, Message: message, Timestamp: time.Now()}
}
