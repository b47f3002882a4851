// Package hitl holds the human-in-the-loop approval vocabulary: the pending
// interrupt a suspended thread carries, the decisions a reviewer returns,
// and the policy that decides which tool calls need review.
package hitl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/martinemde/dome/llm"
)

// DecisionType is a reviewer's verdict on one pending action.
type DecisionType string

const (
	Approve DecisionType = "approve"
	Reject  DecisionType = "reject"
	Edit    DecisionType = "edit"
)

// AllDecisions is the default allowed set for a gated action.
var AllDecisions = []DecisionType{Approve, Reject, Edit}

// ActionRequest describes one gated tool call awaiting review.
type ActionRequest struct {
	ToolCallID  string          `json:"toolCallId"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"args"`
	Description string          `json:"description,omitempty"`
}

// ReviewConfig lists the decisions a reviewer may return for an action.
type ReviewConfig struct {
	ActionName       string         `json:"actionName"`
	AllowedDecisions []DecisionType `json:"allowedDecisions"`
}

// Allows reports whether d is permitted.
func (c ReviewConfig) Allows(d DecisionType) bool {
	for _, allowed := range c.AllowedDecisions {
		if allowed == d {
			return true
		}
	}
	return false
}

// Interrupt is the pending approval state of a suspended thread.
// ActionRequests and ReviewConfigs are positionally aligned. Calls holds the
// whole suspended assistant batch, gated or not, in request order.
type Interrupt struct {
	ThreadID       string          `json:"threadId"`
	ActionRequests []ActionRequest `json:"actionRequests"`
	ReviewConfigs  []ReviewConfig  `json:"reviewConfigs"`
	Calls          []llm.ToolCall  `json:"calls"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Clone returns a deep copy.
func (in *Interrupt) Clone() *Interrupt {
	if in == nil {
		return nil
	}
	out := &Interrupt{
		ThreadID:       in.ThreadID,
		ActionRequests: make([]ActionRequest, len(in.ActionRequests)),
		ReviewConfigs:  make([]ReviewConfig, len(in.ReviewConfigs)),
		Calls:          make([]llm.ToolCall, len(in.Calls)),
		CreatedAt:      in.CreatedAt,
	}
	for i, ar := range in.ActionRequests {
		ar.Arguments = cloneRaw(ar.Arguments)
		out.ActionRequests[i] = ar
	}
	for i, rc := range in.ReviewConfigs {
		rc.AllowedDecisions = append([]DecisionType(nil), rc.AllowedDecisions...)
		out.ReviewConfigs[i] = rc
	}
	for i, c := range in.Calls {
		c.Arguments = cloneRaw(c.Arguments)
		out.Calls[i] = c
	}
	return out
}

// Gated reports whether the call with id is awaiting review.
func (in *Interrupt) Gated(id string) bool {
	for _, ar := range in.ActionRequests {
		if ar.ToolCallID == id {
			return true
		}
	}
	return false
}

// Decision is a reviewer's answer for one ActionRequest.
type Decision struct {
	Type DecisionType `json:"decision"`
	// Arguments replaces the call's arguments for an edit.
	Arguments json.RawMessage `json:"args,omitempty"`
	// Message is passed back to the model on reject.
	Message string `json:"message,omitempty"`
}

// Resolve pairs each gated call id with its decision. Decisions must already
// have passed Validate.
func (in *Interrupt) Resolve(decisions []Decision) map[string]Decision {
	out := make(map[string]Decision, len(decisions))
	for i, ar := range in.ActionRequests {
		out[ar.ToolCallID] = decisions[i]
	}
	return out
}

// InterruptProtocolError reports a resume or invoke call that does not match
// the thread's interrupt state.
type InterruptProtocolError struct {
	ThreadID string
	Reason   string
}

func (e *InterruptProtocolError) Error() string {
	return fmt.Sprintf("interrupt protocol error on thread %q: %s", e.ThreadID, e.Reason)
}

// Validate checks decisions against the pending interrupt: one decision per
// action in order, each of an allowed type, edits carrying a JSON object.
func Validate(in *Interrupt, decisions []Decision) error {
	if in == nil {
		return &InterruptProtocolError{Reason: "no pending interrupt"}
	}
	if len(decisions) != len(in.ActionRequests) {
		return &InterruptProtocolError{
			ThreadID: in.ThreadID,
			Reason:   fmt.Sprintf("expected %d decisions, got %d", len(in.ActionRequests), len(decisions)),
		}
	}
	for i, d := range decisions {
		ar := in.ActionRequests[i]
		switch d.Type {
		case Approve, Reject, Edit:
		default:
			return &InterruptProtocolError{
				ThreadID: in.ThreadID,
				Reason:   fmt.Sprintf("decision %d for %s: unknown decision %q", i, ar.Name, d.Type),
			}
		}
		if i < len(in.ReviewConfigs) && !in.ReviewConfigs[i].Allows(d.Type) {
			return &InterruptProtocolError{
				ThreadID: in.ThreadID,
				Reason:   fmt.Sprintf("decision %d for %s: %q is not allowed", i, ar.Name, d.Type),
			}
		}
		if d.Type == Edit {
			var obj map[string]any
			if len(d.Arguments) == 0 || json.Unmarshal(d.Arguments, &obj) != nil || obj == nil {
				return &InterruptProtocolError{
					ThreadID: in.ThreadID,
					Reason:   fmt.Sprintf("decision %d for %s: edit requires a JSON object of arguments", i, ar.Name),
				}
			}
		}
	}
	return nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
