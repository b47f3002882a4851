package tools

import (
	"encoding/json"
	"fmt"
)

// Status values carried by failure-shaped results.
const (
	StatusError     = "error"
	StatusRejected  = "rejected"
	StatusDenied    = "denied"
	StatusCancelled = "cancelled"
)

// Result is the JSON-serializable outcome of a tool call. Every dispatched
// call produces exactly one Result; failures are values, never errors.
type Result struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	Denied    bool   `json:"denied,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Success wraps handler output.
func Success(data any) Result {
	return Result{Success: true, Data: data}
}

// Failure converts a handler error into a result.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// NotSupported is returned for names with no registered implementation.
func NotSupported(name string) Result {
	return Result{Success: false, Status: StatusError, Error: "Tool not supported: " + name}
}

// Rejected is the synthetic result for a gated call a reviewer declined.
func Rejected(name, message string) Result {
	if message == "" {
		message = fmt.Sprintf("The user rejected the %s action. It was not executed.", name)
	}
	return Result{Success: false, Status: StatusRejected, Rejected: true, Error: "rejected by reviewer", Message: message}
}

// Denied is the synthetic result for a call the tool policy blocks outright.
func Denied(name string) Result {
	return Result{
		Success: false,
		Status:  StatusDenied,
		Denied:  true,
		Error:   "blocked by policy",
		Message: fmt.Sprintf("The %s action is blocked by policy. It was not executed.", name),
	}
}

// Cancelled marks a call that never ran because the turn was aborted.
func Cancelled() Result {
	return Result{Success: false, Status: StatusCancelled, Cancelled: true, Error: "cancelled before execution"}
}

// Failed reports whether the result is failure-shaped.
func (r Result) Failed() bool {
	return !r.Success
}

// JSON renders the result. Data that cannot be encoded is replaced by an
// error result so the conversation always receives valid JSON.
func (r Result) JSON() json.RawMessage {
	raw, err := json.Marshal(r)
	if err != nil {
		raw, _ = json.Marshal(Result{Success: false, Status: StatusError, Error: "unencodable tool result: " + err.Error()})
	}
	return raw
}
