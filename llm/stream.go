package llm

import (
	"context"
	"strings"
)

// StreamAccumulator collects stream events into a complete Response.
type StreamAccumulator struct {
	text         strings.Builder
	toolCalls    []ToolCall
	finishReason *FinishReason
	usage        *Usage
	response     *Response
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		sa.text.WriteString(event.Delta)
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	}
}

// Response returns the accumulated response. A response delivered with the
// finish event wins over the accumulated parts.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	var content []ContentPart
	if sa.text.Len() > 0 {
		content = append(content, TextPart(sa.text.String()))
	}
	for _, tc := range sa.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := FinishReason{Reason: "stop"}
	if sa.finishReason != nil {
		fr = *sa.finishReason
	} else if len(sa.toolCalls) > 0 {
		fr = FinishReason{Reason: "tool_calls"}
	}

	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: fr,
		Usage:        usage,
	}
}

// Collect drains a stream, calling onDelta for every text delta, and returns
// the accumulated response. It returns the stream's error event, or an
// AbortError if ctx ends first.
func Collect(ctx context.Context, events <-chan StreamEvent, onDelta func(string) error) (*Response, error) {
	acc := NewStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case ev, ok := <-events:
			if !ok {
				return acc.Response(), nil
			}
			if ev.Type == StreamError {
				if ev.Error == nil {
					return nil, &StreamErrorType{SDKError: SDKError{Message: "stream failed"}}
				}
				return nil, ev.Error
			}
			acc.Process(ev)
			if ev.Type == TextDelta && onDelta != nil && ev.Delta != "" {
				if err := onDelta(ev.Delta); err != nil {
					return nil, err
				}
			}
		}
	}
}
