package event

import "fmt"

// Check verifies that events form a well-ordered stream for one call:
// a single terminal event at the end, and every tool_result preceded by the
// tool_call with the same id and agent, with no tool_call of an earlier batch
// left unanswered when a new model round starts. It returns nil for a valid
// sequence.
func Check(events []Event) error {
	if len(events) == 0 {
		return fmt.Errorf("empty event stream")
	}
	for i, e := range events[:len(events)-1] {
		if e.Terminal() {
			return fmt.Errorf("event %d (%s) is terminal but not last", i, e.Kind)
		}
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		return fmt.Errorf("stream ends with non-terminal %s", last.Kind)
	}

	type key struct{ agent, id string }
	open := map[key]bool{}
	seen := map[key]bool{}
	for i, e := range events {
		switch e.Kind {
		case KindToolCall:
			k := key{e.Agent, e.ID}
			if open[k] {
				return fmt.Errorf("event %d: tool_call %s announced twice", i, e.ID)
			}
			open[k] = true
			seen[k] = true
		case KindToolResult:
			k := key{e.Agent, e.ToolCallID}
			if !seen[k] {
				return fmt.Errorf("event %d: tool_result for unknown call %s", i, e.ToolCallID)
			}
			if !open[k] {
				return fmt.Errorf("event %d: duplicate tool_result for %s", i, e.ToolCallID)
			}
			delete(open, k)
		case KindText:
			if e.Agent != "" {
				continue
			}
			for k := range open {
				if k.agent == "" {
					return fmt.Errorf("event %d: text before tool_result for %s", i, k.id)
				}
			}
		}
	}
	if last.Kind == KindDone && last.Reason == "" {
		for k := range open {
			if k.agent == "" {
				return fmt.Errorf("done while tool call %s has no result", k.id)
			}
		}
	}
	return nil
}
