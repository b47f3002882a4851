package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/dome/subagent"
)

const supervisorIntro = `You are the supervisor.
You answer the user directly when you can. When a request needs the
knowledge base, the web, or a new or changed document, delegate it to the
agent that owns those tools by calling its call_<role>_agent tool with
complete instructions. Agents see nothing of this conversation except the
instructions you give them, so include every id, title and detail they need.
Some agents need the user's approval before they run. If the user rejects an
action, do not retry it; tell the user what was not done and ask how to
proceed.`

// supervisorPrompt builds the system prompt for one supervisor round. The
// first line is stable so routing and tests can recognize it.
func supervisorPrompt(comp *subagent.Composition, instructions string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(supervisorIntro)

	sb.WriteString("\n\n<environment>\n")
	fmt.Fprintf(&sb, "Today's date: %s\n", now.Format("2006-01-02"))
	sb.WriteString("</environment>")

	var agents []string
	for _, r := range subagent.Roles {
		b, ok := comp.Bundles[r]
		if !ok {
			continue
		}
		line := fmt.Sprintf("- %s: %s", subagent.ToolName(r), b.Spec.Description)
		agents = append(agents, line)
	}
	if len(agents) > 0 {
		sb.WriteString("\n\n# Agents\n\n")
		sb.WriteString(strings.Join(agents, "\n"))
	}

	if instructions != "" {
		sb.WriteString("\n\n# User Instructions\n\n")
		sb.WriteString(instructions)
	}
	return sb.String()
}
