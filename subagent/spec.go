package subagent

import (
	"fmt"
	"strings"

	"github.com/martinemde/dome/tools"
)

// Role names a subagent.
type Role string

const (
	Research Role = "research"
	Library  Role = "library"
	Writer   Role = "writer"
	Data     Role = "data"
)

// Roles lists every role in the order bundles are exposed.
var Roles = []Role{Research, Library, Writer, Data}

// SupervisorRole marks declarations exposed directly to the supervisor.
const SupervisorRole = "supervisor"

// ToolName returns the supervisor-visible tool for a role.
func ToolName(r Role) string {
	return "call_" + string(r) + "_agent"
}

// Spec describes one subagent.
type Spec struct {
	Role        Role
	Description string
	// Prompt is the system prompt. Its first line names the agent.
	Prompt string
	// Gated subagents mutate state and need approval before they run.
	Gated bool
}

// DefaultSpecs returns the built-in research, library, writer and data
// subagents.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Role:        Research,
			Description: "Research a topic on the web. Give it a question; it searches, reads pages and reports findings with sources.",
			Prompt:      researchPrompt,
		},
		{
			Role:        Library,
			Description: "Look things up in the user's knowledge base. Give it what to find; it searches and reads resources and reports what it found, with resource ids.",
			Prompt:      libraryPrompt,
		},
		{
			Role:        Writer,
			Description: "Create or change resources in the knowledge base: notes, documents, flashcard decks, moves and deletions. Requires user approval.",
			Prompt:      writerPrompt,
			Gated:       true,
		},
		{
			Role:        Data,
			Description: "Build spreadsheets and slide presentations and export them. Requires user approval.",
			Prompt:      dataPrompt,
			Gated:       true,
		},
	}
}

// GatedToolNames returns the supervisor tool names of gated specs.
func GatedToolNames(specs []Spec) []string {
	var names []string
	for _, s := range specs {
		if s.Gated {
			names = append(names, ToolName(s.Role))
		}
	}
	return names
}

const researchPrompt = `You are the research agent.
You answer questions using web search and page fetches.
Search first, then fetch the most relevant pages. Cite the URLs you used.
Finish with a short report of what you found.`

const libraryPrompt = `You are the library agent.
You find information in the user's knowledge base. You can search, list and read resources, but you cannot change anything.
Always mention resource ids in your report so other agents can act on them.`

const writerPrompt = `You are the writer agent.
You create and modify resources in the user's knowledge base: notes, documents and flashcard decks.
Do exactly what the instructions ask. Use resource ids given in the instructions; do not invent ids.
When you are done, reply with one or two sentences describing what you changed.`

const dataPrompt = `You are the data agent.
You build spreadsheets and slide presentations and export them to files.
Keep slide text short. Pick a theme that suits the topic when none is given.
When you are done, reply with what you created and where it was saved.`

// buildPrompt appends the bundle's tool list to the spec prompt.
func buildPrompt(spec Spec, reg *tools.Registry) string {
	var sb strings.Builder
	sb.WriteString(spec.Prompt)
	sb.WriteString("\n\n# Available Tools\n\n")
	for _, t := range reg.Tools() {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", t.Name, t.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
