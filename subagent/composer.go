// Package subagent groups tools into role-scoped bundles and exposes each
// bundle to the supervisor as a single call_<role>_agent tool that runs its
// own tool-scoped agent loop.
package subagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/dome/event"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/tools"
)

// Config holds the inner loop settings.
type Config struct {
	Provider string
	Model    string
	// MaxRounds bounds model calls per invocation.
	MaxRounds int
	// LoopWindow is the number of recent calls checked for repetition.
	// Zero disables loop detection.
	LoopWindow   int
	PayloadLimit int
	Temperature  *float64
	MaxTokens    *int
}

// DefaultConfig returns the inner loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:    12,
		LoopWindow:   6,
		PayloadLimit: tools.DefaultPayloadLimit,
	}
}

// Composer builds subagent tools over an llm.Client.
type Composer struct {
	client *llm.Client
	specs  map[Role]Spec
	cfg    Config
	logger *zap.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSpecs replaces the specs for the given roles.
func WithSpecs(specs ...Spec) Option {
	return func(c *Composer) {
		for _, s := range specs {
			c.specs[s.Role] = s
		}
	}
}

// WithConfig sets the inner loop configuration.
func WithConfig(cfg Config) Option {
	return func(c *Composer) { c.cfg = cfg }
}

// NewComposer creates a Composer using the default specs.
func NewComposer(client *llm.Client, opts ...Option) *Composer {
	c := &Composer{
		client: client,
		specs:  make(map[Role]Spec),
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, s := range DefaultSpecs() {
		c.specs[s.Role] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Specs returns the configured specs in role order.
func (c *Composer) Specs() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, r := range Roles {
		if s, ok := c.specs[r]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Bundle is the tool set owned by one subagent.
type Bundle struct {
	Spec  Spec
	Tools *tools.Registry
}

// Composition is the result of partitioning a tool catalog.
type Composition struct {
	// Supervisor holds the call_<role>_agent tools and any tools declared
	// for the supervisor itself.
	Supervisor *tools.Registry
	Bundles    map[Role]*Bundle
	// Dropped lists declared names whose role matched no subagent.
	Dropped []string
}

// Compose partitions tools by declared role. Tools with no role or the
// supervisor role go straight to the supervisor; tools with an unknown role
// are dropped.
func (c *Composer) Compose(all []*tools.Tool) *Composition {
	known := tools.NewRegistry(tools.WithLogger(c.logger))
	comp := &Composition{Bundles: make(map[Role]*Bundle)}
	for _, t := range all {
		if t.Role != "" && t.Role != SupervisorRole {
			if _, ok := c.specs[Role(t.Role)]; !ok {
				c.logger.Warn("tool declares unknown subagent role, dropping",
					zap.String("tool", t.DeclaredName), zap.String("role", t.Role))
				comp.Dropped = append(comp.Dropped, t.DeclaredName)
				continue
			}
		}
		known.Register(t)
	}

	comp.Supervisor = known.Subset(func(t *tools.Tool) bool {
		return t.Role == "" || t.Role == SupervisorRole
	})
	for _, spec := range c.Specs() {
		owned := known.Subset(func(t *tools.Tool) bool { return Role(t.Role) == spec.Role })
		if owned.Len() == 0 {
			continue
		}
		b := &Bundle{Spec: spec, Tools: owned}
		comp.Bundles[spec.Role] = b
		comp.Supervisor.Register(c.agentTool(b))
	}
	return comp
}

func (c *Composer) agentTool(b *Bundle) *tools.Tool {
	decl := tools.Declaration{
		Name:        ToolName(b.Spec.Role),
		Description: b.Spec.Description,
		Role:        SupervisorRole,
		Parameters: tools.Parameters{
			Type: "object",
			Properties: map[string]tools.Property{
				"instructions": {
					Type:        "string",
					Description: "What the agent should do, with every detail and id it needs.",
					Aliases:     []string{"task", "prompt", "query"},
				},
			},
			Required: []string{"instructions"},
		},
	}
	return tools.NewTool(decl, func(ctx context.Context, args tools.Args) (any, error) {
		instructions, _ := args.String("instructions")
		return c.Run(ctx, b, instructions)
	})
}

// CallRecord summarizes one inner tool call.
type CallRecord struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// Report is the single result a subagent returns to the supervisor.
type Report struct {
	Agent     Role         `json:"agent"`
	Summary   string       `json:"summary"`
	ToolCalls []CallRecord `json:"tool_calls"`
	Rounds    int          `json:"rounds"`
	// Incomplete is set when the round limit stopped the agent.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Run executes the subagent loop for one instruction. Inner tool activity is
// reported to the sink carried by ctx, tagged with the role. A provider
// failure is returned as an error; cancellation returns ctx.Err().
func (c *Composer) Run(ctx context.Context, b *Bundle, instructions string) (*Report, error) {
	role := b.Spec.Role
	sink := event.Tagged(event.SinkFrom(ctx), "", string(role))
	log := c.logger.With(zap.String("agent", string(role)))

	messages := []llm.Message{
		llm.SystemMessage(buildPrompt(b.Spec, b.Tools)),
		llm.UserMessage(instructions),
	}
	defs := b.Tools.Definitions()
	report := &Report{Agent: role, ToolCalls: []CallRecord{}}
	parent := tools.CallID(ctx)
	seen := map[string]bool{}
	var sigs []string

	maxRounds := c.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultConfig().MaxRounds
	}

	for report.Rounds < maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Rounds++

		resp, err := c.client.Complete(ctx, llm.Request{
			Provider:    c.cfg.Provider,
			Model:       c.cfg.Model,
			Messages:    messages,
			Tools:       defs,
			ToolChoice:  &llm.ToolChoice{Mode: "auto"},
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var abort *llm.AbortError
			if errors.As(err, &abort) {
				return nil, context.Canceled
			}
			log.Warn("subagent model call failed", zap.Error(err))
			return nil, fmt.Errorf("%s agent: %w", role, err)
		}

		calls := resp.ToolCalls()
		for i := range calls {
			calls[i].Name = b.Tools.Canonical(calls[i].Name)
			calls[i].ID = innerCallID(parent, calls[i].ID, seen)
		}
		text := resp.Text()
		if len(calls) == 0 {
			messages = append(messages, llm.AssistantMessage(text))
			report.Summary = text
			return report, nil
		}
		messages = append(messages, llm.AssistantToolCallMessage(text, calls))
		if text != "" {
			report.Summary = text
		}

		for _, call := range calls {
			if err := sink.Emit(ctx, event.ToolCall(call.ID, call.Name, call.Arguments)); err != nil {
				return nil, err
			}
		}
		for _, call := range calls {
			res := b.Tools.Execute(ctx, call.Name, call.Arguments)
			report.ToolCalls = append(report.ToolCalls, CallRecord{Name: call.Name, Success: res.Success})
			messages = append(messages, llm.ToolResultMessage(call.ID, tools.ConversationPayload(res, c.cfg.PayloadLimit), !res.Success))
			if err := sink.Emit(ctx, event.ToolResult(call.ID, res.JSON())); err != nil {
				return nil, err
			}
			sigs = append(sigs, Signature(call.Name, call.Arguments))
		}

		if DetectLoop(sigs, c.cfg.LoopWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach or finish with a report.", c.cfg.LoopWindow)
			log.Info("subagent loop detected", zap.Int("window", c.cfg.LoopWindow))
			messages = append(messages, llm.UserMessage(warning))
			sigs = nil
		}
	}

	report.Incomplete = true
	if report.Summary == "" {
		report.Summary = fmt.Sprintf("The %s agent stopped after %d rounds without finishing.", role, report.Rounds)
	}
	return report, nil
}

// innerCallID scopes a subagent call id under the supervisor call that
// started the run. Supervisor ids are unique within a thread, so the scoped
// ids are too.
func innerCallID(parent, id string, seen map[string]bool) string {
	if id == "" || seen[id] {
		id = "call_" + uuid.NewString()
	}
	seen[id] = true
	if parent == "" {
		return id
	}
	return parent + "-" + id
}
