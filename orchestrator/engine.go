// Package orchestrator drives a thread's conversation through the supervisor
// agent. Invoke starts a turn with new messages; Resume continues a turn
// that stopped at an approval interrupt. Both stream canonical events and
// persist thread state in a checkpoint.Store between calls.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/dome/checkpoint"
	"github.com/martinemde/dome/event"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

// Config holds the supervisor loop settings.
type Config struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	// MaxRounds bounds supervisor model calls per Invoke or Resume.
	MaxRounds    int  `toml:"max_rounds"`
	PayloadLimit int  `toml:"payload_limit"`
	Parallel     bool `toml:"parallel"`
	MaxParallel  int  `toml:"max_parallel"`
	// Stream emits supervisor text deltas as they arrive.
	Stream       bool     `toml:"stream"`
	EventBuffer  int      `toml:"event_buffer"`
	Instructions string   `toml:"instructions"`
	Temperature  *float64 `toml:"temperature"`
	MaxTokens    *int     `toml:"max_tokens"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:    25,
		PayloadLimit: tools.DefaultPayloadLimit,
		MaxParallel:  4,
		EventBuffer:  64,
	}
}

// Engine runs supervisor turns. It is safe for concurrent use; calls on the
// same thread are serialized by the store's thread lock.
type Engine struct {
	client   *llm.Client
	store    checkpoint.Store
	lookup   tools.Lookup
	composer *subagent.Composer
	policy   *hitl.Policy
	auditor  Auditor
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithComposer sets the subagent composer. By default one is built over the
// engine's client with the default specs.
func WithComposer(c *subagent.Composer) Option {
	return func(e *Engine) { e.composer = c }
}

// WithPolicy sets the approval policy. By default the gated subagents of the
// composer require approval.
func WithPolicy(p *hitl.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithAuditor records interrupts and decisions.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) {
		if a != nil {
			e.auditor = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig sets the loop configuration. Zero limits fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. lookup binds declared tool names to handlers; it may
// be nil, in which case every declared tool reports "Tool not supported".
func New(client *llm.Client, store checkpoint.Store, lookup tools.Lookup, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		store:   store,
		lookup:  lookup,
		auditor: nopAuditor{},
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	def := DefaultConfig()
	if e.cfg.MaxRounds <= 0 {
		e.cfg.MaxRounds = def.MaxRounds
	}
	if e.cfg.PayloadLimit <= 0 {
		e.cfg.PayloadLimit = def.PayloadLimit
	}
	if e.cfg.MaxParallel <= 0 {
		e.cfg.MaxParallel = def.MaxParallel
	}
	if e.cfg.EventBuffer < 0 {
		e.cfg.EventBuffer = 0
	}

	if e.composer == nil {
		sub := subagent.DefaultConfig()
		sub.Provider = e.cfg.Provider
		sub.Model = e.cfg.Model
		sub.PayloadLimit = e.cfg.PayloadLimit
		e.composer = subagent.NewComposer(client, subagent.WithLogger(e.logger), subagent.WithConfig(sub))
	}
	if e.policy == nil {
		e.policy = hitl.NewPolicy(subagent.GatedToolNames(e.composer.Specs())...)
	}
	return e
}

// turn is one locked Invoke or Resume call.
type turn struct {
	id     string
	state  checkpoint.State
	unlock func()
	// resume holds the interrupt being answered and its decisions.
	resume    *hitl.Interrupt
	decisions []hitl.Decision
}

// Invoke appends messages to the thread and runs the supervisor until it
// finishes, fails, or stops for approval. A blank threadID starts a new
// thread; every event carries the id. decls replaces the thread's tool
// declarations when non-empty.
//
// Protocol errors are returned before any event is produced. Otherwise the
// returned channel yields the turn's events and closes after the terminal
// one. The caller must drain it; the thread stays locked until then.
func (e *Engine) Invoke(ctx context.Context, threadID string, messages []llm.Message, decls []tools.Declaration) (<-chan event.Event, error) {
	t, err := e.beginInvoke(ctx, threadID, messages, decls)
	if err != nil {
		return nil, err
	}
	return e.stream(ctx, t), nil
}

// Resume answers the thread's pending interrupt with one decision per action
// request, in order, and continues the turn.
func (e *Engine) Resume(ctx context.Context, threadID string, decisions []hitl.Decision) (<-chan event.Event, error) {
	t, err := e.beginResume(ctx, threadID, decisions)
	if err != nil {
		return nil, err
	}
	return e.stream(ctx, t), nil
}

// Run is Invoke delivering events to sink on the calling goroutine.
func (e *Engine) Run(ctx context.Context, threadID string, messages []llm.Message, decls []tools.Declaration, sink event.Sink) error {
	t, err := e.beginInvoke(ctx, threadID, messages, decls)
	if err != nil {
		return err
	}
	return e.run(ctx, t, sink)
}

// Continue is Resume delivering events to sink on the calling goroutine.
func (e *Engine) Continue(ctx context.Context, threadID string, decisions []hitl.Decision, sink event.Sink) error {
	t, err := e.beginResume(ctx, threadID, decisions)
	if err != nil {
		return err
	}
	return e.run(ctx, t, sink)
}

// Pending returns the thread's pending interrupt, or nil when the thread is
// not waiting for review.
func (e *Engine) Pending(ctx context.Context, threadID string) (*hitl.Interrupt, error) {
	st, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, &CheckpointMissingError{ThreadID: threadID}
	}
	if err != nil {
		return nil, err
	}
	return st.Pending, nil
}

// History returns a copy of the thread's messages.
func (e *Engine) History(ctx context.Context, threadID string) ([]llm.Message, error) {
	st, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, &CheckpointMissingError{ThreadID: threadID}
	}
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

func (e *Engine) stream(ctx context.Context, t *turn) <-chan event.Event {
	sink := event.NewChannelSink(e.cfg.EventBuffer)
	go func() {
		defer sink.Close()
		if err := e.run(ctx, t, sink); err != nil {
			e.logger.Debug("event delivery stopped", zap.String("thread_id", t.id), zap.Error(err))
		}
	}()
	return sink.Events()
}

func (e *Engine) beginInvoke(ctx context.Context, threadID string, messages []llm.Message, decls []tools.Declaration) (*turn, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	unlock, err := e.store.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st, err := e.store.Get(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		st = checkpoint.State{}
	case err != nil:
		unlock()
		return nil, err
	}
	if st.Pending != nil {
		unlock()
		return nil, &hitl.InterruptProtocolError{
			ThreadID: threadID,
			Reason:   "thread is waiting for review; resume it before sending new messages",
		}
	}
	if len(messages) == 0 && len(st.Messages) == 0 {
		unlock()
		return nil, ErrNoMessages
	}
	if len(decls) > 0 {
		st.Tools = append([]tools.Declaration(nil), decls...)
	}
	st.Messages = append(st.Messages, llm.CloneMessages(messages)...)
	return &turn{id: threadID, state: st, unlock: unlock}, nil
}

func (e *Engine) beginResume(ctx context.Context, threadID string, decisions []hitl.Decision) (*turn, error) {
	unlock, err := e.store.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		unlock()
		return nil, &CheckpointMissingError{ThreadID: threadID}
	}
	if err != nil {
		unlock()
		return nil, err
	}
	if st.Pending == nil {
		unlock()
		return nil, &hitl.InterruptProtocolError{ThreadID: threadID, Reason: "no pending interrupt"}
	}
	if err := hitl.Validate(st.Pending, decisions); err != nil {
		unlock()
		var pe *hitl.InterruptProtocolError
		if errors.As(err, &pe) && pe.ThreadID == "" {
			pe.ThreadID = threadID
		}
		return nil, err
	}
	return &turn{
		id:        threadID,
		state:     st,
		unlock:    unlock,
		resume:    st.Pending,
		decisions: append([]hitl.Decision(nil), decisions...),
	}, nil
}
