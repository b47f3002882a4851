package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/dome/event"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

// runner carries one turn from its first model call to its terminal event.
type runner struct {
	e    *Engine
	t    *turn
	comp *subagent.Composition
	sink event.Sink
	log  *zap.Logger
}

func (e *Engine) run(ctx context.Context, t *turn, sink event.Sink) error {
	defer t.unlock()

	r := &runner{
		e:    e,
		t:    t,
		sink: event.Tagged(sink, t.id, ""),
		log:  e.logger.With(zap.String("thread_id", t.id)),
	}
	r.comp = e.composer.Compose(tools.Convert(t.state.Tools, e.lookup))
	if len(r.comp.Dropped) > 0 {
		r.log.Warn("tools dropped from composition", zap.Strings("tools", r.comp.Dropped))
	}

	var final event.Event
	if t.resume != nil {
		var stop bool
		if final, stop = r.resumeBatch(ctx); !stop {
			final = r.loop(ctx)
		}
	} else {
		final = r.loop(ctx)
	}
	return r.finish(ctx, final)
}

func (r *runner) loop(ctx context.Context) event.Event {
	cfg := r.e.cfg
	defs := r.comp.Supervisor.Definitions()
	prompt := supervisorPrompt(r.comp, cfg.Instructions, r.e.now())

	for round := 1; round <= cfg.MaxRounds; round++ {
		if ctx.Err() != nil {
			return event.Done(event.ReasonCancelled)
		}

		req := llm.Request{
			Provider:    cfg.Provider,
			Model:       cfg.Model,
			Messages:    append([]llm.Message{llm.SystemMessage(prompt)}, r.t.state.Messages...),
			Tools:       defs,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}
		if len(defs) > 0 {
			req.ToolChoice = &llm.ToolChoice{Mode: "auto"}
		}

		resp, streamed, err := r.complete(ctx, req)
		if err != nil {
			if cancelled(ctx, err) {
				return event.Done(event.ReasonCancelled)
			}
			r.log.Warn("supervisor model call failed", zap.Int("round", round), zap.Error(err))
			return event.Error(err.Error())
		}

		calls := r.assignIDs(resp.ToolCalls())
		text := resp.Text()
		if len(calls) == 0 {
			r.t.state.Messages = append(r.t.state.Messages, llm.AssistantMessage(text))
			if text != "" && !streamed && !r.emit(ctx, event.Text(text)) {
				return event.Done(event.ReasonCancelled)
			}
			return event.Done("")
		}

		r.t.state.Messages = append(r.t.state.Messages, llm.AssistantToolCallMessage(text, calls))
		if text != "" && !streamed && !r.emit(ctx, event.Text(text)) {
			return event.Done(event.ReasonCancelled)
		}
		for _, call := range calls {
			if !r.emit(ctx, event.ToolCall(call.ID, call.Name, call.Arguments)) {
				return event.Done(event.ReasonCancelled)
			}
		}

		if in := r.e.policy.Build(r.t.id, calls, describe); in != nil {
			r.t.state.Pending = in
			return event.Interrupt(in)
		}
		if final, stop := r.execute(ctx, calls, nil); stop {
			return final
		}
	}

	r.log.Info("supervisor round limit reached", zap.Int("max_rounds", cfg.MaxRounds))
	return event.Done(event.ReasonRoundLimit)
}

// resumeBatch applies the reviewer's decisions to the suspended batch and
// executes it. Edited arguments replace the originals in history.
func (r *runner) resumeBatch(ctx context.Context) (event.Event, bool) {
	in := r.t.resume
	decided := in.Resolve(r.t.decisions)

	calls := make([]llm.ToolCall, len(in.Calls))
	for i, c := range in.Calls {
		if d, ok := decided[c.ID]; ok && d.Type == hitl.Edit {
			c.Arguments = append(json.RawMessage(nil), d.Arguments...)
		}
		calls[i] = c
	}
	r.rewriteArguments(calls)
	r.t.state.Pending = nil

	if err := r.e.auditor.RecordDecisions(context.WithoutCancel(ctx), r.t.id, in.ActionRequests, r.t.decisions); err != nil {
		r.log.Warn("record decisions failed", zap.Error(err))
	}
	for i, ar := range in.ActionRequests {
		r.log.Info("review decision",
			zap.String("tool", ar.Name),
			zap.String("tool_call_id", ar.ToolCallID),
			zap.String("decision", string(r.t.decisions[i].Type)))
	}

	for _, call := range calls {
		if !r.emit(ctx, event.ToolCall(call.ID, call.Name, call.Arguments)) {
			return event.Done(event.ReasonCancelled), true
		}
	}
	return r.execute(ctx, calls, decided)
}

// execute runs a batch and records one result per call. It reports stop with
// the terminal event when the turn must end.
func (r *runner) execute(ctx context.Context, calls []llm.ToolCall, decided map[string]hitl.Decision) (event.Event, bool) {
	answered := r.answered()
	pending := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		if !answered[c.ID] {
			pending = append(pending, c)
		}
	}

	if r.e.cfg.Parallel && len(pending) > 1 {
		return r.executeParallel(ctx, pending, decided)
	}

	for _, call := range pending {
		if ctx.Err() != nil {
			return event.Done(event.ReasonCancelled), true
		}
		res := r.dispatch(event.WithSink(ctx, r.sink), call, decided)
		r.record(call, res)
		if ctx.Err() != nil {
			return event.Done(event.ReasonCancelled), true
		}
		if !r.emit(ctx, event.ToolResult(call.ID, res.JSON())) {
			return event.Done(event.ReasonCancelled), true
		}
	}
	return event.Event{}, false
}

// executeParallel runs calls concurrently. Each call's nested events are
// buffered and flushed in request order so the stream stays deterministic.
func (r *runner) executeParallel(ctx context.Context, calls []llm.ToolCall, decided map[string]hitl.Decision) (event.Event, bool) {
	results := make([]tools.Result, len(calls))
	bufs := make([]*event.Buffer, len(calls))

	g := new(errgroup.Group)
	g.SetLimit(r.e.cfg.MaxParallel)
	for i, call := range calls {
		bufs[i] = &event.Buffer{}
		g.Go(func() error {
			results[i] = r.dispatch(event.WithSink(ctx, bufs[i]), call, decided)
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range calls {
		r.record(call, results[i])
	}
	if ctx.Err() != nil {
		return event.Done(event.ReasonCancelled), true
	}
	for i, call := range calls {
		if err := bufs[i].FlushTo(ctx, r.sink); err != nil {
			return event.Done(event.ReasonCancelled), true
		}
		if !r.emit(ctx, event.ToolResult(call.ID, results[i].JSON())) {
			return event.Done(event.ReasonCancelled), true
		}
	}
	return event.Event{}, false
}

func (r *runner) dispatch(ctx context.Context, call llm.ToolCall, decided map[string]hitl.Decision) tools.Result {
	if d, ok := decided[call.ID]; ok && d.Type == hitl.Reject {
		return tools.Rejected(call.Name, d.Message)
	}
	if r.e.policy.Decide(call.Name) == hitl.Deny {
		return tools.Denied(call.Name)
	}
	start := time.Now()
	res := r.comp.Supervisor.Execute(tools.WithCallID(ctx, call.ID), call.Name, call.Arguments)
	r.log.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.String("tool_call_id", call.ID),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

func (r *runner) record(call llm.ToolCall, res tools.Result) {
	payload := tools.ConversationPayload(res, r.e.cfg.PayloadLimit)
	r.t.state.Messages = append(r.t.state.Messages, llm.ToolResultMessage(call.ID, payload, res.Failed()))
}

// finish persists the thread and emits the terminal event. A turn that did
// not stop for review leaves no tool call without a result in history.
func (r *runner) finish(ctx context.Context, final event.Event) error {
	st := &r.t.state
	if final.Kind != event.KindInterrupt {
		st.Pending = nil
		r.closeOpenCalls()
	}
	st.UpdatedAt = r.e.now()

	saveCtx := context.WithoutCancel(ctx)
	if err := r.e.store.Put(saveCtx, r.t.id, *st); err != nil {
		r.log.Error("save checkpoint failed", zap.Error(err))
		final = event.Error("save checkpoint: " + err.Error())
	} else if final.Kind == event.KindInterrupt {
		if err := r.e.auditor.RecordInterrupt(saveCtx, st.Pending); err != nil {
			r.log.Warn("record interrupt failed", zap.Error(err))
		}
	}

	r.log.Info("turn finished",
		zap.String("event", string(final.Kind)),
		zap.String("reason", final.Reason),
		zap.Int("messages", len(st.Messages)))
	return r.sink.Emit(ctx, final)
}

func (r *runner) complete(ctx context.Context, req llm.Request) (*llm.Response, bool, error) {
	if !r.e.cfg.Stream {
		resp, err := r.e.client.Complete(ctx, req)
		return resp, false, err
	}
	events, err := r.e.client.Stream(ctx, req)
	if err != nil {
		return nil, false, err
	}
	streamed := false
	resp, err := llm.Collect(ctx, events, func(delta string) error {
		streamed = true
		return r.sink.Emit(ctx, event.Text(delta))
	})
	return resp, streamed, err
}

func (r *runner) emit(ctx context.Context, ev event.Event) bool {
	if err := r.sink.Emit(ctx, ev); err != nil {
		r.log.Debug("emit failed", zap.String("event", string(ev.Kind)), zap.Error(err))
		return false
	}
	return true
}

// assignIDs replaces blank call ids and ids already used in the thread, and
// rewrites each name to the tool it resolves to so events, review and
// dispatch all see the same name.
func (r *runner) assignIDs(calls []llm.ToolCall) []llm.ToolCall {
	seen := map[string]bool{}
	for _, m := range r.t.state.Messages {
		for _, c := range m.ToolCalls() {
			seen[c.ID] = true
		}
	}
	for i := range calls {
		calls[i].Name = r.comp.Supervisor.Canonical(calls[i].Name)
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + uuid.NewString()
		}
		seen[calls[i].ID] = true
		if len(calls[i].Arguments) == 0 {
			calls[i].Arguments = json.RawMessage(`{}`)
		}
	}
	return calls
}

func (r *runner) answered() map[string]bool {
	out := map[string]bool{}
	for _, m := range r.t.state.Messages {
		if m.Role == llm.RoleTool && m.ToolCallID != "" {
			out[m.ToolCallID] = true
		}
	}
	return out
}

// rewriteArguments stores final call arguments in the assistant message that
// made the calls.
func (r *runner) rewriteArguments(calls []llm.ToolCall) {
	args := make(map[string]json.RawMessage, len(calls))
	for _, c := range calls {
		args[c.ID] = c.Arguments
	}
	msgs := r.t.state.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != llm.RoleAssistant {
			continue
		}
		found := false
		for j, part := range msgs[i].Content {
			if part.Kind != llm.ContentToolCall || part.ToolCall == nil {
				continue
			}
			if a, ok := args[part.ToolCall.ID]; ok {
				tc := *part.ToolCall
				tc.Arguments = append(json.RawMessage(nil), a...)
				msgs[i].Content[j].ToolCall = &tc
				found = true
			}
		}
		if found {
			return
		}
	}
}

// closeOpenCalls answers the last assistant batch's unanswered calls with
// cancelled results.
func (r *runner) closeOpenCalls() {
	msgs := r.t.state.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != llm.RoleAssistant {
			continue
		}
		answered := r.answered()
		for _, c := range msgs[i].ToolCalls() {
			if !answered[c.ID] {
				r.record(c, tools.Cancelled())
			}
		}
		return
	}
}

func describe(call llm.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	for _, key := range []string{"instructions", "task", "prompt", "query"} {
		if s, ok := args[key].(string); ok && s != "" {
			return tools.Truncate(s, 500)
		}
	}
	return ""
}

func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	var abort *llm.AbortError
	return errors.As(err, &abort)
}
