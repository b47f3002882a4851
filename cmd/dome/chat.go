package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/martinemde/dome/event"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/orchestrator"
	"github.com/martinemde/dome/tools"
)

func (c *ChatCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := newREPL(a.engine, a.decls, os.Stdin, os.Stdout)
	r.thread = c.Thread
	r.stream = a.cfg.Engine.Stream
	return r.run(ctx)
}

// repl reads user lines, streams each turn, and asks the user to review
// interrupted actions.
type repl struct {
	engine *orchestrator.Engine
	decls  []tools.Declaration
	in     *bufio.Reader
	out    io.Writer
	thread string
	// stream means supervisor text arrives as deltas.
	stream bool
}

func newREPL(engine *orchestrator.Engine, decls []tools.Declaration, in io.Reader, out io.Writer) *repl {
	return &repl{engine: engine, decls: decls, in: bufio.NewReader(in), out: out}
}

func (r *repl) run(ctx context.Context) error {
	if r.thread == "" {
		r.thread = uuid.NewString()
	}
	fmt.Fprintf(r.out, "thread %s (/exit to quit)\n", r.thread)

	// A reused thread may still be parked on a review.
	if pending, err := r.engine.Pending(ctx, r.thread); err == nil && pending != nil {
		if err := r.drive(ctx, nil, pending); err != nil {
			return r.exit(err)
		}
	}

	for {
		fmt.Fprint(r.out, "> ")
		line, err := r.readLine()
		if err != nil {
			return r.exit(err)
		}
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		ch, err := r.engine.Invoke(ctx, r.thread, []llm.Message{llm.UserMessage(line)}, r.decls)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		if err := r.drive(ctx, ch, nil); err != nil {
			return r.exit(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) exit(err error) error {
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(r.out)
		return nil
	}
	return err
}

// drive renders ch and answers every interrupt until the turn ends. With a
// nil ch it starts by reviewing pending.
func (r *repl) drive(ctx context.Context, ch <-chan event.Event, pending *hitl.Interrupt) error {
	for {
		if ch != nil {
			last := r.render(ch)
			if last.Kind != event.KindInterrupt {
				return nil
			}
			pending = &hitl.Interrupt{ActionRequests: last.ActionRequests, ReviewConfigs: last.ReviewConfigs}
		}
		decisions, err := r.review(pending)
		if err != nil {
			return err
		}
		ch, err = r.engine.Resume(ctx, r.thread, decisions)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return nil
		}
	}
}

// render prints events and returns the terminal one.
func (r *repl) render(ch <-chan event.Event) event.Event {
	var last event.Event
	midLine := false
	for e := range ch {
		last = e
		if midLine && (e.Kind != event.KindText || e.Agent != "") {
			fmt.Fprintln(r.out)
			midLine = false
		}
		switch e.Kind {
		case event.KindText:
			switch {
			case e.Agent != "":
				fmt.Fprintf(r.out, "  [%s] %s\n", e.Agent, e.Content)
			case r.stream:
				fmt.Fprint(r.out, e.Content)
				midLine = true
			default:
				fmt.Fprintln(r.out, e.Content)
			}
		case event.KindToolCall:
			fmt.Fprintf(r.out, "  %s-> %s %s\n", agentPrefix(e.Agent), e.Name, compact(e.Arguments, 120))
		case event.KindToolResult:
			fmt.Fprintf(r.out, "  %s<- %s\n", agentPrefix(e.Agent), resultLine(e.Result))
		case event.KindError:
			fmt.Fprintf(r.out, "error: %s\n", e.Message)
		case event.KindDone:
			switch e.Reason {
			case event.ReasonCancelled:
				fmt.Fprintln(r.out, "(cancelled)")
			case event.ReasonRoundLimit:
				fmt.Fprintln(r.out, "(stopped: too many steps)")
			}
		}
	}
	if midLine {
		fmt.Fprintln(r.out)
	}
	return last
}

// review asks for one decision per action request.
func (r *repl) review(in *hitl.Interrupt) ([]hitl.Decision, error) {
	decisions := make([]hitl.Decision, 0, len(in.ActionRequests))
	for i, ar := range in.ActionRequests {
		allowed := hitl.AllDecisions
		if i < len(in.ReviewConfigs) && len(in.ReviewConfigs[i].AllowedDecisions) > 0 {
			allowed = in.ReviewConfigs[i].AllowedDecisions
		}
		fmt.Fprintf(r.out, "\nApproval needed: %s\n", ar.Name)
		if ar.Description != "" {
			fmt.Fprintf(r.out, "  %s\n", ar.Description)
		}
		fmt.Fprintf(r.out, "  args: %s\n", compact(ar.Arguments, 400))

		d, err := r.decide(allowed)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (r *repl) decide(allowed []hitl.DecisionType) (hitl.Decision, error) {
	var opts []string
	for _, d := range allowed {
		opts = append(opts, "["+string(d[:1])+"]"+string(d[1:]))
	}
	for {
		fmt.Fprintf(r.out, "  %s? ", strings.Join(opts, ", "))
		line, err := r.readLine()
		if err != nil {
			return hitl.Decision{}, err
		}
		choice := decisionFor(line)
		if choice == "" || !slices.Contains(allowed, choice) {
			fmt.Fprintln(r.out, "  please answer with one of the options")
			continue
		}
		switch choice {
		case hitl.Reject:
			fmt.Fprint(r.out, "  reason (optional): ")
			msg, err := r.readLine()
			if err != nil {
				return hitl.Decision{}, err
			}
			return hitl.Decision{Type: hitl.Reject, Message: msg}, nil
		case hitl.Edit:
			for {
				fmt.Fprint(r.out, "  new arguments (JSON object): ")
				raw, err := r.readLine()
				if err != nil {
					return hitl.Decision{}, err
				}
				var obj map[string]any
				if json.Unmarshal([]byte(raw), &obj) != nil || obj == nil {
					fmt.Fprintln(r.out, "  not a JSON object")
					continue
				}
				return hitl.Decision{Type: hitl.Edit, Arguments: json.RawMessage(raw)}, nil
			}
		default:
			return hitl.Decision{Type: hitl.Approve}, nil
		}
	}
}

func decisionFor(answer string) hitl.DecisionType {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "a", "approve", "y", "yes":
		return hitl.Approve
	case "r", "reject", "n", "no":
		return hitl.Reject
	case "e", "edit":
		return hitl.Edit
	}
	return ""
}

func (r *repl) readLine() (string, error) {
	line, err := r.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func agentPrefix(agent string) string {
	if agent == "" {
		return ""
	}
	return "[" + agent + "] "
}

func compact(raw json.RawMessage, max int) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

func resultLine(raw json.RawMessage) string {
	var res tools.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return compact(raw, 120)
	}
	switch {
	case res.Success:
		return "ok"
	case res.Rejected:
		return "rejected: " + res.Message
	case res.Denied:
		return "denied: " + res.Message
	case res.Cancelled:
		return "cancelled"
	default:
		return "failed: " + res.Error
	}
}
