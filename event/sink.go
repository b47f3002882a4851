package event

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Emit after the sink has been closed.
var ErrClosed = errors.New("event: sink closed")

// Sink receives events in order. Emit blocks until the event is accepted or
// ctx ends; it never drops events silently.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// DefaultTerminalGrace bounds how long a terminal event waits for a reader
// once the producer's context has ended.
const DefaultTerminalGrace = 2 * time.Second

// ChannelSink delivers events on a channel. Emit and Close must be called
// from the producing goroutine.
type ChannelSink struct {
	ch     chan Event
	grace  time.Duration
	mu     sync.Mutex
	closed bool
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan Event, buffer), grace: DefaultTerminalGrace}
}

// WithGrace sets the terminal grace period.
func (s *ChannelSink) WithGrace(d time.Duration) *ChannelSink {
	s.grace = d
	return s
}

// Events returns the receive side.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit implements Sink. A terminal event is still offered for the grace
// period after ctx ends so a cancelled turn can report done.
func (s *ChannelSink) Emit(ctx context.Context, e Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
	}
	if !e.Terminal() {
		return ctx.Err()
	}

	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case s.ch <- e:
		return nil
	case <-t.C:
		return ctx.Err()
	}
}

// Close closes the channel. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Buffer records events in memory. It is safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (b *Buffer) Emit(_ context.Context, e Event) error {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Len returns the number of recorded events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// FlushTo emits the recorded events to dst in order and resets the buffer.
func (b *Buffer) FlushTo(ctx context.Context, dst Sink) error {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()
	for _, e := range events {
		if err := dst.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Tagged returns a sink that stamps Agent and ThreadID onto events before
// passing them to dst. Existing values are kept.
func Tagged(dst Sink, threadID, agent string) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		if e.Agent == "" {
			e.Agent = agent
		}
		if e.ThreadID == "" {
			e.ThreadID = threadID
		}
		return dst.Emit(ctx, e)
	})
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

type sinkKey struct{}

// WithSink returns a context carrying s so nested work, such as a subagent
// running inside a tool handler, can report its own events.
func WithSink(ctx context.Context, s Sink) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey{}, s)
}

// SinkFrom returns the sink stored in ctx, or Discard.
func SinkFrom(ctx context.Context) Sink {
	if ctx == nil {
		return Discard
	}
	if s, ok := ctx.Value(sinkKey{}).(Sink); ok && s != nil {
		return s
	}
	return Discard
}

// Drain reads ch until it closes.
func Drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}
