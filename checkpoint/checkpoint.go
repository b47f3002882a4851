// Package checkpoint stores per-thread conversation state so a suspended
// turn can be resumed by a later call.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/tools"
)

// ErrNotFound is returned by Get for an unknown or expired thread.
var ErrNotFound = errors.New("checkpoint: thread not found")

// State is everything needed to continue a thread.
type State struct {
	Messages []llm.Message
	// Pending is set while the thread waits for review.
	Pending *hitl.Interrupt
	// Tools are the declarations the thread was invoked with. They are
	// treated as immutable and shared between copies.
	Tools     []tools.Declaration
	UpdatedAt time.Time
}

// Clone returns a deep copy of the mutable parts of s.
func (s State) Clone() State {
	return State{
		Messages:  llm.CloneMessages(s.Messages),
		Pending:   s.Pending.Clone(),
		Tools:     append([]tools.Declaration(nil), s.Tools...),
		UpdatedAt: s.UpdatedAt,
	}
}

// Store persists thread state. Get and Put pairs for one thread must be
// wrapped in Lock so two turns never interleave on the same thread.
type Store interface {
	Get(ctx context.Context, threadID string) (State, error)
	Put(ctx context.Context, threadID string, state State) error
	Delete(ctx context.Context, threadID string) error
	// Lock blocks until the caller holds the thread or ctx ends. The returned
	// function releases it and is safe to call more than once.
	Lock(ctx context.Context, threadID string) (unlock func(), err error)
}
