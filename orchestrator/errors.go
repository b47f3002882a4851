package orchestrator

import (
	"errors"
	"fmt"

	"github.com/martinemde/dome/checkpoint"
)

// ErrNoMessages is returned by Invoke when neither the call nor the thread
// history holds any message.
var ErrNoMessages = errors.New("orchestrator: no messages to send")

// CheckpointMissingError is returned by Resume for a thread the store does
// not know, either because it never existed or because it was evicted.
type CheckpointMissingError struct {
	ThreadID string
}

func (e *CheckpointMissingError) Error() string {
	return fmt.Sprintf("no checkpoint for thread %q", e.ThreadID)
}

func (e *CheckpointMissingError) Unwrap() error {
	return checkpoint.ErrNotFound
}
