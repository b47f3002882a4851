package orchestrator

import (
	"context"

	"github.com/martinemde/dome/hitl"
)

// Auditor records approval activity. Failures are logged and never affect
// the turn.
type Auditor interface {
	RecordInterrupt(ctx context.Context, in *hitl.Interrupt) error
	RecordDecisions(ctx context.Context, threadID string, requests []hitl.ActionRequest, decisions []hitl.Decision) error
}

type nopAuditor struct{}

func (nopAuditor) RecordInterrupt(context.Context, *hitl.Interrupt) error { return nil }

func (nopAuditor) RecordDecisions(context.Context, string, []hitl.ActionRequest, []hitl.Decision) error {
	return nil
}
