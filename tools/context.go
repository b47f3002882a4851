package tools

import "context"

type callIDKey struct{}

// WithCallID records the id of the call being dispatched so nested agents can
// derive ids that stay unique within the thread.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the id set by WithCallID, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
