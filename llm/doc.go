// Package llm is the provider layer used by the orchestrator: a
// provider-agnostic Client with middleware, a typed error hierarchy, retry
// helpers, stream accumulation, and a GollmAdapter that drives any provider
// supported by github.com/teilomillet/gollm.
//
// # Quick Start
//
//	adapter, err := llm.NewGollmAdapter("anthropic", llm.WithAPIKey(key))
//	if err != nil {
//	    return err
//	}
//	client := llm.NewClient(
//	    llm.WithProvider("anthropic", adapter),
//	    llm.WithMiddleware(llm.RetryMiddleware(llm.DefaultRetryPolicy())),
//	)
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Messages: []llm.Message{llm.UserMessage("Hello")},
//	})
//
// The engine never retries on its own; RetryMiddleware is opt-in at the
// client.
package llm
