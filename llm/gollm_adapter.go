package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// toolCallInstruction tells text-only models how to request tool calls so
// parseToolCalls can recover them.
const toolCallInstruction = `When you need a tool, reply with only a JSON object of the form
{"tool_calls":[{"name":"<tool name>","arguments":{...}}]}
and nothing else. When no tool is needed, reply in plain text.`

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string

	// gollm options are set on the shared LLM, so a request holds mu from
	// option application until generation starts.
	mu sync.Mutex
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If no API key is given, gollm reads it from the environment.
func NewGollmAdapter(provider string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no model configured for provider %q", provider),
		}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to RetryMiddleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	l, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("failed to create gollm LLM for provider %s", provider),
			Cause:   err,
		}}
	}

	return &GollmAdapter{
		provider: provider,
		llm:      l,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider, model string, l gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      l,
		model:    model,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "generation cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvent objects.
// Text is streamed when the model is not offered tools; tool-capable requests
// are generated in one piece so the tool call JSON can be parsed.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	ch := make(chan StreamEvent, 64)

	a.mu.Lock()
	a.applyRequestOptions(req)
	if len(req.Tools) > 0 || !a.llm.SupportsStreaming() {
		text, err := a.llm.Generate(ctx, prompt)
		a.mu.Unlock()
		if err != nil {
			return nil, a.translateError(err)
		}
		go func() {
			defer close(ch)
			resp := a.buildResponse(req, text)
			ch <- StreamEvent{Type: StreamStart}
			if t := resp.Text(); t != "" {
				ch <- StreamEvent{Type: TextDelta, Delta: t, TextID: "text_0"}
			}
			for _, tc := range resp.ToolCalls() {
				call := tc
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &call}
			}
			ch <- StreamEvent{Type: StreamFinish, FinishReason: &resp.FinishReason, Usage: &resp.Usage, Response: resp}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		textID := "text_0"
		started := false
		var fullText strings.Builder

		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			if !started {
				ch <- StreamEvent{Type: TextStart, TextID: textID}
				started = true
			}
			ch <- StreamEvent{Type: TextDelta, Delta: token.Text, TextID: textID}
			fullText.WriteString(token.Text)
		}

		if started {
			ch <- StreamEvent{Type: TextEnd, TextID: textID}
		}

		resp := a.buildResponse(req, fullText.String())
		ch <- StreamEvent{
			Type:         StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		}
	}()

	return ch, nil
}

// translateRequest flattens a Request into a gollm Prompt. gollm takes a
// single prompt, so prior turns are rendered as tagged transcript lines.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt []string
	var lines []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = append(systemPrompt, msg.TextContent())
		case RoleUser:
			lines = append(lines, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				lines = append(lines, "[Assistant]: "+text)
			}
			for _, tc := range msg.ToolCalls() {
				lines = append(lines, fmt.Sprintf("[Tool Call %s]: %s %s", tc.ID, tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				lines = append(lines, prefix+": "+string(part.ToolResult.Content))
			}
		}
	}

	if len(req.Tools) > 0 {
		systemPrompt = append(systemPrompt, toolCallInstruction)
	}

	promptText := strings.Join(lines, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if len(systemPrompt) > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(strings.Join(systemPrompt, "\n\n")), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a Response from generated text, recovering any
// tool calls the model wrote as JSON.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var calls []ToolCall
	remaining := text
	if len(req.Tools) > 0 {
		calls, remaining = parseToolCalls(text)
	}

	msg := AssistantToolCallMessage(strings.TrimSpace(remaining), calls)
	if len(msg.Content) == 0 {
		msg.Content = []ContentPart{TextPart(text)}
	}

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	input := estimateTokens(req)
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      msg,
		FinishReason: finishReason,
		// gollm does not expose usage; estimate from text length.
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: len(text) / 4,
			TotalTokens:  input + len(text)/4,
		},
	}
}

type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts a {"tool_calls":[...]} object or a bare
// [{"name":...}] array from text. It returns the calls and the text with the
// JSON removed.
func parseToolCalls(text string) ([]ToolCall, string) {
	for _, marker := range []string{`{"tool_calls"`, `[{"name"`} {
		start := strings.Index(text, marker)
		if start == -1 {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var raws []rawToolCall
		if marker == `{"tool_calls"` {
			var wrapper struct {
				ToolCalls []rawToolCall `json:"tool_calls"`
			}
			if err := dec.Decode(&wrapper); err != nil {
				continue
			}
			raws = wrapper.ToolCalls
		} else if err := dec.Decode(&raws); err != nil {
			continue
		}

		calls := make([]ToolCall, 0, len(raws))
		for _, rc := range raws {
			if rc.Name == "" {
				continue
			}
			args := rc.Arguments
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, ToolCall{
				ID:        "call_" + uuid.NewString()[:8],
				Name:      rc.Name,
				Arguments: args,
			})
		}
		end := start + int(dec.InputOffset())
		return calls, text[:start] + text[end:]
	}
	return nil, text
}

// statusPattern finds an HTTP error status in a gollm error message.
var statusPattern = regexp.MustCompile(`(?:^|\D)([45]\d{2})(?:\D|$)`)

// knownStatus lists the statuses ErrorFromStatusCode classifies. Other
// three-digit numbers in a message (ports, counts) are ignored.
var knownStatus = map[int]bool{
	400: true, 401: true, 403: true, 404: true, 408: true, 413: true,
	422: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

func statusIn(msg string) int {
	for _, m := range statusPattern.FindAllStringSubmatch(msg, -1) {
		if status, _ := strconv.Atoi(m[1]); knownStatus[status] {
			return status
		}
	}
	return 0
}

// networkHints mark transport failures that never reached the provider.
var networkHints = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"network is unreachable",
	"unexpected eof",
}

// translateError classifies gollm errors, which arrive as plain strings.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)
	pe := func(status int, retryable bool) ProviderError {
		return ProviderError{
			SDKError:   SDKError{Message: msg, Cause: err},
			Provider:   a.provider,
			StatusCode: status,
			Retryable:  retryable,
		}
	}

	switch {
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: pe(413, false)}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: pe(0, false)}
	}
	for _, hint := range networkHints {
		if strings.Contains(msgLower, hint) {
			return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
		}
	}
	if status := statusIn(msg); status != 0 {
		return errorFromStatus(status, msg, a.provider, nil, err)
	}

	switch {
	case strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: pe(401, false)}
	case strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: pe(403, false)}
	case strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: pe(404, false)}
	case strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: pe(429, true)}
	case strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: pe(500, true)}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		p := pe(0, true)
		return &p
	}
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
