package generation

import (
	"context"
	"strings"

	"github.com/matijarozman/muse-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RespondOptions carries the observation callbacks of a respond loop. All
// callbacks run on the consuming goroutine, in emission order.
type RespondOptions struct {
	onFragment   func(fragment string)
	onToolCall   func(call llms.ToolCall)
	onToolResult func(result llms.ToolResult)
}

type RespondOption func(*RespondOptions)

// WithFragmentCallback observes every text fragment as it streams in.
func WithFragmentCallback(callback func(fragment string)) RespondOption {
	return func(o *RespondOptions) { o.onFragment = callback }
}

// WithToolCallCallback observes every tool call the model requests.
func WithToolCallCallback(callback func(call llms.ToolCall)) RespondOption {
	return func(o *RespondOptions) { o.onToolCall = callback }
}

// WithToolResultCallback observes every dispatched tool result.
func WithToolResultCallback(callback func(result llms.ToolResult)) RespondOption {
	return func(o *RespondOptions) { o.onToolResult = callback }
}

// Respond drives a full response round: it streams the model's reply,
// dispatches any requested tool calls, feeds the results back, and repeats
// until a turn completes without calls. The returned response carries the
// final turn's text and every call executed along the way.
func (c *Conversation) Respond(ctx context.Context, prompt string, opts ...RespondOption) (*llms.Response, error) {
	options := RespondOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	span := trace.SpanFromContext(ctx)

	response := &llms.Response{}
	input := Text(prompt)
	for {
		var content strings.Builder
		var calls []llms.ToolCall

		stream := c.Send(ctx, input)
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				return nil, err
			}

			switch chunk := chunk.(type) {
			case llms.StreamContentChunk:
				content.WriteString(chunk.Content())
				if options.onFragment != nil {
					options.onFragment(chunk.Content())
				}
			case llms.StreamToolCallChunk:
				call := chunk.ToolCall()
				calls = append(calls, call)
				if options.onToolCall != nil {
					options.onToolCall(call)
				}
			}
		}

		response.Text = content.String()
		response.ToolCalls = append(response.ToolCalls, calls...)
		if len(calls) == 0 {
			return response, nil
		}

		span.AddEvent("dispatching tool calls", trace.WithAttributes(attribute.Int("tool.calls", len(calls))))
		results := c.dispatcher.Dispatch(ctx, calls)
		for _, result := range results {
			if options.onToolResult != nil {
				options.onToolResult(result)
			}
		}
		response.ToolResults = append(response.ToolResults, results...)
		input = ToolResults(results...)
	}
}
