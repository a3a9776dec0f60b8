package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/matijarozman/muse-core/core/llms"
	"github.com/matijarozman/muse-core/internal/utils"
)

const streamChunkPrefix = "data: "

// PromptWithStream prepares a streamed generation request. The request is not
// sent until the returned stream is consumed through Chunks.
func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt.ApplyToStreaming(&options)
	}

	stream := &Stream{
		client:   c,
		model:    c.model,
		contents: translateTurns(options.Turns, prompt),
		system:   systemContent(options.Instructions),
		tools:    translateTools(options.Tools),
	}
	return stream
}

// Stream is a lazily executed streamed generation request. Chunks may be
// called multiple times, each call issues a fresh request.
type Stream struct {
	client *Client

	model    string
	contents []content
	system   *content
	tools    []tool
}

// Chunks returns an iterator over the response chunks. Consumption stops when
// the yield function returns false, the response ends, or an error is yielded.
// Transport failures after the stream opened are reported as
// llms.StreamInterruptionError so partial output can be preserved.
func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompting gemini stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", s.model),
			attribute.Int("request.contents", len(s.contents)),
			attribute.Int("request.available_tools", availableTools(s.tools)),
		)

		request := generateContentRequest{
			Contents:          s.contents,
			SystemInstruction: s.system,
			Tools:             s.tools,
		}
		if len(s.tools) > 0 {
			request.ToolConfig = &toolConfig{
				FunctionCallingConfig: &functionCallingConfig{Mode: "AUTO"},
			}
		}

		body, err := s.client.doStreamRequest(ctx, "/models/"+s.model+":streamGenerateContent?alt=sse", request)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream request failed")
			yield(nil, err)
			return
		}
		defer body.Close()
		span.AddEvent("stream opened")

		scanner := bufio.NewScanner(body)
		// Single chunks can exceed bufio's default token size.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), streamChunkPrefix))
			if line == "" {
				continue
			}

			var chunk generateContentResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				interruption := &llms.StreamInterruptionError{Err: err}
				span.RecordError(interruption)
				span.SetStatus(codes.Error, "malformed stream chunk")
				yield(nil, interruption)
				return
			}

			if !yieldChunk(yield, chunk) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			interruption := &llms.StreamInterruptionError{Err: err}
			span.RecordError(interruption)
			span.SetStatus(codes.Error, "stream interrupted")
			yield(nil, interruption)
		}
	}
}

func yieldChunk(yield func(llms.StreamChunk, error) bool, chunk generateContentResponse) bool {
	var finishReason *string
	var parts []part
	if len(chunk.Candidates) > 0 {
		first := chunk.Candidates[0]
		if first.FinishReason != "" {
			finishReason = utils.Ptr(first.FinishReason)
		}
		if first.Content != nil {
			parts = first.Content.Parts
		}
	}

	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			call := llms.ToolCall{
				ID:        uuid.NewString(),
				Name:      p.FunctionCall.Name,
				Arguments: p.FunctionCall.Args,
			}
			if !yield(StreamToolCallChunk{finishReason: finishReason, toolCall: call}, nil) {
				return false
			}
		case p.Text != "":
			if !yield(StreamContentChunk{finishReason: finishReason, content: p.Text}, nil) {
				return false
			}
		}
	}

	// A chunk can close the stream without carrying any parts.
	if len(parts) == 0 && finishReason != nil {
		if !yield(StreamContentChunk{finishReason: finishReason}, nil) {
			return false
		}
	}

	if chunk.UsageMetadata != nil && finishReason != nil {
		usage := llms.Usage{
			InputTokens:  chunk.UsageMetadata.PromptTokenCount,
			OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  chunk.UsageMetadata.TotalTokenCount,
		}
		if !yield(StreamUsageChunk{finishReason: finishReason, usage: usage}, nil) {
			return false
		}
	}
	return true
}

func availableTools(tools []tool) int {
	count := 0
	for _, t := range tools {
		count += len(t.FunctionDeclarations)
	}
	return count
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (s StreamToolCallChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamToolCallChunk) ToolCall() llms.ToolCall {
	return s.toolCall
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
