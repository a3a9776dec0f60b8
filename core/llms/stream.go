package llms

import "context"

// Stream is a lazy sequence of response chunks. Chunks returns a push
// iterator; iteration drives the underlying network read, so abandoning the
// loop abandons the stream.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

// StreamContentChunk carries a text fragment. Fragments concatenate in
// emission order to reconstruct the full turn text.
type StreamContentChunk interface {
	StreamChunk
	Content() string
}

// StreamToolCallChunk carries one tool call requested mid-stream.
type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}

// StreamUsageChunk carries token accounting, when the backend reports it.
type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
