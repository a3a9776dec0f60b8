package llms

// BaseOptions is shared by every prompt flavor.
type BaseOptions struct {
	Instructions string
	Turns        []Turn
}

// StreamingPromptOptions configures a streamed generation request.
type StreamingPromptOptions struct {
	BaseOptions
	Tools []Tool
}

// GeneralPromptOptions configures a one-shot generation request.
type GeneralPromptOptions struct {
	BaseOptions
}

type StreamingPromptOption interface {
	ApplyToStreaming(*StreamingPromptOptions)
}

type GeneralPromptOption interface {
	ApplyToGeneral(*GeneralPromptOptions)
}

// PromptOption applies to both streamed and one-shot prompts.
type PromptOption func(*BaseOptions)

func (f PromptOption) ApplyToStreaming(o *StreamingPromptOptions) { f(&o.BaseOptions) }
func (f PromptOption) ApplyToGeneral(o *GeneralPromptOptions)     { f(&o.BaseOptions) }

// WithSystemPrompt sets the system instructions. Repeating the option
// overwrites the previous value.
func WithSystemPrompt(prompt string) PromptOption {
	return func(o *BaseOptions) {
		o.Instructions = prompt
	}
}

// WithTurns appends prior turns as request context. Repeating the option
// appends more turns.
func WithTurns(turns ...Turn) PromptOption {
	return func(o *BaseOptions) {
		o.Turns = append(o.Turns, turns...)
	}
}

type streamingOption func(*StreamingPromptOptions)

func (f streamingOption) ApplyToStreaming(o *StreamingPromptOptions) { f(o) }

// WithTools declares the tools the model may call during a streamed prompt.
func WithTools(tools ...Tool) StreamingPromptOption {
	return streamingOption(func(o *StreamingPromptOptions) {
		o.Tools = append(o.Tools, tools...)
	})
}
