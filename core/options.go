package generation

import (
	"context"
	"time"

	"github.com/matijarozman/muse-core/core/audio"
	"github.com/matijarozman/muse-core/core/llms"
)

// StreamingLLM produces incrementally streamed generation responses.
type StreamingLLM interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream
}

// AnalysisLLM produces one-shot responses, used for transcript analysis.
type AnalysisLLM interface {
	Prompt(ctx context.Context, prompt string, opts ...llms.GeneralPromptOption) (*llms.Response, error)
}

// LiveDialer opens duplex channels to the live transcription backend.
type LiveDialer interface {
	DialLive(ctx context.Context) (llms.LiveChannel, error)
}

// OperationRunner submits and observes long-running generation jobs.
type OperationRunner interface {
	SubmitOperation(ctx context.Context, request llms.JobRequest) (llms.Operation, error)
	PollOperation(ctx context.Context, operation llms.Operation) (llms.OperationStatus, error)
}

// CaptureDevice is a microphone-like audio source. Stream blocks until the
// context is cancelled, invoking onAudio with raw PCM chunks as they arrive.
type CaptureDevice interface {
	EncodingInfo() audio.EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// CaptureControls is implemented by capture devices that support explicit
// start/stop control in addition to Stream.
type CaptureControls interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

type ConversationOption interface {
	applyToConversation(*Conversation)
}

type LiveSessionOption interface {
	applyToLiveSession(*LiveSession)
}

type JobPollerOption interface {
	applyToJobPoller(*JobPoller)
}

// Option configures any facade in this package.
type Option interface {
	ConversationOption
	LiveSessionOption
	JobPollerOption
}

type conversationOption func(*Conversation)

func (f conversationOption) applyToConversation(c *Conversation) { f(c) }

type liveSessionOption func(*LiveSession)

func (f liveSessionOption) applyToLiveSession(s *LiveSession) { f(s) }

type jobPollerOption func(*JobPoller)

func (f jobPollerOption) applyToJobPoller(p *JobPoller) { f(p) }

type credentialOption struct {
	credential *llms.Credential
}

func (o credentialOption) applyToConversation(c *Conversation) { c.credential = o.credential }
func (o credentialOption) applyToLiveSession(s *LiveSession)   { s.credential = o.credential }
func (o credentialOption) applyToJobPoller(p *JobPoller)       { p.credential = o.credential }

// WithCredential attaches the credential gate. Operations on a facade with a
// credential fail fast while the gate is not ready, before any remote call.
func WithCredential(credential *llms.Credential) Option {
	return credentialOption{credential: credential}
}

func WithStreamingLLM(client StreamingLLM) ConversationOption {
	return conversationOption(func(c *Conversation) { c.llm = client })
}

func WithDispatcher(dispatcher *ToolDispatcher) ConversationOption {
	return conversationOption(func(c *Conversation) { c.dispatcher = dispatcher })
}

func WithTools(tools ...llms.Tool) ConversationOption {
	return conversationOption(func(c *Conversation) { c.tools = append(c.tools, tools...) })
}

func WithSystemPrompt(prompt string) ConversationOption {
	return conversationOption(func(c *Conversation) { c.systemPrompt = prompt })
}

// WithSeedTurns replays prior turns into the conversation verbatim, without
// re-validation.
func WithSeedTurns(turns ...llms.Turn) ConversationOption {
	return conversationOption(func(c *Conversation) { c.turns = append(c.turns, turns...) })
}

// WithHistoryStore loads seed turns from the store on construction and saves
// the turn list after every completed model turn.
func WithHistoryStore(store HistoryStore, key string) ConversationOption {
	return conversationOption(func(c *Conversation) {
		c.history = store
		c.historyKey = key
	})
}

func WithConversationID(id string) ConversationOption {
	return conversationOption(func(c *Conversation) { c.id = id })
}

func WithLiveChannel(dialer LiveDialer) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) { s.dialer = dialer })
}

func WithCapture(device CaptureDevice) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) { s.capture = device })
}

// WithLiveEventCallback registers a callback for every session event. The
// callback runs on the session's event goroutine and should not block.
func WithLiveEventCallback(callback func(llms.LiveEvent)) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) {
		if callback != nil {
			s.onEvent = callback
		}
	})
}

func WithAnalysisLLM(client AnalysisLLM) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) { s.analysisLLM = client })
}

// WithMinAnalysisLength sets the transcript length (in runes) below which
// Analyze rejects locally without a remote call.
func WithMinAnalysisLength(length int) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) {
		if length > 0 {
			s.minAnalysisLength = length
		}
	})
}

// WithFrameBufferSize bounds the outbound frame channel. When the sender
// falls behind, frames beyond the bound are dropped rather than blocking the
// capture callback.
func WithFrameBufferSize(size int) LiveSessionOption {
	return liveSessionOption(func(s *LiveSession) {
		if size > 0 {
			s.frameBufferSize = size
		}
	})
}

func WithOperationRunner(runner OperationRunner) JobPollerOption {
	return jobPollerOption(func(p *JobPoller) { p.runner = runner })
}

// WithPollInterval sets the fixed delay between status polls.
func WithPollInterval(interval time.Duration) JobPollerOption {
	return jobPollerOption(func(p *JobPoller) {
		if interval > 0 {
			p.interval = interval
		}
	})
}
