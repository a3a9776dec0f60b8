package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/matijarozman/muse-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrSendInFlight         = errors.New("a send is already being consumed on this conversation")
	ErrUnresolvedToolCalls  = errors.New("pending tool calls must be resolved before sending text")
	ErrNoPendingToolCalls   = errors.New("no pending tool calls to resolve")
	ErrIncompleteResolution = errors.New("resolution does not cover every pending tool call")
	ErrStreamConsumed       = errors.New("stream was already consumed")
	ErrConversationActive   = errors.New("a conversation with this id is already open")
)

type conversationPhase int32

const (
	phaseIdle conversationPhase = iota
	phaseStreaming
	phaseAwaitingTools
	phaseResuming
)

var (
	openConversationsMu sync.Mutex
	openConversations   = map[string]*Conversation{}
)

// Conversation is a stateful multi-turn text session. Turns accumulate in
// order; a model turn that requests tool calls leaves the conversation
// awaiting their resolution before any further text can be sent.
type Conversation struct {
	id         string
	credential *llms.Credential
	llm        StreamingLLM
	dispatcher *ToolDispatcher
	tools      []llms.Tool

	systemPrompt string
	history      HistoryStore
	historyKey   string

	mu           sync.RWMutex
	turns        []llms.Turn
	phase        conversationPhase
	pendingCalls []llms.ToolCall

	sending atomic.Bool
	closed  atomic.Bool
}

// NewConversation builds a conversation around a streaming client. The id
// claims an identity slot: while the conversation is open, constructing
// another one with the same id is refused.
func NewConversation(opts ...ConversationOption) (*Conversation, error) {
	conversation := &Conversation{}
	for _, opt := range opts {
		opt.applyToConversation(conversation)
	}

	if conversation.llm == nil {
		return nil, errors.New("a streaming client is required")
	}
	if conversation.id == "" {
		conversation.id = uuid.NewString()
	}
	if conversation.dispatcher == nil {
		conversation.dispatcher = NewToolDispatcher(conversation.tools...)
	} else if len(conversation.tools) == 0 {
		conversation.tools = conversation.dispatcher.Tools()
	} else {
		// Declared tools must be dispatchable when both are provided.
		conversation.dispatcher.Register(conversation.tools...)
	}

	if conversation.history != nil {
		if conversation.historyKey == "" {
			conversation.historyKey = conversation.id
		}
		turns, err := conversation.history.LoadTurns(context.Background(), conversation.historyKey)
		if err != nil {
			logger.Warn("failed to load conversation history",
				"key", conversation.historyKey, "error", err)
		} else {
			conversation.turns = append(conversation.turns, turns...)
		}
	}
	conversation.rederivePhase()

	openConversationsMu.Lock()
	defer openConversationsMu.Unlock()
	if _, open := openConversations[conversation.id]; open {
		return nil, ErrConversationActive
	}
	openConversations[conversation.id] = conversation

	return conversation, nil
}

// rederivePhase restores the awaiting-tools state when replayed turns end in
// a model turn with unresolved calls.
func (c *Conversation) rederivePhase() {
	if len(c.turns) == 0 {
		return
	}

	last := c.turns[len(c.turns)-1]
	if last.Role == llms.RoleModel && len(last.ToolCalls) > 0 {
		c.phase = phaseAwaitingTools
		c.pendingCalls = last.ToolCalls
	}
}

func (c *Conversation) ID() string { return c.id }

// Turns returns a snapshot copy of the conversation so far.
func (c *Conversation) Turns() []llms.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := make([]llms.Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

// Close releases the conversation's identity slot. It is idempotent and does
// not interrupt a stream that is already being consumed.
func (c *Conversation) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	openConversationsMu.Lock()
	defer openConversationsMu.Unlock()
	delete(openConversations, c.id)
}

// Input is one conversation submission: either prompt text or the resolution
// of previously requested tool calls.
type Input struct {
	text       string
	results    []llms.ToolResult
	resolution bool
}

// Text submits prompt text.
func Text(text string) Input {
	return Input{text: text}
}

// ToolResults submits the outcome of every pending tool call.
func ToolResults(results ...llms.ToolResult) Input {
	return Input{results: results, resolution: true}
}

// Send submits input and returns the lazy response stream. Nothing is
// transmitted until the stream is consumed; misuse (a send while another is
// being consumed, text while tool calls are pending, a resolution that does
// not cover every pending call) is reported through the stream.
//
// The stream is single-use: consuming it a second time yields
// ErrStreamConsumed.
func (c *Conversation) Send(_ context.Context, input Input) llms.Stream {
	return &conversationStream{conversation: c, input: input}
}

type conversationStream struct {
	conversation *Conversation
	input        Input
	consumed     atomic.Bool
}

func (s *conversationStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}

		s.conversation.run(ctx, s.input, yield)
	}
}

func (c *Conversation) run(ctx context.Context, input Input, yield func(llms.StreamChunk, error) bool) {
	if !c.sending.CompareAndSwap(false, true) {
		yield(nil, ErrSendInFlight)
		return
	}
	defer c.sending.Store(false)

	ctx, span := tracer.Start(ctx, "conversation turn")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", c.id))

	if c.credential != nil {
		if _, err := c.credential.Authorize(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
	}

	turns, prevPhase, prevPending, err := c.admit(input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(nil, err)
		return
	}
	span.SetAttributes(attribute.Int("request.turns", len(turns)))

	opts := []llms.StreamingPromptOption{llms.WithTurns(turns...)}
	if c.systemPrompt != "" {
		opts = append(opts, llms.WithSystemPrompt(c.systemPrompt))
	}
	if len(c.tools) > 0 {
		opts = append(opts, llms.WithTools(c.tools...))
	}

	stream := c.llm.PromptWithStream(ctx, nil, opts...)

	var content strings.Builder
	var calls []llms.ToolCall
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			var interruption *llms.StreamInterruptionError
			if errors.As(err, &interruption) {
				c.completeTurn(ctx, content.String(), nil, err.Error())
			} else {
				// The request never produced a sequence; undo the submission
				// so the same send can be retried.
				c.rollback(prevPhase, prevPending)
			}
			yield(nil, err)
			return
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			content.WriteString(chunk.Content())
		case llms.StreamToolCallChunk:
			calls = append(calls, chunk.ToolCall())
		}

		if !yield(chunk, nil) {
			c.completeTurn(ctx, content.String(), nil, "stream abandoned before completion")
			return
		}
	}

	c.completeTurn(ctx, content.String(), calls, "")
}

// admit validates input against the current phase and appends the
// corresponding turn. It returns the turn list to prompt with and the state
// to restore should the request fail before producing a sequence.
func (c *Conversation) admit(input Input) (turns []llms.Turn, prevPhase conversationPhase, prevPending []llms.ToolCall, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevPhase, prevPending = c.phase, c.pendingCalls

	if input.resolution {
		if c.phase != phaseAwaitingTools {
			return nil, 0, nil, ErrNoPendingToolCalls
		}
		if !covers(c.pendingCalls, input.results) {
			return nil, 0, nil, ErrIncompleteResolution
		}
		c.turns = append(c.turns, llms.NewResolutionTurn(input.results...))
		c.pendingCalls = nil
		c.phase = phaseResuming
	} else {
		if c.phase == phaseAwaitingTools {
			return nil, 0, nil, ErrUnresolvedToolCalls
		}
		c.turns = append(c.turns, llms.NewUserTurn(input.text))
	}
	c.phase = phaseStreaming

	turns = make([]llms.Turn, len(c.turns))
	copy(turns, c.turns)
	return turns, prevPhase, prevPending, nil
}

// covers reports whether the results resolve every pending call, matching by
// name with multiplicity.
func covers(pending []llms.ToolCall, results []llms.ToolResult) bool {
	outstanding := make(map[string]int, len(pending))
	for _, call := range pending {
		outstanding[call.Name]++
	}
	for _, result := range results {
		outstanding[result.Name]--
	}
	for _, count := range outstanding {
		if count > 0 {
			return false
		}
	}
	return true
}

// completeTurn appends the model turn that ends the current sequence. An
// interruption message marks the turn as synthetic: delivered fragments stay,
// and the conversation resets to idle.
func (c *Conversation) completeTurn(ctx context.Context, content string, calls []llms.ToolCall, interruption string) {
	c.mu.Lock()
	turn := llms.NewModelTurn(content, calls...)
	turn.Interruption = interruption
	c.turns = append(c.turns, turn)
	if len(calls) > 0 {
		c.pendingCalls = calls
		c.phase = phaseAwaitingTools
	} else {
		c.pendingCalls = nil
		c.phase = phaseIdle
	}
	turns := make([]llms.Turn, len(c.turns))
	copy(turns, c.turns)
	c.mu.Unlock()

	c.saveHistory(ctx, turns)
}

func (c *Conversation) rollback(phase conversationPhase, pending []llms.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = c.turns[:len(c.turns)-1]
	c.phase = phase
	c.pendingCalls = pending
}

func (c *Conversation) saveHistory(ctx context.Context, turns []llms.Turn) {
	if c.history == nil {
		return
	}

	if err := c.history.SaveTurns(ctx, c.historyKey, turns); err != nil {
		logger.WarnContext(ctx, "failed to save conversation history",
			"key", c.historyKey, "error", err)
	}
}
