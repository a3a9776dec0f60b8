package llms

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one logical message in a conversation session.
type Turn struct {
	ID   string
	Role Role

	// Text is the prompt for user turns and the generated reply for model
	// turns.
	Text string

	// ToolCalls holds the calls a model turn requested. A model turn whose
	// calls are not yet resolved is not a completed turn.
	ToolCalls []ToolCall

	// ToolResults marks a resolution turn: a user-role turn carrying the
	// outcome of every call the preceding model turn requested.
	ToolResults []ToolResult

	// Interruption carries the failure description of a synthetic turn
	// appended when a stream breaks mid-generation. Text retains whatever
	// fragments were delivered before the break.
	Interruption string

	CreatedAt time.Time
}

// IsResolution reports whether the turn resolves a preceding model turn's
// tool calls.
func (t Turn) IsResolution() bool {
	return len(t.ToolResults) > 0
}

// NewUserTurn builds a user turn carrying prompt text.
func NewUserTurn(text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewModelTurn builds a model turn from generated text and any tool calls the
// model requested while producing it.
func NewModelTurn(text string, toolCalls ...ToolCall) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		Text:      text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
}

// NewResolutionTurn builds the user-role turn that feeds tool results back
// into the conversation.
func NewResolutionTurn(results ...ToolResult) Turn {
	return Turn{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
}

// ToolCall is a model-issued request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the normalized outcome of one tool call. Exactly one of
// Result and Err is meaningful; a failed call is surfaced back to the model
// as data, never as a Go error.
type ToolResult struct {
	Name   string
	Result string
	Err    string
}

// Response is the final outcome of one completed model turn, or of a full
// stream/tool-call round when produced by a high-level respond loop.
type Response struct {
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// JobRequest describes a long-running generation job.
type JobRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
}

// Operation is the opaque handle of a submitted long-running job.
type Operation struct {
	Name string
}

// OperationStatus is one observation of a long-running job.
type OperationStatus struct {
	Done bool
	// Artifact is set once the job completed with an extractable result.
	Artifact *Artifact
	// Failure carries the remote failure description of a job that completed
	// unsuccessfully.
	Failure string
}

// Artifact references a generated result, retrievable as a byte stream.
type Artifact struct {
	URI      string
	MimeType string
}
