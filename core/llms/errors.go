package llms

import "fmt"

// ConfigurationError reports a missing or rejected credential. It is fatal
// for every operation until the credential is rotated, and is surfaced
// without a network attempt wherever it can be detected locally.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StreamInterruptionError terminates a chunk sequence that broke
// mid-generation. Fragments already delivered remain valid; the session
// records a synthetic turn and stays usable.
type StreamInterruptionError struct {
	Err error
}

func (e *StreamInterruptionError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamInterruptionError) Unwrap() error { return e.Err }

// ToolExecutionError describes a single failed tool call. It is captured
// per call and fed back to the model as result data; it never aborts the
// batch or the session.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PermissionDeniedError reports a failed audio-capture acquisition. It is
// terminal for the live session that hit it; a new attempt needs a fresh
// session.
type PermissionDeniedError struct {
	Err error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("audio capture denied: %v", e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// OperationFailedError is the terminal outcome of a long-running job that
// completed without a usable result, or whose polling transport failed.
type OperationFailedError struct {
	Operation string
	Reason    string
	Err       error
}

func (e *OperationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s failed: %s: %v", e.Operation, e.Reason, e.Err)
	}
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Reason)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }
