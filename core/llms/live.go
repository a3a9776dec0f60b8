package llms

// MediaFrame is one encoded audio frame in the live channel's wire format:
// a base64 payload tagged with its mime type, e.g. "audio/pcm;rate=16000".
type MediaFrame struct {
	MimeType string
	Data     string
}

// LiveChannel is a connected duplex channel to the live transcription
// backend. SendFrame and Close may be called from different goroutines than
// the one draining Events.
type LiveChannel interface {
	// SendFrame transmits one encoded audio frame.
	SendFrame(frame MediaFrame) error
	// Events delivers inbound channel events. The channel is closed after a
	// terminal LiveClosed or LiveError event.
	Events() <-chan LiveEvent
	// Close tears the channel down. It is safe to call more than once.
	Close() error
}

// LiveEvent is one event of a live audio session. The concrete types form a
// closed set: LiveOpened, LiveTranscript, LiveError and LiveClosed.
type LiveEvent interface {
	liveEvent()
}

// LiveOpened reports that the remote channel acknowledged readiness.
type LiveOpened struct{}

// LiveTranscript carries one incremental transcription fragment. Fragments
// are strictly additive; a delivered fragment is never retracted.
type LiveTranscript struct {
	Fragment string
}

// LiveError reports a channel fault. It is terminal for the session.
type LiveError struct {
	Err error
}

// LiveClosed reports that the channel closed, cleanly or after a fault.
type LiveClosed struct {
	Reason string
}

func (LiveOpened) liveEvent()     {}
func (LiveTranscript) liveEvent() {}
func (LiveError) liveEvent()      {}
func (LiveClosed) liveEvent()     {}
