package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/matijarozman/muse-core/core/audio"
	"github.com/matijarozman/muse-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrSessionActive      = errors.New("another live session is already active")
	ErrSessionNotIdle     = errors.New("the live session was already started")
	ErrTranscriptTooShort = errors.New("transcript is too short to analyze")
)

const (
	// DefaultMinAnalysisLength is the transcript length, in runes, below
	// which analysis is rejected without a remote call.
	DefaultMinAnalysisLength = 20
	// DefaultFrameBufferSize bounds the outbound frame channel, about four
	// seconds of audio at the default framing.
	DefaultFrameBufferSize = 16
)

const defaultAnalysisPrompt = "You are reviewing the transcript of a live voice session. " +
	"Summarize the key points and call out any action items."

// One live session holds the capture device and the duplex channel at a
// time; a new session refuses to start until the prior one fully closed.
var liveSessionActive atomic.Bool

// SessionState is the lifecycle state of a live session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateOpen
	StateStreaming
	StateClosing
	StateClosed
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// LiveSession streams captured audio to the live transcription backend and
// accumulates the transcript it sends back. A session runs at most once:
// Start through Stop, after which a new session must be built.
type LiveSession struct {
	credential  *llms.Credential
	dialer      LiveDialer
	capture     CaptureDevice
	analysisLLM AnalysisLLM
	onEvent     func(llms.LiveEvent)

	minAnalysisLength int
	frameBufferSize   int

	state   atomic.Int32
	dropped atomic.Int64

	mu          sync.Mutex
	fragments   []string
	channel     llms.LiveChannel
	encoder     *audio.FrameEncoder
	frames      chan llms.MediaFrame
	senderDone  chan struct{}
	stopCapture func() error

	stopOnce sync.Once
	stopErr  error
}

func NewLiveSession(opts ...LiveSessionOption) (*LiveSession, error) {
	session := &LiveSession{
		minAnalysisLength: DefaultMinAnalysisLength,
		frameBufferSize:   DefaultFrameBufferSize,
	}
	for _, opt := range opts {
		opt.applyToLiveSession(session)
	}

	if session.dialer == nil {
		return nil, errors.New("a live channel dialer is required")
	}
	if session.capture == nil {
		return nil, errors.New("a capture device is required")
	}
	return session, nil
}

func (s *LiveSession) State() SessionState {
	return SessionState(s.state.Load())
}

// DroppedFrames reports how many frames were discarded because the sender
// fell behind the capture device.
func (s *LiveSession) DroppedFrames() int64 {
	return s.dropped.Load()
}

// Transcript returns the fragments received so far, joined in receipt order.
func (s *LiveSession) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.fragments, " ")
}

// Start acquires the capture device, connects the duplex channel and begins
// streaming. No frame is transmitted before the remote acknowledges
// readiness. A capture acquisition failure is terminal for this session and
// surfaces as a PermissionDeniedError.
func (s *LiveSession) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrSessionNotIdle
	}
	if !liveSessionActive.CompareAndSwap(false, true) {
		s.state.Store(int32(StateIdle))
		return ErrSessionActive
	}

	ctx, span := tracer.Start(ctx, "starting live session")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.teardown(StateError)
		return err
	}

	if s.credential != nil {
		if _, err := s.credential.Authorize(); err != nil {
			return fail(err)
		}
	}

	captureCtx, cancelCapture := context.WithCancel(context.Background())
	s.mu.Lock()
	s.encoder = audio.NewFrameEncoder(s.capture.EncodingInfo(), audio.DefaultFrameSamples)
	s.frames = make(chan llms.MediaFrame, s.frameBufferSize)
	s.mu.Unlock()

	if controls, ok := s.capture.(CaptureControls); ok {
		if err := controls.StartCapture(captureCtx, s.onCapturedAudio); err != nil {
			cancelCapture()
			return fail(&llms.PermissionDeniedError{Err: err})
		}
		s.setStopCapture(func() error {
			err := controls.StopCapture()
			cancelCapture()
			return err
		})
	} else {
		captureDone := make(chan struct{})
		go func() {
			defer close(captureDone)
			if err := s.capture.Stream(captureCtx, s.onCapturedAudio); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("audio capture stream ended", "error", err)
			}
		}()
		s.setStopCapture(func() error {
			cancelCapture()
			<-captureDone
			return nil
		})
	}

	channel, err := s.dialer.DialLive(ctx)
	if err != nil {
		return fail(err)
	}
	s.mu.Lock()
	s.channel = channel
	s.senderDone = make(chan struct{})
	s.mu.Unlock()

	s.state.Store(int32(StateOpen))
	s.emit(llms.LiveOpened{})

	go s.sendFrames(channel)
	go s.consumeEvents(channel)

	s.state.Store(int32(StateStreaming))
	span.SetAttributes(attribute.String("session.state", s.State().String()))
	return nil
}

// Stop tears the session down: capture device first, then the encoder
// pipeline, then the remote channel. It is idempotent, and safe to race with
// a remote close.
func (s *LiveSession) Stop() error {
	if s.State() == StateIdle {
		return nil
	}

	s.teardown(StateClosed)
	return s.stopErr
}

// teardown runs the ordered shutdown exactly once, regardless of initiator.
// It must never wait on the events goroutine, which calls it on remote
// close.
func (s *LiveSession) teardown(finalState SessionState) {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateClosing))

		s.mu.Lock()
		stopCapture := s.stopCapture
		frames := s.frames
		senderDone := s.senderDone
		channel := s.channel
		s.mu.Unlock()

		var errs []error
		// Quiesce the producer before disconnecting the pipeline; the
		// capture callback must not outlive its frame channel.
		if stopCapture != nil {
			if err := stopCapture(); err != nil {
				errs = append(errs, err)
			}
		}
		if frames != nil {
			close(frames)
		}
		if senderDone != nil {
			<-senderDone
		}
		s.capture.Close()
		if channel != nil {
			if err := channel.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		s.stopErr = errors.Join(errs...)
		s.state.Store(int32(finalState))
		liveSessionActive.Store(false)
	})
}

func (s *LiveSession) setStopCapture(stop func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCapture = stop
}

// onCapturedAudio is the sole producer: it encodes raw PCM into frames and
// enqueues them without blocking. When the sender falls behind, the frame on
// offer is dropped and counted.
func (s *LiveSession) onCapturedAudio(pcm []byte) {
	if s.State() != StateStreaming {
		return
	}

	for _, frame := range s.encoder.Push(pcm) {
		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

// sendFrames drains the frame channel onto the wire. On a send failure it
// stops transmitting and leaves shutdown to the fault the read side will
// report.
func (s *LiveSession) sendFrames(channel llms.LiveChannel) {
	defer close(s.senderDone)

	for frame := range s.frames {
		if err := channel.SendFrame(frame); err != nil {
			logger.Warn("failed to transmit audio frame", "error", err)
			return
		}
	}
}

func (s *LiveSession) consumeEvents(channel llms.LiveChannel) {
	for event := range channel.Events() {
		if transcript, ok := event.(llms.LiveTranscript); ok {
			s.appendFragment(transcript.Fragment)
		}
		s.emit(event)

		switch typed := event.(type) {
		case llms.LiveError:
			logger.Warn("live channel fault", "error", typed.Err)
			s.teardown(StateError)
			return
		case llms.LiveClosed:
			s.teardown(StateClosed)
			return
		}
	}
}

func (s *LiveSession) appendFragment(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, fragment)
}

func (s *LiveSession) emit(event llms.LiveEvent) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

// Analyze sends the accumulated transcript for a one-shot review. A
// transcript shorter than the minimum analysis length is rejected locally,
// without a remote call.
func (s *LiveSession) Analyze(ctx context.Context, opts ...llms.GeneralPromptOption) (string, error) {
	if s.analysisLLM == nil {
		return "", errors.New("an analysis client is required")
	}

	transcript := s.Transcript()
	if utf8.RuneCountInString(transcript) < s.minAnalysisLength {
		return "", ErrTranscriptTooShort
	}

	ctx, span := tracer.Start(ctx, "analyzing transcript")
	defer span.End()
	span.SetAttributes(attribute.Int("transcript.length", len(transcript)))

	if s.credential != nil {
		if _, err := s.credential.Authorize(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	opts = append([]llms.GeneralPromptOption{llms.WithSystemPrompt(defaultAnalysisPrompt)}, opts...)
	response, err := s.analysisLLM.Prompt(ctx, transcript, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return response.Text, nil
}
