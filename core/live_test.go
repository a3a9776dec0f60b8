package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matijarozman/muse-core/core/audio"
	"github.com/matijarozman/muse-core/core/llms"
)

func TestLiveSessionStreamsCapturedAudio(t *testing.T) {
	channel := newFakeLiveChannel()
	capture := &controlledCapture{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	defer session.Stop()

	if state := session.State(); state != StateStreaming {
		t.Fatalf("expected streaming state, got %v", state)
	}

	capture.push(pcmWindow())
	waitForCondition(t, 2*time.Second, "the frame to reach the channel", func() bool {
		return len(channel.sentFrames()) == 1
	})

	frame := channel.sentFrames()[0]
	if frame.MimeType != "audio/pcm;rate=16000" {
		t.Fatalf("expected the pcm mime tag, got %q", frame.MimeType)
	}
	if frame.Data == "" {
		t.Fatalf("expected an encoded payload")
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("expected a clean stop, got %v", err)
	}
	if state := session.State(); state != StateClosed {
		t.Fatalf("expected closed state, got %v", state)
	}
	if capture.stops() != 1 || capture.closes() != 1 {
		t.Fatalf("expected the capture device to be stopped and closed, got %d/%d",
			capture.stops(), capture.closes())
	}
	if !channel.isClosed() {
		t.Fatalf("expected the remote channel to be closed")
	}
}

func TestLiveSessionAccumulatesTranscript(t *testing.T) {
	channel := newFakeLiveChannel()
	events := &eventRecorder{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(&controlledCapture{}),
		WithLiveEventCallback(events.record),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	defer session.Stop()

	channel.emit(llms.LiveTranscript{Fragment: "the first"})
	channel.emit(llms.LiveTranscript{Fragment: "fragment"})

	waitForCondition(t, 2*time.Second, "the transcript to accumulate", func() bool {
		return session.Transcript() == "the first fragment"
	})

	recorded := events.recorded()
	if len(recorded) < 3 {
		t.Fatalf("expected opened and transcript events, got %d", len(recorded))
	}
	if _, ok := recorded[0].(llms.LiveOpened); !ok {
		t.Fatalf("expected the first event to be LiveOpened, got %T", recorded[0])
	}
}

func TestLiveSessionRemoteCloseTearsDown(t *testing.T) {
	channel := newFakeLiveChannel()
	capture := &controlledCapture{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	channel.emit(llms.LiveClosed{Reason: "going away"})
	waitForCondition(t, 2*time.Second, "the remote close to tear the session down", func() bool {
		return session.State() == StateClosed
	})

	if err := session.Stop(); err != nil {
		t.Fatalf("expected stop after remote close to be a no-op, got %v", err)
	}
	if capture.stops() != 1 || capture.closes() != 1 {
		t.Fatalf("expected a single teardown, got %d stops and %d closes",
			capture.stops(), capture.closes())
	}
}

func TestLiveSessionRemoteFaultEndsInError(t *testing.T) {
	channel := newFakeLiveChannel()
	events := &eventRecorder{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(&controlledCapture{}),
		WithLiveEventCallback(events.record),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	channel.emit(llms.LiveError{Err: errors.New("quota exhausted")})
	waitForCondition(t, 2*time.Second, "the fault to end the session", func() bool {
		return session.State() == StateError
	})

	session.Stop()
	if state := session.State(); state != StateError {
		t.Fatalf("expected the error state to stick, got %v", state)
	}
}

func TestLiveSessionStopIsIdempotent(t *testing.T) {
	channel := newFakeLiveChannel()
	capture := &controlledCapture{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("expected the first stop to succeed, got %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("expected the second stop to be a no-op, got %v", err)
	}
	if capture.stops() != 1 {
		t.Fatalf("expected the device to be stopped once, got %d", capture.stops())
	}
}

func TestSecondSessionRefusedWhileActive(t *testing.T) {
	first, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
	)
	if err != nil {
		t.Fatalf("expected first session to build, got %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("expected first session to start, got %v", err)
	}

	second, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
	)
	if err != nil {
		t.Fatalf("expected second session to build, got %v", err)
	}
	if err := second.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if state := second.State(); state != StateIdle {
		t.Fatalf("expected the refused session to stay idle, got %v", state)
	}

	if err := first.Stop(); err != nil {
		t.Fatalf("expected first session to stop, got %v", err)
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("expected the slot to free up, got %v", err)
	}
	second.Stop()
}

func TestLiveSessionStartsAtMostOnce(t *testing.T) {
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	defer session.Stop()

	if err := session.Start(context.Background()); !errors.Is(err, ErrSessionNotIdle) {
		t.Fatalf("expected ErrSessionNotIdle, got %v", err)
	}
}

func TestCaptureDenialIsTerminal(t *testing.T) {
	capture := &controlledCapture{startErr: errors.New("device busy")}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	var denied *llms.PermissionDeniedError
	if err := session.Start(context.Background()); !errors.As(err, &denied) {
		t.Fatalf("expected a permission denial, got %v", err)
	}
	if state := session.State(); state != StateError {
		t.Fatalf("expected error state, got %v", state)
	}

	// The failed session must release the active-session slot.
	next, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
	)
	if err != nil {
		t.Fatalf("expected next session to build, got %v", err)
	}
	if err := next.Start(context.Background()); err != nil {
		t.Fatalf("expected the slot to be free after denial, got %v", err)
	}
	next.Stop()
}

func TestDialFailureTearsDownCapture(t *testing.T) {
	capture := &controlledCapture{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{err: errors.New("connection refused")}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err == nil {
		t.Fatalf("expected the dial failure to surface")
	}
	if state := session.State(); state != StateError {
		t.Fatalf("expected error state, got %v", state)
	}
	if capture.stops() != 1 || capture.closes() != 1 {
		t.Fatalf("expected the capture device to be released, got %d/%d",
			capture.stops(), capture.closes())
	}
}

func TestDroppedFrameAccounting(t *testing.T) {
	channel := newFakeLiveChannel()
	channel.sending = make(chan struct{}, 8)
	channel.gate = make(chan struct{})
	capture := &controlledCapture{}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(capture),
		WithFrameBufferSize(1),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	defer session.Stop()

	// First frame occupies the sender, which blocks on the gate.
	capture.push(pcmWindow())
	select {
	case <-channel.sending:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the sender to pick up the first frame")
	}

	// Second frame fills the bounded channel; the third has nowhere to go.
	capture.push(pcmWindow())
	capture.push(pcmWindow())

	waitForCondition(t, 2*time.Second, "the overflow frame to be dropped", func() bool {
		return session.DroppedFrames() == 1
	})

	close(channel.gate)
	waitForCondition(t, 2*time.Second, "the buffered frames to drain", func() bool {
		return len(channel.sentFrames()) == 2
	})
}

func TestStreamingCaptureDevice(t *testing.T) {
	channel := newFakeLiveChannel()
	capture := newStreamingCapture()
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: channel}),
		WithCapture(capture),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	capture.pcm <- pcmWindow()
	waitForCondition(t, 2*time.Second, "the frame to reach the channel", func() bool {
		return len(channel.sentFrames()) == 1
	})

	if err := session.Stop(); err != nil {
		t.Fatalf("expected a clean stop, got %v", err)
	}
	if !capture.isClosed() {
		t.Fatalf("expected the capture device to be closed")
	}
}

func TestAnalyzeRejectsShortTranscriptLocally(t *testing.T) {
	analysis := &analysisLLMStub{response: "summary"}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
		WithAnalysisLLM(analysis),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	session.appendFragment("too short")
	if _, err := session.Analyze(context.Background()); !errors.Is(err, ErrTranscriptTooShort) {
		t.Fatalf("expected ErrTranscriptTooShort, got %v", err)
	}
	if len(analysis.promptLog()) != 0 {
		t.Fatalf("expected no remote call for a short transcript, got %d", len(analysis.promptLog()))
	}
}

func TestAnalyzeSendsAccumulatedTranscript(t *testing.T) {
	analysis := &analysisLLMStub{response: "three action items"}
	session, err := NewLiveSession(
		WithLiveChannel(stubDialer{channel: newFakeLiveChannel()}),
		WithCapture(&controlledCapture{}),
		WithAnalysisLLM(analysis),
	)
	if err != nil {
		t.Fatalf("expected session to build, got %v", err)
	}

	session.appendFragment("we walked through the roadmap")
	session.appendFragment("and agreed on next steps")

	result, err := session.Analyze(context.Background())
	if err != nil {
		t.Fatalf("expected analysis to succeed, got %v", err)
	}
	if result != "three action items" {
		t.Fatalf("expected the analysis text, got %q", result)
	}

	prompts := analysis.promptLog()
	if len(prompts) != 1 {
		t.Fatalf("expected one remote call, got %d", len(prompts))
	}
	if prompts[0] != "we walked through the roadmap and agreed on next steps" {
		t.Fatalf("expected the joined transcript as prompt, got %q", prompts[0])
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

func pcmWindow() []byte {
	return make([]byte, audio.DefaultFrameSamples*2)
}

type stubDialer struct {
	channel llms.LiveChannel
	err     error
}

func (stub stubDialer) DialLive(context.Context) (llms.LiveChannel, error) {
	return stub.channel, stub.err
}

type fakeLiveChannel struct {
	mu     sync.Mutex
	frames []llms.MediaFrame
	events chan llms.LiveEvent
	closed atomic.Bool

	// sending signals every SendFrame entry; gate, when set, blocks sends
	// until released.
	sending chan struct{}
	gate    chan struct{}
}

func newFakeLiveChannel() *fakeLiveChannel {
	return &fakeLiveChannel{events: make(chan llms.LiveEvent, 8)}
}

func (channel *fakeLiveChannel) SendFrame(frame llms.MediaFrame) error {
	if channel.sending != nil {
		channel.sending <- struct{}{}
	}
	if channel.gate != nil {
		<-channel.gate
	}

	channel.mu.Lock()
	defer channel.mu.Unlock()
	channel.frames = append(channel.frames, frame)
	return nil
}

func (channel *fakeLiveChannel) Events() <-chan llms.LiveEvent {
	return channel.events
}

func (channel *fakeLiveChannel) Close() error {
	if channel.closed.CompareAndSwap(false, true) {
		close(channel.events)
	}
	return nil
}

func (channel *fakeLiveChannel) emit(event llms.LiveEvent) {
	channel.events <- event
}

func (channel *fakeLiveChannel) isClosed() bool {
	return channel.closed.Load()
}

func (channel *fakeLiveChannel) sentFrames() []llms.MediaFrame {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	frames := make([]llms.MediaFrame, len(channel.frames))
	copy(frames, channel.frames)
	return frames
}

type controlledCapture struct {
	mu         sync.Mutex
	onAudio    func([]byte)
	startErr   error
	stopCount  int
	closeCount int
}

func (capture *controlledCapture) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (capture *controlledCapture) Stream(ctx context.Context, _ func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (capture *controlledCapture) StartCapture(_ context.Context, onAudio func([]byte)) error {
	capture.mu.Lock()
	defer capture.mu.Unlock()

	if capture.startErr != nil {
		return capture.startErr
	}
	capture.onAudio = onAudio
	return nil
}

func (capture *controlledCapture) StopCapture() error {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	capture.onAudio = nil
	capture.stopCount++
	return nil
}

func (capture *controlledCapture) Close() {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	capture.closeCount++
}

func (capture *controlledCapture) push(pcm []byte) {
	capture.mu.Lock()
	onAudio := capture.onAudio
	capture.mu.Unlock()

	if onAudio != nil {
		onAudio(pcm)
	}
}

func (capture *controlledCapture) stops() int {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	return capture.stopCount
}

func (capture *controlledCapture) closes() int {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	return capture.closeCount
}

type streamingCapture struct {
	pcm    chan []byte
	closed atomic.Bool
}

func newStreamingCapture() *streamingCapture {
	return &streamingCapture{pcm: make(chan []byte, 4)}
}

func (capture *streamingCapture) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (capture *streamingCapture) Stream(ctx context.Context, onAudio func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-capture.pcm:
			onAudio(data)
		}
	}
}

func (capture *streamingCapture) Close() {
	capture.closed.Store(true)
}

func (capture *streamingCapture) isClosed() bool {
	return capture.closed.Load()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []llms.LiveEvent
}

func (recorder *eventRecorder) record(event llms.LiveEvent) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.events = append(recorder.events, event)
}

func (recorder *eventRecorder) recorded() []llms.LiveEvent {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	events := make([]llms.LiveEvent, len(recorder.events))
	copy(events, recorder.events)
	return events
}

type analysisLLMStub struct {
	mu       sync.Mutex
	prompts  []string
	response string
}

func (stub *analysisLLMStub) Prompt(_ context.Context, prompt string, _ ...llms.GeneralPromptOption) (*llms.Response, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.prompts = append(stub.prompts, prompt)
	return &llms.Response{Text: stub.response}, nil
}

func (stub *analysisLLMStub) promptLog() []string {
	stub.mu.Lock()
	defer stub.mu.Unlock()

	prompts := make([]string, len(stub.prompts))
	copy(prompts, stub.prompts)
	return prompts
}
