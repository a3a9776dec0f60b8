package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matijarozman/muse-core/core/llms"
)

const (
	livePath             = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	liveHandshakeTimeout = 10 * time.Second
)

// ErrChannelClosed is returned by SendFrame after the channel closed.
var ErrChannelClosed = errors.New("live channel is closed")

type liveClientMessage struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	RealtimeInput *liveRealtimeInput `json:"realtimeInput,omitempty"`
}

type liveSetup struct {
	Model                   string                   `json:"model"`
	GenerationConfig        *liveGenerationConfig    `json:"generationConfig,omitempty"`
	InputAudioTranscription *liveTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type liveTranscriptionConfig struct{}

type liveRealtimeInput struct {
	Media *liveMedia `json:"media,omitempty"`
}

type liveMedia struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type liveServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	GoAway        *struct{}          `json:"goAway,omitempty"`
	Error         *liveServerError   `json:"error,omitempty"`
}

type liveServerContent struct {
	InputTranscription *liveTranscription `json:"inputTranscription,omitempty"`
	TurnComplete       bool               `json:"turnComplete,omitempty"`
}

type liveTranscription struct {
	Text string `json:"text"`
}

type liveServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LiveChannel is a bidirectional channel to a live model. Frames go out
// through SendFrame, transcription and lifecycle events come back through
// Events. The events channel closes once the channel is torn down.
type LiveChannel struct {
	conn *websocket.Conn

	events chan llms.LiveEvent
	done   chan struct{}

	closed  atomic.Bool
	writeMu sync.Mutex
}

// DialLive opens a live channel and blocks until the backend acknowledges the
// session setup. The returned channel is ready to accept frames.
func (c *Client) DialLive(ctx context.Context) (llms.LiveChannel, error) {
	ctx, span := tracer.Start(ctx, "dialing gemini live")
	defer span.End()

	apiKey, err := c.credential.Authorize()
	if err != nil {
		return nil, err
	}

	endpoint, err := c.liveEndpoint(apiKey)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: liveHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &llms.ConfigurationError{
				Reason: "live channel rejected the credential",
				Err:    err,
			}
		}
		return nil, fmt.Errorf("dialing live channel: %w", err)
	}

	setup := liveClientMessage{Setup: &liveSetup{
		Model:                   "models/" + c.liveModel,
		GenerationConfig:        &liveGenerationConfig{ResponseModalities: []string{"TEXT"}},
		InputAudioTranscription: &liveTranscriptionConfig{},
	}}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending live setup: %w", err)
	}

	if err := awaitSetupComplete(conn); err != nil {
		conn.Close()
		return nil, err
	}
	span.AddEvent("setup acknowledged")

	channel := &LiveChannel{
		conn:   conn,
		events: make(chan llms.LiveEvent, 32),
		done:   make(chan struct{}),
	}
	go channel.readLoop()
	return channel, nil
}

func (c *Client) liveEndpoint(apiKey string) (string, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	case "http":
		endpoint.Scheme = "ws"
	}
	endpoint.Path = livePath
	endpoint.RawQuery = url.Values{"key": []string{apiKey}}.Encode()
	return endpoint.String(), nil
}

func awaitSetupComplete(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(liveHandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("awaiting live setup acknowledgment: %w", err)
	}

	var message liveServerMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("decoding live setup acknowledgment: %w", err)
	}
	if message.SetupComplete == nil {
		return fmt.Errorf("live channel did not acknowledge setup")
	}
	return nil
}

// SendFrame transmits a single media frame. It is safe for concurrent use.
func (c *LiveChannel) SendFrame(frame llms.MediaFrame) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	message := liveClientMessage{RealtimeInput: &liveRealtimeInput{
		Media: &liveMedia{MimeType: frame.MimeType, Data: frame.Data},
	}}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("sending media frame: %w", err)
	}
	return nil
}

// Events returns the inbound event channel. It closes when the remote side
// hangs up, a terminal fault occurs, or Close is called.
func (c *LiveChannel) Events() <-chan llms.LiveEvent {
	return c.events
}

// Close tears the channel down. It is idempotent and does not wait for the
// remote side to confirm.
func (c *LiveChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *LiveChannel) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(llms.LiveClosed{Reason: "channel closed"})
			} else {
				c.emit(llms.LiveError{Err: fmt.Errorf("reading live channel: %w", err)})
			}
			return
		}

		var message liveServerMessage
		if err := json.Unmarshal(data, &message); err != nil {
			logger.Warn("dropping undecodable live message", "error", err)
			continue
		}

		switch {
		case message.ServerContent != nil:
			if transcription := message.ServerContent.InputTranscription; transcription != nil && transcription.Text != "" {
				c.emit(llms.LiveTranscript{Fragment: transcription.Text})
			}
		case message.Error != nil:
			c.emit(llms.LiveError{Err: fmt.Errorf("live channel fault %d: %s", message.Error.Code, message.Error.Message)})
			return
		case message.GoAway != nil:
			c.emit(llms.LiveClosed{Reason: "server going away"})
			return
		}
	}
}

func (c *LiveChannel) emit(event llms.LiveEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}
