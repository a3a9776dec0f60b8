//go:build cgo

package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/matijarozman/muse-core/core/audio"
)

// Client owns a malgo context with a single capture device, configured for
// the live channel's encoding: mono PCM16 at 16 kHz.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureDevice

	sampleRate int
}

type Option func(*Client)

// WithSampleRate overrides the capture sample rate.
func WithSampleRate(sampleRate int) Option {
	return func(c *Client) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
	}
}

func NewClient(opts ...Option) (*Client, error) {
	client := Client{sampleRate: audio.DefaultSampleRate}
	for _, opt := range opts {
		opt(&client)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	if err := client.captureDevice.init(audioCtx, client.sampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return &client, nil
}

// Stream starts the capture device and blocks until the context is
// cancelled, then stops it.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.captureDevice.start(onAudio); err != nil {
		return err
	}

	<-ctx.Done()
	return errors.Join(c.captureDevice.stop(), ctx.Err())
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureDevice.start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureDevice.stop()
}

func (c *Client) Close() {
	_ = c.captureDevice.uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
