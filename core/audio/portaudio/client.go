//go:build cgo

package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/matijarozman/muse-core/core/audio"
)

// DefaultBufferSize is the per-read capture buffer, in samples.
const DefaultBufferSize = 1024

// Client is a blocking-read capture device. Unlike the callback-driven
// miniaudio client it pulls audio on the streaming goroutine, which keeps it
// usable on platforms where miniaudio has no backend.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16
}

func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
	}, nil
}

// Stream reads from the capture stream until the context is cancelled,
// forwarding each buffer as little-endian PCM16 bytes.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if err := c.stream.Stop(); err != nil {
				return err
			}
			return ctx.Err()
		default:
			if err := c.stream.Read(); err != nil {
				return fmt.Errorf("failed to read from capture stream: %w", err)
			}

			buffer := bytes.Buffer{}
			binary.Write(&buffer, binary.LittleEndian, c.in)
			onAudio(buffer.Bytes())
		}
	}
}

func (c *Client) Close() {
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
