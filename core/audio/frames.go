package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"github.com/matijarozman/muse-core/core/llms"
)

// DefaultFrameSamples is the fixed capture window: 4096 samples, 256ms at
// 16 kHz.
const DefaultFrameSamples = 4096

// FrameEncoder converts raw capture samples into live-channel media frames:
// fixed-size windows of little-endian PCM16, base64-wrapped and tagged with
// the encoding's mime type. It buffers ragged input across calls.
//
// The encoder is owned by the single capture callback and is not safe for
// concurrent use. Push is O(input) and never blocks.
type FrameEncoder struct {
	info       EncodingInfo
	frameBytes int
	mimeType   string
	buf        []byte
}

func NewFrameEncoder(info EncodingInfo, frameSamples int) *FrameEncoder {
	if info.IsZero() {
		info = GetDefaultEncodingInfo()
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	frameBytes := frameSamples * info.Format.ByteSize()
	return &FrameEncoder{
		info:       info,
		frameBytes: frameBytes,
		mimeType:   info.MimeType(),
		buf:        make([]byte, 0, frameBytes),
	}
}

func (e *FrameEncoder) EncodingInfo() EncodingInfo {
	return e.info
}

// Push buffers PCM bytes and emits one frame per complete window. Leftover
// bytes stay buffered for the next call.
func (e *FrameEncoder) Push(pcm []byte) []llms.MediaFrame {
	if e == nil || len(pcm) == 0 {
		return nil
	}

	e.buf = append(e.buf, pcm...)
	var frames []llms.MediaFrame
	for len(e.buf) >= e.frameBytes {
		frames = append(frames, e.encode(e.buf[:e.frameBytes]))
		e.buf = e.buf[:copy(e.buf, e.buf[e.frameBytes:])]
	}
	return frames
}

// PushFloat32 converts normalized [-1, 1] samples to fixed-point PCM16 and
// frames them like Push. Out-of-range samples clip.
func (e *FrameEncoder) PushFloat32(samples []float32) []llms.MediaFrame {
	if e == nil || len(samples) == 0 {
		return nil
	}

	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(sample*math.MaxInt16)))
	}
	return e.Push(pcm)
}

// Flush emits the buffered tail as one short final frame.
func (e *FrameEncoder) Flush() (llms.MediaFrame, bool) {
	if e == nil || len(e.buf) == 0 {
		return llms.MediaFrame{}, false
	}
	frame := e.encode(e.buf)
	e.buf = e.buf[:0]
	return frame, true
}

func (e *FrameEncoder) encode(pcm []byte) llms.MediaFrame {
	return llms.MediaFrame{
		MimeType: e.mimeType,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}
