package audio

import (
	"time"

	"meetscribe/internal/domain"
)

// DefaultFrameDuration is the wire frame length the streaming service expects.
const DefaultFrameDuration = 50 * time.Millisecond

// FrameSize returns the number of samples in one frame of the given duration.
func FrameSize(sampleRate int, frame time.Duration) int {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	size := int(int64(sampleRate) * int64(frame) / int64(time.Second))
	if size < 1 {
		size = 1
	}
	return size
}

// Chunker converts arbitrarily sized float sample blocks into fixed-size PCM frames.
// It is owned by a single producer goroutine and never blocks.
type Chunker struct {
	frameSize int
	buf       []int16
}

func NewChunker(frameSize int) *Chunker {
	if frameSize <= 0 {
		frameSize = FrameSize(16000, DefaultFrameDuration)
	}
	return &Chunker{
		frameSize: frameSize,
		buf:       make([]int16, 0, frameSize*2),
	}
}

// FrameSize returns the configured frame length in samples.
func (c *Chunker) FrameSize() int {
	return c.frameSize
}

// Push appends a block and returns every complete frame now available, oldest first.
// Samples left over stay buffered for the next call.
func (c *Chunker) Push(samples []float32) []domain.AudioFrame {
	for _, s := range samples {
		c.buf = append(c.buf, Quantize(s))
	}

	if len(c.buf) < c.frameSize {
		return nil
	}

	count := len(c.buf) / c.frameSize
	frames := make([]domain.AudioFrame, 0, count)
	for i := 0; i < count; i++ {
		frame := make(domain.AudioFrame, c.frameSize)
		copy(frame, c.buf[i*c.frameSize:(i+1)*c.frameSize])
		frames = append(frames, frame)
	}

	rest := copy(c.buf, c.buf[count*c.frameSize:])
	c.buf = c.buf[:rest]
	return frames
}

// Buffered reports how many samples are waiting for a full frame.
func (c *Chunker) Buffered() int {
	return len(c.buf)
}

// Flush returns the partial frame held in the buffer and resets it.
func (c *Chunker) Flush() domain.AudioFrame {
	if len(c.buf) == 0 {
		return nil
	}
	frame := make(domain.AudioFrame, len(c.buf))
	copy(frame, c.buf)
	c.buf = c.buf[:0]
	return frame
}

// Quantize maps a float sample to int16: clamp to [-1, 1], scale negatives by
// 32768 and non-negatives by 32767, truncate toward zero.
func Quantize(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
