package usecase

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"

	"meetscribe/internal/audio"
	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
)

const (
	dropNotReady  = "not_ready"
	dropQueueFull = "queue_full"
	dropSendError = "send_error"
)

// pumpAudioFrames reads capture samples, frames them and hands frames to the
// transport without ever waiting on the network. Frames the transport cannot
// take are dropped and counted. It returns nil when capture ends because the
// session is stopping, and the capture error otherwise.
func pumpAudioFrames(
	active *activeSession,
	chunker *audio.Chunker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) error {
	defer close(active.audioDone)

	buf := make([]float32, chunker.FrameSize())
	for {
		n, err := active.audio.ReadSamples(buf)
		if n > 0 {
			for _, frame := range chunker.Push(buf[:n]) {
				sendFrame(active.stream, frame, m, logger)
			}
		}
		if err != nil {
			if frame := chunker.Flush(); len(frame) > 0 {
				sendFrame(active.stream, frame, m, logger)
			}
			if active.stopping() {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return &domain.DeviceError{Err: errors.New("audio capture ended unexpectedly")}
			}
			return &domain.DeviceError{Err: err}
		}
	}
}

func sendFrame(stream ports.StreamingSession, frame domain.AudioFrame, m *metrics.Metrics, logger zerolog.Logger) {
	err := stream.Send(frame)
	switch {
	case err == nil:
		m.RecordFrameSent()
	case errors.Is(err, ports.ErrNotOpen):
		m.RecordFrameDropped(dropNotReady)
	case errors.Is(err, ports.ErrSendQueueFull):
		m.RecordFrameDropped(dropQueueFull)
		logger.Debug().Int("samples", len(frame)).Msg("Send queue full, dropping frame")
	default:
		m.RecordFrameDropped(dropSendError)
		logger.Warn().Err(err).Msg("Failed to send audio frame")
	}
}
