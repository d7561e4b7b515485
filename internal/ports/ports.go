package ports

import (
	"context"
	"errors"

	"meetscribe/internal/domain"
)

var (
	// ErrNotOpen is returned by Send before Begin and after Terminate or Close.
	ErrNotOpen = errors.New("stream is not open")
	// ErrSendQueueFull is returned when the outbound queue cannot take another frame.
	ErrSendQueueFull = errors.New("stream send queue is full")
	// ErrStreamClosed is returned by Receive once the stream has ended.
	ErrStreamClosed = errors.New("stream closed")
	// ErrMalformedEvent is returned by Receive for undecodable inbound messages.
	ErrMalformedEvent = errors.New("malformed stream event")
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing mono float samples in [-1, 1].
type AudioSession interface {
	ReadSamples(p []float32) (int, error)
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig is fixed for the lifetime of one streaming session.
type StreamingConfig struct {
	SampleRate  int
	Encoding    string
	FormatTurns bool
	SpeechModel string
}

// StreamingSession is one duplex connection to the transcription service.
type StreamingSession interface {
	Send(frame domain.AudioFrame) error
	Receive() (domain.ProtocolEvent, error)
	Terminate() error
	Close() error
	Ready() bool
}

// TranscriptionProvider opens streaming transcription sessions.
type TranscriptionProvider interface {
	Open(ctx context.Context, credential string, cfg StreamingConfig) (StreamingSession, error)
}

// CredentialIssuer returns a short-lived bearer credential for streaming.
type CredentialIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// RecordingStore persists recordings.
type RecordingStore interface {
	Create(ctx context.Context, title string) (string, error)
	Patch(ctx context.Context, id string, patch domain.RecordingPatch) error
	Get(ctx context.Context, id string) (domain.Recording, bool, error)
	List(ctx context.Context, limit int) ([]domain.RecordingSummary, error)
}

// RecordingFinisher hands a stopped recording over to processing.
type RecordingFinisher interface {
	Finish(ctx context.Context, id string, duration int, transcript string) error
}

// Summarizer turns a transcript into insights text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// EventPublisher fans recording activity out to downstream consumers.
type EventPublisher interface {
	PublishTurn(ctx context.Context, event domain.TurnEvent) error
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(text string)
	RecordingTick(elapsedSeconds int)
	SessionError(code domain.ErrorCode, detail string)
}
