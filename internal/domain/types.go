package domain

import (
	"encoding/binary"
	"time"
)

// SessionState models the live recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateStopping   SessionState = "stopping"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady            SessionStateReason = "ready"
	SessionReasonConnecting       SessionStateReason = "connecting"
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonStopRequested    SessionStateReason = "stop_requested"
	SessionReasonMaxDuration      SessionStateReason = "max_duration"
	SessionReasonRecordingSaved   SessionStateReason = "recording_saved"
	SessionReasonStartFailed      SessionStateReason = "start_failed"
	SessionReasonStreamFailed     SessionStateReason = "stream_failed"
	SessionReasonFinishFailed     SessionStateReason = "finish_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeCredential  ErrorCode = "credential"
	ErrorCodeDevice      ErrorCode = "device"
	ErrorCodeConnect     ErrorCode = "connect"
	ErrorCodeTransport   ErrorCode = "transport"
	ErrorCodeAudioStop   ErrorCode = "audio_stop"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodePersistence ErrorCode = "persistence"
)

// AudioFrame is a fixed-size block of signed 16-bit mono samples.
type AudioFrame []int16

// PCM serializes the frame as little-endian 16-bit PCM.
func (f AudioFrame) PCM() []byte {
	out := make([]byte, len(f)*2)
	for i, sample := range f {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// ProtocolEventKind discriminates inbound streaming messages.
type ProtocolEventKind string

const (
	EventBegin       ProtocolEventKind = "Begin"
	EventTurn        ProtocolEventKind = "Turn"
	EventTermination ProtocolEventKind = "Termination"
)

// ProtocolEvent is one decoded inbound message from the streaming service.
type ProtocolEvent struct {
	Kind      ProtocolEventKind `json:"kind"`
	SessionID string            `json:"sessionId,omitempty"`
	Text      string            `json:"text,omitempty"`
	IsFinal   bool              `json:"isFinal,omitempty"`
}

// RecordingStatus is the persisted lifecycle status of a recording.
type RecordingStatus string

const (
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusError      RecordingStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RecordingStatus) IsTerminal() bool {
	return s == RecordingStatusCompleted || s == RecordingStatusError
}

// Recording is the persisted record of one capture.
type Recording struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Duration     int             `json:"duration"`
	Status       RecordingStatus `json:"status"`
	Transcript   string          `json:"transcript"`
	Insights     *string         `json:"insights,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Summary projects the fields shown in listings.
func (r Recording) Summary() RecordingSummary {
	return RecordingSummary{
		ID:        r.ID,
		Title:     r.Title,
		Duration:  r.Duration,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}

// RecordingSummary is a listing row.
type RecordingSummary struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Duration  int             `json:"duration"`
	Status    RecordingStatus `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RecordingPatch updates only the non-nil fields.
type RecordingPatch struct {
	Status       *RecordingStatus
	Duration     *int
	Transcript   *string
	Insights     *string
	ErrorMessage *string
}

// Status summarizes the current runtime status.
type Status struct {
	State          SessionState `json:"state"`
	Active         bool         `json:"active"`
	RecordingID    string       `json:"recordingId,omitempty"`
	ElapsedSeconds int          `json:"elapsedSeconds"`
	Transcript     string       `json:"transcript,omitempty"`
	Message        string       `json:"message,omitempty"`
}

// StopResult is returned once a session has been handed off for processing.
type StopResult struct {
	RecordingID string `json:"recordingId"`
	Duration    int    `json:"duration"`
	Transcript  string `json:"transcript"`
}
