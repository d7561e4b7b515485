package domain

import "time"

// TurnEvent is published for every committed final turn.
type TurnEvent struct {
	RecordingID string    `json:"recordingId"`
	SessionID   string    `json:"sessionId"`
	Text        string    `json:"text"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// StatusEvent is published for every accepted recording status transition.
type StatusEvent struct {
	RecordingID  string          `json:"recordingId"`
	From         RecordingStatus `json:"from"`
	To           RecordingStatus `json:"to"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}
