package usecase

import (
	"context"
	"sync"
	"time"

	"meetscribe/internal/domain"
	"meetscribe/internal/ports"
)

type activeSession struct {
	cancelConnect context.CancelFunc
	cancel        context.CancelFunc
	cancelTick    context.CancelFunc

	audio  ports.AudioSession
	stream ports.StreamingSession

	recordingID string
	startedAt   time.Time

	stateMu        sync.Mutex
	state          domain.SessionState
	abortRequested bool

	aggregator *transcriptAggregator
	writer     *transcriptWriter

	eventsDone chan struct{}
	audioDone  chan struct{}
	tickDone   chan struct{}

	releaseOnce sync.Once
}

func newActiveSession(cancelConnect, cancel context.CancelFunc) *activeSession {
	return &activeSession{
		cancelConnect: cancelConnect,
		cancel:        cancel,
		state:         domain.SessionStateConnecting,
		aggregator:    newTranscriptAggregator(),
	}
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves from → to and reports whether the session was in from.
func (s *activeSession) transition(from, to domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// requestAbort cancels an in-flight connect. It reports false once the session is active.
func (s *activeSession) requestAbort() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != domain.SessionStateConnecting {
		return false
	}
	s.abortRequested = true
	s.cancelConnect()
	return true
}

func (s *activeSession) aborted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.abortRequested
}

func (s *activeSession) stopping() bool {
	return s.getState() != domain.SessionStateActive
}

// release tears down everything the session holds. Safe to call from any exit path.
func (s *activeSession) release() error {
	var audioErr error
	s.releaseOnce.Do(func() {
		if s.cancelTick != nil {
			s.cancelTick()
		}
		if s.audio != nil {
			audioErr = s.audio.Stop()
		}
		if s.stream != nil {
			_ = s.stream.Close()
		}
		s.cancel()
		s.cancelConnect()
	})
	return audioErr
}

// activate moves Connecting → Active unless a stop already asked to abort.
func (s *activeSession) activate(now time.Time) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.abortRequested || s.state != domain.SessionStateConnecting {
		return false
	}
	s.state = domain.SessionStateActive
	s.startedAt = now
	return true
}

func (s *activeSession) setRecordingID(id string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.recordingID = id
}

func (s *activeSession) getRecordingID() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.recordingID
}

func (s *activeSession) elapsed(now time.Time) time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

func waitDone(done chan struct{}) {
	if done != nil {
		<-done
	}
}
