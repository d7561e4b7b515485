package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"meetscribe/internal/domain"
	"meetscribe/internal/ports"
)

type fakeCredentials struct {
	token string
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeCredentials) Issue(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// fakeAudioSession hands out queued sample blocks and blocks until Stop.
type fakeAudioSession struct {
	mu        sync.Mutex
	blocks    chan []float32
	pending   []float32
	stopped   chan struct{}
	stopOnce  sync.Once
	stopCalls int
	stopErr   error
}

func newFakeAudioSession(blocks ...[]float32) *fakeAudioSession {
	f := &fakeAudioSession{
		blocks:  make(chan []float32, len(blocks)+16),
		stopped: make(chan struct{}),
	}
	for _, b := range blocks {
		f.blocks <- b
	}
	return f
}

func (f *fakeAudioSession) ReadSamples(p []float32) (int, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	select {
	case block, ok := <-f.blocks:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, block)
		f.mu.Lock()
		f.pending = append(f.pending, block[n:]...)
		f.mu.Unlock()
		return n, nil
	case <-f.stopped:
		return 0, io.EOF
	}
}

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return f.stopErr
}

func (f *fakeAudioSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	block    bool
	opened   chan struct{}
	calls    int
	lastCfg  ports.StreamingConfig
	lastCred string
}

func (f *fakeProvider) Open(ctx context.Context, credential string, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	f.lastCfg = cfg
	f.lastCred = credential
	block := f.block
	opened := f.opened
	f.mu.Unlock()

	if block {
		if opened != nil {
			close(opened)
		}
		<-ctx.Done()
		return nil, &domain.ConnectError{Kind: domain.ConnectUnreachable, Err: ctx.Err()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type streamItem struct {
	event domain.ProtocolEvent
	err   error
}

// fakeStreamingSession replays scripted inbound events. Events queued through
// trailing are delivered after Terminate, followed by a normal close.
type fakeStreamingSession struct {
	mu             sync.Mutex
	inbound        chan streamItem
	done           chan struct{}
	closeOnce      sync.Once
	ready          bool
	sendErr        error
	sent           []domain.AudioFrame
	trailing       []domain.ProtocolEvent
	terminateCalls int
	closeCalls     int
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{
		inbound: make(chan streamItem, 64),
		done:    make(chan struct{}),
		ready:   true,
	}
}

func (f *fakeStreamingSession) push(events ...domain.ProtocolEvent) {
	for _, e := range events {
		f.inbound <- streamItem{event: e}
	}
}

func (f *fakeStreamingSession) fail(err error) {
	f.inbound <- streamItem{err: err}
}

func (f *fakeStreamingSession) Send(frame domain.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return ports.ErrNotOpen
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeStreamingSession) Receive() (domain.ProtocolEvent, error) {
	select {
	case item := <-f.inbound:
		return item.event, item.err
	case <-f.done:
		return domain.ProtocolEvent{}, ports.ErrStreamClosed
	}
}

func (f *fakeStreamingSession) Terminate() error {
	f.mu.Lock()
	f.terminateCalls++
	f.ready = false
	trailing := f.trailing
	f.trailing = nil
	f.mu.Unlock()

	for _, e := range trailing {
		f.inbound <- streamItem{event: e}
	}
	f.inbound <- streamItem{event: domain.ProtocolEvent{Kind: domain.EventTermination}}
	f.inbound <- streamItem{err: ports.ErrStreamClosed}
	return nil
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.ready = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStreamingSession) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeStreamingSession) sentFrames() []domain.AudioFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AudioFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStreamingSession) counts() (terminate, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateCalls, f.closeCalls
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []string
	ticks       []int
	errors      []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) RecordingTick(elapsedSeconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, elapsedSeconds)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lastState() stateEvent {
	states := f.snapshotStates()
	if len(states) == 0 {
		return stateEvent{}
	}
	return states[len(states)-1]
}

type fakePublisher struct {
	mu    sync.Mutex
	turns []domain.TurnEvent
}

func (f *fakePublisher) PublishTurn(_ context.Context, event domain.TurnEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, event)
	return nil
}

func (f *fakePublisher) PublishStatus(_ context.Context, _ domain.StatusEvent) error {
	return nil
}

func (f *fakePublisher) snapshotTurns() []domain.TurnEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TurnEvent, len(f.turns))
	copy(out, f.turns)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func formattedStreamingConfig() ports.StreamingConfig {
	return ports.StreamingConfig{FormatTurns: true, SpeechModel: "universal-streaming-english"}
}
