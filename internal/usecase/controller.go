package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/audio"
	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrSessionInProgress = errors.New("a recording session is already in progress")
	ErrStartAborted      = errors.New("recording start was cancelled")
	ErrRecordingInUse    = errors.New("recording belongs to the live session")
	ErrStreamEnded       = errors.New("transcription stream ended unexpectedly")
)

const (
	defaultMaxDuration  = time.Hour
	defaultTickInterval = time.Second
	titleLayout         = "2006-01-02 15:04:05"
)

// Lifecycle is what the session needs from the recording status machine.
type Lifecycle interface {
	ports.RecordingFinisher
	Discard(ctx context.Context, id string) error
}

// Config controls live recording behavior.
type Config struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	FrameDuration  time.Duration
	MaxDuration    time.Duration
	TickInterval   time.Duration
	StreamingGrace time.Duration
	WriteTimeout   time.Duration
}

// Dependencies are the collaborators a SessionController drives.
type Dependencies struct {
	Audio       ports.AudioCapture
	Credentials ports.CredentialIssuer
	Provider    ports.TranscriptionProvider
	Store       ports.RecordingStore
	Lifecycle   Lifecycle
	Events      ports.EventSink
	Publisher   ports.EventPublisher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// SessionController orchestrates capture, live transcription and the hand-off
// of a finished recording to processing. At most one session runs at a time.
type SessionController struct {
	audio       ports.AudioCapture
	credentials ports.CredentialIssuer
	provider    ports.TranscriptionProvider
	store       ports.RecordingStore
	lifecycle   Lifecycle
	events      ports.EventSink
	publisher   ports.EventPublisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	cfg         Config
	now         func() time.Time

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Streaming.SampleRate <= 0 {
		cfg.Streaming.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Streaming.Encoding == "" {
		cfg.Streaming.Encoding = "pcm_s16le"
	}
	return &SessionController{
		audio:       deps.Audio,
		credentials: deps.Credentials,
		provider:    deps.Provider,
		store:       deps.Store,
		lifecycle:   deps.Lifecycle,
		events:      deps.Events,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Start connects a new session and returns the id of its recording.
func (c *SessionController) Start(ctx context.Context) (string, error) {
	connectCtx, cancelConnect := context.WithCancel(ctx)
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := newActiveSession(cancelConnect, cancel)

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		cancelConnect()
		cancel()
		return "", ErrSessionInProgress
	}
	c.current = active
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonConnecting)

	credential, err := c.credentials.Issue(connectCtx)
	if err != nil {
		return "", c.abortStart(active, domain.ErrorCodeCredential, "credential", err)
	}

	id, err := c.store.Create(connectCtx, "Meeting "+c.now().Format(titleLayout))
	if err != nil {
		return "", c.abortStart(active, domain.ErrorCodePersistence, "create", fmt.Errorf("failed to create recording: %w", err))
	}
	active.setRecordingID(id)
	logger := c.log.With().Str("recordingId", id).Logger()

	capture, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		var deviceErr *domain.DeviceError
		if !errors.As(err, &deviceErr) {
			err = &domain.DeviceError{Err: err}
		}
		return "", c.abortStart(active, domain.ErrorCodeDevice, "device", err)
	}
	active.audio = capture
	if err := connectCtx.Err(); err != nil {
		return "", c.abortStart(active, domain.ErrorCodeConnect, "connect", err)
	}

	stream, err := c.provider.Open(connectCtx, credential, c.cfg.Streaming)
	if err != nil {
		return "", c.abortStart(active, domain.ErrorCodeConnect, "connect", err)
	}
	active.stream = stream

	tickCtx, cancelTick := context.WithCancel(sessionCtx)
	active.cancelTick = cancelTick
	active.writer = newTranscriptWriter(c.store, c.publisher, id, c.cfg.WriteTimeout, c.now, c.metrics, logger)
	active.eventsDone = make(chan struct{})
	active.audioDone = make(chan struct{})
	active.tickDone = make(chan struct{})

	if !active.activate(c.now()) {
		return "", c.abortStart(active, domain.ErrorCodeConnect, "connect", ErrStartAborted)
	}

	c.metrics.RecordSessionStart()
	logger.Info().Int("sampleRate", c.cfg.Streaming.SampleRate).Msg("Recording session started")
	c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonRecordingStarted)

	chunker := audio.NewChunker(audio.FrameSize(c.cfg.Audio.SampleRate, c.cfg.FrameDuration))
	go c.runPump(active, chunker, logger)
	go c.runReceive(active, logger)
	go c.runTicker(tickCtx, active, logger)
	return id, nil
}

// Stop ends the live session and hands the recording to processing. Stopping
// while connecting cancels the connect attempt.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.StopResult{}, err
	}
	if active.requestAbort() {
		return domain.StopResult{}, ErrStartAborted
	}
	return c.stop(ctx, active, domain.SessionReasonStopRequested)
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil {
		return domain.Status{State: domain.SessionStateIdle}
	}
	return domain.Status{
		State:          active.getState(),
		Active:         true,
		RecordingID:    active.getRecordingID(),
		ElapsedSeconds: int(active.elapsed(c.now()) / time.Second),
		Transcript:     active.aggregator.Visible(),
	}
}

// Discard marks an abandoned recording as failed. The live session's own
// recording cannot be discarded.
func (c *SessionController) Discard(ctx context.Context, recordingID string) error {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active != nil && active.getRecordingID() == recordingID {
		return ErrRecordingInUse
	}
	return c.lifecycle.Discard(ctx, recordingID)
}

func (c *SessionController) stop(ctx context.Context, active *activeSession, reason domain.SessionStateReason) (domain.StopResult, error) {
	if !active.transition(domain.SessionStateActive, domain.SessionStateStopping) {
		return domain.StopResult{}, ErrNoActiveSession
	}
	stoppedAt := c.now()
	id := active.getRecordingID()
	logger := c.log.With().Str("recordingId", id).Logger()
	c.events.SessionStateChanged(domain.SessionStateStopping, reason)

	active.cancelTick()
	waitDone(active.tickDone)

	if err := active.audio.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Audio capture did not stop cleanly")
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	waitDone(active.audioDone)

	if err := active.stream.Terminate(); err != nil {
		logger.Debug().Err(err).Msg("Terminate not sent")
	}
	c.awaitTrailingTurns(ctx, active)

	_ = active.release()
	waitDone(active.eventsDone)
	active.writer.Close()

	duration := int(active.elapsed(stoppedAt) / time.Second)
	transcript := active.aggregator.Committed()
	c.metrics.RecordSessionEnd(float64(duration))

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()
	err := c.lifecycle.Finish(finishCtx, id, duration, transcript)
	c.clear(active)

	if err != nil {
		logger.Error().Err(err).Msg("Failed to finish recording")
		c.events.SessionError(domain.ErrorCodePersistence, fmt.Sprintf("failed to save recording: %v", err))
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonFinishFailed)
		return domain.StopResult{}, fmt.Errorf("failed to finish recording %s: %w", id, err)
	}

	logger.Info().Int("duration", duration).Int("chars", len(transcript)).Msg("Recording session stopped")
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingSaved)
	return domain.StopResult{RecordingID: id, Duration: duration, Transcript: transcript}, nil
}

func (c *SessionController) awaitTrailingTurns(ctx context.Context, active *activeSession) {
	if c.cfg.StreamingGrace <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.StreamingGrace)
	defer timer.Stop()
	select {
	case <-active.eventsDone:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// abortStart unwinds a session that never became active. The recording, if
// created, is left in recording status.
func (c *SessionController) abortStart(active *activeSession, code domain.ErrorCode, stage string, err error) error {
	_ = active.release()
	if active.writer != nil {
		active.writer.Close()
	}
	c.clear(active)

	if active.aborted() {
		c.log.Info().Str("recordingId", active.getRecordingID()).Msg("Recording start cancelled")
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStopRequested)
		return ErrStartAborted
	}

	c.metrics.RecordSessionFailed(stage)
	c.log.Error().Err(err).Str("stage", stage).Str("recordingId", active.getRecordingID()).Msg("Recording start failed")
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartFailed)
	return err
}

// abortActive tears down an active session after a capture or transport failure.
func (c *SessionController) abortActive(active *activeSession, code domain.ErrorCode, stage string, err error) {
	if !active.transition(domain.SessionStateActive, domain.SessionStateStopping) {
		return
	}

	_ = active.release()
	waitDone(active.tickDone)
	waitDone(active.audioDone)
	waitDone(active.eventsDone)
	active.writer.Close()
	c.metrics.RecordSessionEnd(active.elapsed(c.now()).Seconds())
	c.metrics.RecordSessionFailed(stage)
	c.clear(active)

	c.log.Error().Err(err).Str("recordingId", active.getRecordingID()).Str("stage", stage).Msg("Recording session aborted")
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStreamFailed)
}

func (c *SessionController) runPump(active *activeSession, chunker *audio.Chunker, logger zerolog.Logger) {
	if err := pumpAudioFrames(active, chunker, c.metrics, logger); err != nil {
		c.abortActive(active, domain.ErrorCodeAudioStream, "capture", err)
	}
}

func (c *SessionController) runReceive(active *activeSession, logger zerolog.Logger) {
	err := consumeTranscriptionEvents(active, c.events, c.metrics.RecordTurn, logger)
	if active.stopping() {
		return
	}
	if err == nil {
		err = &domain.TransportError{Err: ErrStreamEnded}
	}
	c.abortActive(active, domain.ErrorCodeTransport, "transport", err)
}

func (c *SessionController) runTicker(ctx context.Context, active *activeSession, logger zerolog.Logger) {
	defer close(active.tickDone)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := active.elapsed(c.now())
			c.events.RecordingTick(int(elapsed / time.Second))
			if elapsed >= c.cfg.MaxDuration {
				logger.Info().Dur("maxDuration", c.cfg.MaxDuration).Msg("Maximum recording duration reached")
				go func() {
					if _, err := c.stop(context.Background(), active, domain.SessionReasonMaxDuration); err != nil {
						logger.Warn().Err(err).Msg("Automatic stop failed")
					}
				}()
				return
			}
		}
	}
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) clear(active *activeSession) {
	active.setState(domain.SessionStateIdle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == active {
		c.current = nil
	}
}
