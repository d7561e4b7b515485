package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
)

// transcriptWriter persists the live committed transcript off the receive loop.
// Only the latest transcript is kept between writes; final turns are published
// in order. A single goroutine performs all writes, so they never reorder.
type transcriptWriter struct {
	store       ports.RecordingStore
	publisher   ports.EventPublisher
	recordingID string
	timeout     time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
	log         zerolog.Logger

	mu        sync.Mutex
	latest    string
	hasLatest bool
	turns     []domain.TurnEvent
	sessionID string
	closed    bool
	closeOnce sync.Once
	wake      chan struct{}
	done      chan struct{}
}

func newTranscriptWriter(
	store ports.RecordingStore,
	publisher ports.EventPublisher,
	recordingID string,
	timeout time.Duration,
	now func() time.Time,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *transcriptWriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &transcriptWriter{
		store:       store,
		publisher:   publisher,
		recordingID: recordingID,
		timeout:     timeout,
		now:         now,
		metrics:     m,
		log:         logger,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues the committed transcript and the final turn that produced it.
// It never blocks.
func (w *transcriptWriter) Submit(committed string, turn string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.latest = committed
	w.hasLatest = true
	if turn != "" {
		w.turns = append(w.turns, domain.TurnEvent{
			RecordingID: w.recordingID,
			SessionID:   w.sessionID,
			Text:        turn,
			OccurredAt:  w.now(),
		})
	}
	w.mu.Unlock()
	w.notify()
}

// SetSessionID tags published turns with the service-side session id.
func (w *transcriptWriter) SetSessionID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionID = id
}

// Close flushes whatever is pending and waits for the writer goroutine.
func (w *transcriptWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.notify()
	})
	<-w.done
}

func (w *transcriptWriter) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *transcriptWriter) run() {
	defer close(w.done)

	for range w.wake {
		for {
			w.mu.Lock()
			text, hasText := w.latest, w.hasLatest
			turns := w.turns
			w.latest, w.hasLatest, w.turns = "", false, nil
			closed := w.closed
			w.mu.Unlock()

			if !hasText && len(turns) == 0 {
				if closed {
					return
				}
				break
			}
			if hasText {
				w.write(text)
			}
			for _, turn := range turns {
				w.publish(turn)
			}
		}
	}
}

func (w *transcriptWriter) write(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.store.Patch(ctx, w.recordingID, domain.RecordingPatch{Transcript: &text})
	w.metrics.RecordTranscriptWrite(err)
	if err != nil {
		w.log.Warn().Err(err).Str("recordingId", w.recordingID).Msg("Failed to persist live transcript")
	}
}

func (w *transcriptWriter) publish(turn domain.TurnEvent) {
	if w.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.publisher.PublishTurn(ctx, turn); err != nil {
		w.log.Warn().Err(err).Str("recordingId", w.recordingID).Msg("Failed to publish turn")
	}
}
