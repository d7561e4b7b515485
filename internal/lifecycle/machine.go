// Package lifecycle owns the persisted status of a recording.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
)

// AbandonedMessage is stored on recordings discarded while still capturing.
const AbandonedMessage = "recording abandoned"

var (
	ErrInvalidTransition = errors.New("invalid recording status transition")
	ErrNotFound          = errors.New("recording not found")
)

// WorkflowStarter runs post-recording processing for a finished recording.
type WorkflowStarter interface {
	Start(recordingID string, transcript string)
}

// Machine validates and persists recording status transitions.
//
// Transitions:
//
//	recording → processing → completed
//	    │            │
//	    └────────────┴──────→ error
//
// completed and error are terminal. processing → processing is accepted as a
// no-op so workflow replays are safe.
type Machine struct {
	store     ports.RecordingStore
	publisher ports.EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	// Serializes read-check-write so concurrent callers cannot race a transition.
	mu sync.Mutex

	starterMu sync.RWMutex
	starter   WorkflowStarter
}

func NewMachine(store ports.RecordingStore, publisher ports.EventPublisher, m *metrics.Metrics, logger zerolog.Logger) *Machine {
	return &Machine{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       logger,
		now:       time.Now,
	}
}

// OnFinished registers the workflow started by Finish.
func (m *Machine) OnFinished(starter WorkflowStarter) {
	m.starterMu.Lock()
	defer m.starterMu.Unlock()
	m.starter = starter
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to domain.RecordingStatus) bool {
	switch from {
	case domain.RecordingStatusRecording:
		return to == domain.RecordingStatusProcessing || to == domain.RecordingStatusError
	case domain.RecordingStatusProcessing:
		return to == domain.RecordingStatusProcessing ||
			to == domain.RecordingStatusCompleted ||
			to == domain.RecordingStatusError
	default:
		return false
	}
}

// Finish stores the final duration and transcript, moves the recording to
// processing and starts the insight workflow.
func (m *Machine) Finish(ctx context.Context, id string, duration int, transcript string) error {
	if duration < 0 {
		duration = 0
	}
	err := m.transition(ctx, id, domain.RecordingStatusProcessing, func(from domain.RecordingStatus, patch *domain.RecordingPatch) error {
		if from != domain.RecordingStatusRecording {
			return fmt.Errorf("%w: finish from %s", ErrInvalidTransition, from)
		}
		patch.Duration = &duration
		patch.Transcript = &transcript
		return nil
	})
	if err != nil {
		return err
	}

	m.starterMu.RLock()
	starter := m.starter
	m.starterMu.RUnlock()
	if starter != nil {
		starter.Start(id, transcript)
	}
	return nil
}

// MarkProcessing is idempotent: a recording already in processing is left as is.
func (m *Machine) MarkProcessing(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.RecordingStatusProcessing, nil)
}

// Complete stores insights and moves processing → completed.
func (m *Machine) Complete(ctx context.Context, id string, insights string) error {
	return m.transition(ctx, id, domain.RecordingStatusCompleted, func(from domain.RecordingStatus, patch *domain.RecordingPatch) error {
		if from != domain.RecordingStatusProcessing {
			return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, from)
		}
		patch.Insights = &insights
		return nil
	})
}

// Fail moves a processing recording to error with a human-readable message.
func (m *Machine) Fail(ctx context.Context, id string, message string) error {
	return m.transition(ctx, id, domain.RecordingStatusError, func(from domain.RecordingStatus, patch *domain.RecordingPatch) error {
		if from != domain.RecordingStatusProcessing {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, from)
		}
		patch.ErrorMessage = &message
		return nil
	})
}

// Discard marks an abandoned capture as error.
func (m *Machine) Discard(ctx context.Context, id string) error {
	message := AbandonedMessage
	return m.transition(ctx, id, domain.RecordingStatusError, func(from domain.RecordingStatus, patch *domain.RecordingPatch) error {
		if from != domain.RecordingStatusRecording {
			return fmt.Errorf("%w: discard from %s", ErrInvalidTransition, from)
		}
		patch.ErrorMessage = &message
		return nil
	})
}

func (m *Machine) transition(
	ctx context.Context,
	id string,
	to domain.RecordingStatus,
	build func(from domain.RecordingStatus, patch *domain.RecordingPatch) error,
) error {
	event, changed, err := m.apply(ctx, id, to, build)
	if err != nil || !changed {
		return err
	}

	// Published after the lock is released so a slow broker never stalls
	// transitions of other recordings.
	if m.publisher != nil {
		if err := m.publisher.PublishStatus(ctx, event); err != nil {
			m.log.Warn().Err(err).Str("recordingId", id).Msg("Failed to publish status event")
		}
	}
	return nil
}

// apply performs the read-check-write under the lock and returns the event
// describing the accepted change.
func (m *Machine) apply(
	ctx context.Context,
	id string,
	to domain.RecordingStatus,
	build func(from domain.RecordingStatus, patch *domain.RecordingPatch) error,
) (domain.StatusEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.StatusEvent{}, false, fmt.Errorf("failed to load recording %s: %w", id, err)
	}
	if !ok {
		return domain.StatusEvent{}, false, ErrNotFound
	}

	from := rec.Status
	if !CanTransition(from, to) {
		return domain.StatusEvent{}, false, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	patch := domain.RecordingPatch{}
	if build != nil {
		if err := build(from, &patch); err != nil {
			return domain.StatusEvent{}, false, err
		}
	}
	if from == to && build == nil {
		return domain.StatusEvent{}, false, nil
	}

	status := to
	patch.Status = &status
	if err := m.store.Patch(ctx, id, patch); err != nil {
		return domain.StatusEvent{}, false, fmt.Errorf("failed to persist %s → %s: %w", from, to, err)
	}

	m.metrics.RecordStatusTransition(string(to))
	m.log.Info().
		Str("recordingId", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Recording status changed")

	event := domain.StatusEvent{RecordingID: id, From: from, To: to, OccurredAt: m.now()}
	if patch.ErrorMessage != nil {
		event.ErrorMessage = *patch.ErrorMessage
	}
	return event, true, nil
}
