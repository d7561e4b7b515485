package usecase

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/ports"
)

const turnSeparator = " "

// transcriptAggregator folds turns into a committed transcript plus the
// in-progress partial of the current turn. committed never shrinks.
type transcriptAggregator struct {
	mu        sync.Mutex
	committed string
	pending   string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

// Apply folds one event in and reports whether the committed transcript grew.
func (a *transcriptAggregator) Apply(event domain.ProtocolEvent) bool {
	if event.Kind != domain.EventTurn {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if !event.IsFinal {
		a.pending = text
		return false
	}

	a.pending = ""
	if text == "" {
		return false
	}
	a.committed = join(a.committed, text)
	return true
}

// Visible is the committed transcript followed by the current partial.
func (a *transcriptAggregator) Visible() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return join(a.committed, a.pending)
}

func (a *transcriptAggregator) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

func join(committed, next string) string {
	switch {
	case next == "":
		return committed
	case committed == "":
		return next
	default:
		return committed + turnSeparator + next
	}
}

// consumeTranscriptionEvents is the session's receive loop. It returns nil when
// the stream ends normally and the transport error otherwise.
func consumeTranscriptionEvents(
	active *activeSession,
	events ports.EventSink,
	recordTurn func(final bool),
	logger zerolog.Logger,
) error {
	defer close(active.eventsDone)

	for {
		event, err := active.stream.Receive()
		if err != nil {
			if errors.Is(err, ports.ErrStreamClosed) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case domain.EventBegin:
			active.writer.SetSessionID(event.SessionID)
			logger.Info().Str("sessionId", event.SessionID).Msg("Streaming session began")
		case domain.EventTermination:
			logger.Info().Msg("Streaming session terminated by service")
		case domain.EventTurn:
			recordTurn(event.IsFinal)
			committedChanged := active.aggregator.Apply(event)
			events.TranscriptUpdated(active.aggregator.Visible())
			if committedChanged {
				active.writer.Submit(active.aggregator.Committed(), strings.TrimSpace(event.Text))
			}
		}
	}
}
