package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
)

const (
	stepMarkProcessing = "mark_processing"
	stepSummarize      = "summarize"
	stepComplete       = "complete"
	stepFail           = "fail"
)

// Lifecycle is the subset of status transitions the workflow drives.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, insights string) error
	Fail(ctx context.Context, id string, message string) error
}

// ProcessingLister finds recordings left mid-workflow by a previous process.
type ProcessingLister interface {
	ListByStatus(ctx context.Context, status domain.RecordingStatus) ([]domain.Recording, error)
}

// InsightWorkflow turns a finished recording's transcript into insights and
// drives it to exactly one of completed or error.
type InsightWorkflow struct {
	engine      *Engine
	lifecycle   Lifecycle
	summarizer  ports.Summarizer
	lister      ProcessingLister
	stepTimeout time.Duration
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewInsightWorkflow(
	engine *Engine,
	lifecycle Lifecycle,
	summarizer ports.Summarizer,
	lister ProcessingLister,
	stepTimeout time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *InsightWorkflow {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}
	return &InsightWorkflow{
		engine:      engine,
		lifecycle:   lifecycle,
		summarizer:  summarizer,
		lister:      lister,
		stepTimeout: stepTimeout,
		metrics:     m,
		log:         logger,
	}
}

// Start runs the workflow asynchronously. It satisfies lifecycle.WorkflowStarter.
func (w *InsightWorkflow) Start(recordingID string, transcript string) {
	err := w.engine.Go("insights:"+recordingID, func(ctx context.Context) {
		w.Run(ctx, recordingID, transcript)
	})
	if err != nil {
		w.log.Warn().Err(err).Str("recordingId", recordingID).Msg("Insight workflow not started; it will resume on next startup")
	}
}

// Resume restarts workflows for recordings stuck in processing.
func (w *InsightWorkflow) Resume(ctx context.Context) (int, error) {
	if w.lister == nil {
		return 0, nil
	}
	pending, err := w.lister.ListByStatus(ctx, domain.RecordingStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing recordings: %w", err)
	}
	for _, rec := range pending {
		w.log.Info().Str("recordingId", rec.ID).Msg("Resuming insight workflow")
		w.Start(rec.ID, rec.Transcript)
	}
	return len(pending), nil
}

// Run executes the workflow synchronously.
func (w *InsightWorkflow) Run(ctx context.Context, recordingID string, transcript string) {
	started := time.Now()
	logger := w.log.With().Str("recordingId", recordingID).Logger()

	err := w.engine.Retry(ctx, stepMarkProcessing, func(ctx context.Context) error {
		return w.lifecycle.MarkProcessing(ctx, recordingID)
	})
	if err != nil {
		if !interrupted(ctx) {
			logger.Error().Err(err).Msg("Recording cannot enter processing; workflow abandoned")
		}
		return
	}

	var insights string
	err = w.engine.Retry(ctx, stepSummarize, func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, w.stepTimeout)
		defer cancel()
		out, err := w.summarizer.Summarize(stepCtx, transcript)
		if err != nil {
			return err
		}
		insights = out
		return nil
	})
	if err != nil {
		if interrupted(ctx) {
			logger.Warn().Msg("Insight workflow interrupted; it will resume on next startup")
			return
		}
		w.fail(ctx, logger, recordingID, failureMessage("Failed to generate insights", err), started)
		return
	}

	err = w.engine.Retry(ctx, stepComplete, func(ctx context.Context) error {
		return w.lifecycle.Complete(ctx, recordingID, insights)
	})
	if err != nil {
		if interrupted(ctx) {
			return
		}
		w.fail(ctx, logger, recordingID, failureMessage("Failed to save insights", err), started)
		return
	}

	w.metrics.RecordWorkflowOutcome(string(domain.RecordingStatusCompleted), time.Since(started).Seconds())
	logger.Info().Dur("took", time.Since(started)).Msg("Insight workflow completed")
}

func (w *InsightWorkflow) fail(ctx context.Context, logger zerolog.Logger, recordingID, message string, started time.Time) {
	err := w.engine.Retry(ctx, stepFail, func(ctx context.Context) error {
		return w.lifecycle.Fail(ctx, recordingID, message)
	})
	if err != nil {
		logger.Error().Err(err).Str("message", message).Msg("Failed to record workflow failure")
		return
	}
	w.metrics.RecordWorkflowOutcome(string(domain.RecordingStatusError), time.Since(started).Seconds())
	logger.Warn().Str("message", message).Msg("Insight workflow failed")
}

func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}

func failureMessage(prefix string, err error) string {
	var statusErr *domain.StatusError
	if errors.As(err, &statusErr) {
		if body := strings.TrimSpace(statusErr.Body); body != "" {
			return fmt.Sprintf("%s: %s", prefix, body)
		}
		return fmt.Sprintf("%s: %s returned %d", prefix, statusErr.Service, statusErr.StatusCode)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
