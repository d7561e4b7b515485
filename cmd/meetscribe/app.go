package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/usecase"
)

const (
	eventSession    = "meetscribe:session"
	eventTranscript = "meetscribe:transcript"
	eventTick       = "meetscribe:tick"
	eventError      = "meetscribe:error"
)

// Broadcaster pushes UI events to connected clients.
type Broadcaster interface {
	Publish(name string, data any)
}

// App is the application root. It renders controller events for UI clients
// and gates session control until the backend is wired.
type App struct {
	events Broadcaster
	log    zerolog.Logger

	mu         sync.RWMutex
	controller *usecase.SessionController
	bootErr    error
}

func NewApp(events Broadcaster, logger zerolog.Logger) *App {
	return &App{events: events, log: logger}
}

func (a *App) attach(controller *usecase.SessionController, bootErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controller = controller
	a.bootErr = bootErr
}

// Start begins a new recording session.
func (a *App) Start(ctx context.Context) (string, error) {
	controller, err := a.requireReady()
	if err != nil {
		return "", err
	}
	return controller.Start(ctx)
}

// Stop ends the current session and hands the recording to processing.
func (a *App) Stop(ctx context.Context) (domain.StopResult, error) {
	controller, err := a.requireReady()
	if err != nil {
		return domain.StopResult{}, err
	}
	return controller.Stop(ctx)
}

// Discard marks a finished recording as failed by user request.
func (a *App) Discard(ctx context.Context, recordingID string) error {
	controller, err := a.requireReady()
	if err != nil {
		return err
	}
	return controller.Discard(ctx, recordingID)
}

// Status returns the current session status.
func (a *App) Status() domain.Status {
	controller, err := a.requireReady()
	if err != nil {
		return domain.Status{State: domain.SessionStateIdle, Message: err.Error()}
	}
	return controller.Status()
}

func (a *App) requireReady() (*usecase.SessionController, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	if a.controller == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.controller, nil
}

func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	message := sessionReasonMessage(reason)
	a.log.Info().Str("state", string(state)).Str("reason", string(reason)).Msg(message)
	a.publish(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": message,
	})
}

func (a *App) TranscriptUpdated(text string) {
	a.log.Debug().Int("chars", len(text)).Msg("Transcript updated")
	a.publish(eventTranscript, map[string]string{"text": text})
}

func (a *App) RecordingTick(elapsedSeconds int) {
	a.publish(eventTick, map[string]any{
		"elapsedSeconds": elapsedSeconds,
		"display":        formatDuration(elapsedSeconds),
	})
}

func (a *App) SessionError(code domain.ErrorCode, detail string) {
	message := errorMessage(code, detail)
	a.log.Error().Str("code", string(code)).Str("detail", detail).Msg(message)
	a.publish(eventError, map[string]string{
		"code":    string(code),
		"message": message,
		"detail":  detail,
	})
}

func (a *App) publish(name string, data any) {
	if a.events == nil {
		return
	}
	a.events.Publish(name, data)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready to record"
	case domain.SessionReasonConnecting:
		return "Connecting to transcription service"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonStopRequested:
		return "Recording stopped. Saving..."
	case domain.SessionReasonMaxDuration:
		return "Maximum recording length reached. Saving..."
	case domain.SessionReasonRecordingSaved:
		return "Recording saved. Generating insights..."
	case domain.SessionReasonStartFailed:
		return "Recording could not start"
	case domain.SessionReasonStreamFailed:
		return "Recording interrupted"
	case domain.SessionReasonFinishFailed:
		return "Recording could not be saved"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredential:
		return "Could not obtain a transcription token"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeConnect:
		return "Could not connect to the transcription service"
	case domain.ErrorCodeTransport:
		return "Transcription connection lost"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodePersistence:
		return "Saving the recording failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// formatDuration renders elapsed seconds as m:ss, or h:mm:ss past an hour.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
