package bootstrap

import (
	"context"
	"testing"

	"meetscribe/internal/config"
	"meetscribe/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.AssemblyAI.APIKey = "test-key"

	services, err := Build(cfg, noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil || services.Workflow == nil || services.Registry == nil {
		t.Fatalf("expected a complete service graph: %+v", services)
	}
	if status := services.Controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle controller, got %s", status.State)
	}

	// Lifecycle and controller share the same store.
	id, err := services.Store.Create(context.Background(), "Meeting")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := services.Lifecycle.Discard(context.Background(), id); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if err := services.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestBuildFailsWithoutOpenAIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Summarizer.Provider = config.SummarizerOpenAI

	if _, err := Build(cfg, noopEventSink{}); err == nil {
		t.Fatalf("expected build error without an OpenAI key")
	}
}

func TestBuildSelectsOpenAISummarizer(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Summarizer.Provider = config.SummarizerOpenAI
	cfg.Summarizer.OpenAIAPIKey = "sk-test"

	services, err := Build(cfg, noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	_ = services.Close(context.Background())
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) TranscriptUpdated(_ string)                                             {}
func (noopEventSink) RecordingTick(_ int)                                                    {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}
