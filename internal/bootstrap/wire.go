package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meetscribe/internal/audio"
	"meetscribe/internal/config"
	"meetscribe/internal/events"
	"meetscribe/internal/lifecycle"
	"meetscribe/internal/observability/logging"
	"meetscribe/internal/observability/metrics"
	"meetscribe/internal/ports"
	"meetscribe/internal/providers/assemblyai"
	"meetscribe/internal/providers/openai"
	"meetscribe/internal/store"
	"meetscribe/internal/usecase"
	"meetscribe/internal/workflow"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Store      *store.Memory
	Lifecycle  *lifecycle.Machine
	Workflow   *workflow.InsightWorkflow
	Engine     *workflow.Engine
	Publisher  *events.Publisher
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Config     config.Config
}

// Build wires all backend dependencies for the given configuration.
func Build(cfg config.Config, eventSink ports.EventSink) (*Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	summarizer, err := buildSummarizer(cfg)
	if err != nil {
		return nil, err
	}

	publisher := events.New(&events.Config{
		Brokers:     cfg.Kafka.Brokers,
		TopicTurns:  cfg.Kafka.TopicTurns,
		TopicStatus: cfg.Kafka.TopicStatus,
		Principal:   cfg.Kafka.Principal,
		Enabled:     cfg.Kafka.Enabled,
	}, m, logging.WithComponent("events"))

	recordings := store.NewMemory()
	machine := lifecycle.NewMachine(recordings, publisher, m, logging.WithComponent("lifecycle"))

	engine := workflow.NewEngine(workflow.RetryPolicy{
		MaxAttempts:    cfg.Workflow.MaxAttempts,
		InitialBackoff: cfg.Workflow.InitialBackoff,
		MaxBackoff:     cfg.Workflow.MaxBackoff,
		Multiplier:     cfg.Workflow.Multiplier,
	}, m, logging.WithComponent("workflow"))
	insights := workflow.NewInsightWorkflow(
		engine,
		machine,
		summarizer,
		recordings,
		cfg.Summarizer.StepTimeout,
		m,
		logging.WithComponent("insights"),
	)
	machine.OnFinished(insights)

	controller := usecase.NewSessionController(usecase.Dependencies{
		Audio: audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		Credentials: assemblyai.NewTokenClient(assemblyai.TokenConfig{
			APIKey:     cfg.AssemblyAI.APIKey,
			APIBaseURL: cfg.AssemblyAI.APIBaseURL,
			TTL:        cfg.AssemblyAI.TokenTTL,
		}),
		Provider: assemblyai.NewProvider(assemblyai.StreamingConfig{
			URL:       cfg.AssemblyAI.StreamingURL,
			SendQueue: cfg.Session.SendQueue,
		}, logging.WithComponent("streaming")),
		Store:     recordings,
		Lifecycle: machine,
		Events:    eventSink,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logging.WithComponent("session"),
	}, usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Encoding:    "pcm_s16le",
			FormatTurns: cfg.AssemblyAI.FormatTurns,
			SpeechModel: cfg.AssemblyAI.SpeechModel,
		},
		FrameDuration:  cfg.Audio.FrameDuration,
		MaxDuration:    cfg.Session.MaxDuration,
		TickInterval:   cfg.Session.TickInterval,
		StreamingGrace: cfg.Session.StreamingGrace,
		WriteTimeout:   cfg.Session.WriteTimeout,
	})

	return &Services{
		Controller: controller,
		Store:      recordings,
		Lifecycle:  machine,
		Workflow:   insights,
		Engine:     engine,
		Publisher:  publisher,
		Metrics:    m,
		Registry:   registry,
		Config:     cfg,
	}, nil
}

// Close drains in-flight workflows and closes the event publisher.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if err := s.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workflow shutdown: %w", err))
	}
	if err := s.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher close: %w", err))
	}
	return errors.Join(errs...)
}

func buildSummarizer(cfg config.Config) (ports.Summarizer, error) {
	switch cfg.Summarizer.Provider {
	case config.SummarizerOpenAI:
		summarizer, err := openai.NewSummarizer(openai.Config{
			APIKey:       cfg.Summarizer.OpenAIAPIKey,
			BaseURL:      cfg.Summarizer.OpenAIBaseURL,
			Model:        cfg.Summarizer.OpenAIModel,
			SystemPrompt: assemblyai.ConsultationPrompt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build openai summarizer: %w", err)
		}
		return summarizer, nil
	case config.SummarizerLemur, "":
		return assemblyai.NewLemurSummarizer(assemblyai.LemurConfig{
			APIKey:     cfg.AssemblyAI.APIKey,
			APIBaseURL: cfg.AssemblyAI.APIBaseURL,
			Model:      cfg.Summarizer.LemurModel,
			Timeout:    cfg.Summarizer.StepTimeout,
		}, logging.WithComponent("lemur")), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Summarizer.Provider)
	}
}
