package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SummarizerLemur  = "lemur"
	SummarizerOpenAI = "openai"
)

// Config stores runtime configuration. Values resolve in order: defaults,
// the optional YAML file named by MEETSCRIBE_CONFIG_FILE, then environment
// variables (a .env file fills in variables that are not already set).
type Config struct {
	AssemblyAI AssemblyAIConfig `yaml:"assemblyai"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AssemblyAIConfig struct {
	APIKey       string        `yaml:"api_key"`
	APIBaseURL   string        `yaml:"api_base_url"`
	StreamingURL string        `yaml:"streaming_url"`
	SpeechModel  string        `yaml:"speech_model"`
	FormatTurns  bool          `yaml:"format_turns"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type AudioConfig struct {
	RecorderCommand string        `yaml:"recorder_command"`
	InputFormat     string        `yaml:"input_format"`
	InputDevice     string        `yaml:"input_device"`
	SampleRate      int           `yaml:"sample_rate"`
	FrameDuration   time.Duration `yaml:"frame_duration"`
}

type SessionConfig struct {
	MaxDuration    time.Duration `yaml:"max_duration"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	StreamingGrace time.Duration `yaml:"streaming_grace"`
	SendQueue      int           `yaml:"send_queue"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type SummarizerConfig struct {
	Provider      string        `yaml:"provider"`
	LemurModel    string        `yaml:"lemur_model"`
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OpenAIModel   string        `yaml:"openai_model"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	StepTimeout   time.Duration `yaml:"step_timeout"`
}

type WorkflowConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicTurns  string   `yaml:"topic_turns"`
	TopicStatus string   `yaml:"topic_status"`
	Principal   string   `yaml:"principal"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		AssemblyAI: AssemblyAIConfig{
			APIBaseURL:   "https://api.assemblyai.com",
			StreamingURL: "wss://streaming.assemblyai.com/v3/ws",
			SpeechModel:  "universal-streaming-english",
			FormatTurns:  true,
			TokenTTL:     time.Hour,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			FrameDuration:   50 * time.Millisecond,
		},
		Session: SessionConfig{
			MaxDuration:    time.Hour,
			TickInterval:   time.Second,
			StreamingGrace: 2 * time.Second,
			SendQueue:      64,
			WriteTimeout:   10 * time.Second,
		},
		Summarizer: SummarizerConfig{
			Provider:    SummarizerLemur,
			LemurModel:  "anthropic/claude-3-5-sonnet",
			OpenAIModel: "gpt-4o-mini",
			StepTimeout: 2 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
		},
		Kafka: KafkaConfig{
			TopicTurns:  "meetscribe.turns",
			TopicStatus: "meetscribe.recording-status",
			Principal:   "meetscribe",
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load resolves configuration from the environment, an optional .env file and
// an optional YAML file.
func Load() (Config, error) {
	envFile := envOrDefault("MEETSCRIBE_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("MEETSCRIBE_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	sanitize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	a := &cfg.AssemblyAI
	a.APIKey = envOrDefault("ASSEMBLYAI_API_KEY", a.APIKey)
	a.APIBaseURL = envOrDefault("ASSEMBLYAI_API_BASE", a.APIBaseURL)
	a.StreamingURL = envOrDefault("ASSEMBLYAI_STREAMING_URL", a.StreamingURL)
	a.SpeechModel = envOrDefault("ASSEMBLYAI_SPEECH_MODEL", a.SpeechModel)
	a.FormatTurns = envOrDefaultBool("ASSEMBLYAI_FORMAT_TURNS", a.FormatTurns)
	a.TokenTTL = envOrDefaultDuration("ASSEMBLYAI_TOKEN_TTL_SECONDS", time.Second, a.TokenTTL)

	au := &cfg.Audio
	au.RecorderCommand = envOrDefault("MEETSCRIBE_FFMPEG_COMMAND", au.RecorderCommand)
	au.InputFormat = envOrDefault("MEETSCRIBE_AUDIO_INPUT_FORMAT", au.InputFormat)
	au.InputDevice = envOrDefault("MEETSCRIBE_AUDIO_INPUT_DEVICE", au.InputDevice)
	au.SampleRate = envOrDefaultInt("MEETSCRIBE_SAMPLE_RATE", au.SampleRate)
	au.FrameDuration = envOrDefaultDuration("MEETSCRIBE_FRAME_MS", time.Millisecond, au.FrameDuration)

	s := &cfg.Session
	s.MaxDuration = envOrDefaultDuration("MEETSCRIBE_MAX_DURATION_SECONDS", time.Second, s.MaxDuration)
	s.StreamingGrace = envOrDefaultDuration("MEETSCRIBE_STREAMING_GRACE_MS", time.Millisecond, s.StreamingGrace)
	s.SendQueue = envOrDefaultInt("MEETSCRIBE_SEND_QUEUE", s.SendQueue)

	sm := &cfg.Summarizer
	sm.Provider = strings.ToLower(envOrDefault("MEETSCRIBE_SUMMARIZER", sm.Provider))
	sm.LemurModel = envOrDefault("LEMUR_MODEL", sm.LemurModel)
	sm.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", sm.OpenAIAPIKey)
	sm.OpenAIModel = envOrDefault("OPENAI_MODEL", sm.OpenAIModel)
	sm.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", sm.OpenAIBaseURL)
	sm.StepTimeout = envOrDefaultDuration("MEETSCRIBE_SUMMARIZE_TIMEOUT_SECONDS", time.Second, sm.StepTimeout)

	w := &cfg.Workflow
	w.MaxAttempts = envOrDefaultInt("MEETSCRIBE_WORKFLOW_MAX_ATTEMPTS", w.MaxAttempts)
	w.InitialBackoff = envOrDefaultDuration("MEETSCRIBE_WORKFLOW_INITIAL_BACKOFF_MS", time.Millisecond, w.InitialBackoff)
	w.MaxBackoff = envOrDefaultDuration("MEETSCRIBE_WORKFLOW_MAX_BACKOFF_MS", time.Millisecond, w.MaxBackoff)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if brokers := splitList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		k.Brokers = brokers
	}
	k.TopicTurns = envOrDefault("KAFKA_TOPIC_TURNS", k.TopicTurns)
	k.TopicStatus = envOrDefault("KAFKA_TOPIC_STATUS", k.TopicStatus)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)

	cfg.HTTP.Addr = envOrDefault("MEETSCRIBE_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Logging.Level = envOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("LOG_FORMAT", cfg.Logging.Format)
}

func sanitize(cfg *Config) {
	def := Defaults()
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.FrameDuration <= 0 {
		cfg.Audio.FrameDuration = def.Audio.FrameDuration
	}
	if cfg.AssemblyAI.TokenTTL <= 0 {
		cfg.AssemblyAI.TokenTTL = def.AssemblyAI.TokenTTL
	}
	if cfg.Session.MaxDuration <= 0 {
		cfg.Session.MaxDuration = def.Session.MaxDuration
	}
	if cfg.Session.TickInterval <= 0 {
		cfg.Session.TickInterval = def.Session.TickInterval
	}
	if cfg.Session.StreamingGrace < 0 {
		cfg.Session.StreamingGrace = 0
	}
	if cfg.Session.SendQueue <= 0 {
		cfg.Session.SendQueue = def.Session.SendQueue
	}
	if cfg.Session.WriteTimeout <= 0 {
		cfg.Session.WriteTimeout = def.Session.WriteTimeout
	}
	if cfg.Summarizer.StepTimeout <= 0 {
		cfg.Summarizer.StepTimeout = def.Summarizer.StepTimeout
	}
	if cfg.Workflow.MaxAttempts <= 0 {
		cfg.Workflow.MaxAttempts = def.Workflow.MaxAttempts
	}
	if cfg.Workflow.InitialBackoff < 0 {
		cfg.Workflow.InitialBackoff = def.Workflow.InitialBackoff
	}
	if cfg.Workflow.MaxBackoff <= 0 {
		cfg.Workflow.MaxBackoff = def.Workflow.MaxBackoff
	}
	if cfg.Workflow.Multiplier < 1 {
		cfg.Workflow.Multiplier = def.Workflow.Multiplier
	}
}

// Validate rejects settings that cannot be repaired with a default.
func (c Config) Validate() error {
	switch c.Summarizer.Provider {
	case SummarizerLemur, SummarizerOpenAI:
	default:
		return fmt.Errorf("summarizer provider must be %q or %q, got %q", SummarizerLemur, SummarizerOpenAI, c.Summarizer.Provider)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka is enabled but no brokers are configured")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http addr cannot be empty")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration reads a non-negative integer count of unit.
func envOrDefaultDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}
