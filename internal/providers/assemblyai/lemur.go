package assemblyai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultLemurModel = "anthropic/claude-3-5-sonnet"
	emptyInsights     = "Insights generation completed."
)

// ConsultationPrompt asks for a structured clinic-ready summary of a consultation.
const ConsultationPrompt = `You are analyzing a chiropractic consultation transcript. Extract and summarize:
1. Patient's main complaints and symptoms
2. Key observations from the physical examination
3. Treatment plan discussed
4. Follow-up recommendations
5. Any important notes or concerns

Format the response as a clear, structured summary suitable for a chiropractic clinic's records.`

// LemurConfig controls the LeMUR summarizer.
type LemurConfig struct {
	APIKey        string
	APIBaseURL    string
	Model         string
	Prompt        string
	MaxOutputSize int
	Timeout       time.Duration
}

// LemurSummarizer implements ports.Summarizer on the LeMUR generate endpoint.
type LemurSummarizer struct {
	cfg    LemurConfig
	client *http.Client
	log    zerolog.Logger
}

func NewLemurSummarizer(cfg LemurConfig, logger zerolog.Logger) *LemurSummarizer {
	if cfg.Model == "" {
		cfg.Model = defaultLemurModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = ConsultationPrompt
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &LemurSummarizer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: logger}
}

type lemurRequest struct {
	TranscriptIDs  []string `json:"transcript_ids"`
	TranscriptText string   `json:"transcript_text"`
	Prompt         string   `json:"prompt"`
	FinalModel     string   `json:"final_model"`
	MaxOutputSize  int      `json:"max_output_size"`
}

type lemurResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

func (s *LemurSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return "", errors.New("ASSEMBLYAI_API_KEY is not configured")
	}

	var out lemurResponse
	err := postJSON(ctx, s.client, joinURL(s.cfg.APIBaseURL, "/lemur/v3/generate"), s.cfg.APIKey, "lemur", lemurRequest{
		TranscriptIDs:  []string{},
		TranscriptText: transcript,
		Prompt:         s.cfg.Prompt,
		FinalModel:     s.cfg.Model,
		MaxOutputSize:  s.cfg.MaxOutputSize,
	}, &out)
	if err != nil {
		return "", err
	}

	s.log.Debug().Str("requestId", out.RequestID).Int("chars", len(out.Response)).Msg("LeMUR response received")
	if strings.TrimSpace(out.Response) == "" {
		return emptyInsights, nil
	}
	return out.Response, nil
}
