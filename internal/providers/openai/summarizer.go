package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogpt "github.com/sashabaranov/go-openai"

	"meetscribe/internal/domain"
)

// Config controls the chat-completion summarizer.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// Summarizer implements ports.Summarizer with an OpenAI-compatible chat model.
type Summarizer struct {
	client *gogpt.Client
	cfg    Config
}

func NewSummarizer(cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = gogpt.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	clientCfg := gogpt.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Summarizer{client: gogpt.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, gogpt.ChatCompletionRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Messages: []gogpt.ChatCompletionMessage{
			{Role: gogpt.ChatMessageRoleSystem, Content: s.cfg.SystemPrompt},
			{Role: gogpt.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classifyError surfaces HTTP status codes so the workflow can tell rate
// limits and outages apart from bad requests.
func classifyError(err error) error {
	var apiErr *gogpt.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &domain.StatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *gogpt.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &domain.StatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai request failed: %w", err)
}
