package assemblyai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"meetscribe/internal/domain"
)

// TokenConfig controls temporary streaming token issuance.
type TokenConfig struct {
	APIKey     string
	APIBaseURL string
	TTL        time.Duration
	Timeout    time.Duration
}

// TokenClient implements ports.CredentialIssuer. It keeps the account key
// server-side and hands out short-lived streaming tokens.
type TokenClient struct {
	cfg    TokenConfig
	client *http.Client
}

func NewTokenClient(cfg TokenConfig) *TokenClient {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TokenClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type tokenRequest struct {
	ExpiresIn int `json:"expires_in"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *TokenClient) Issue(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", &domain.CredentialError{Err: errors.New("ASSEMBLYAI_API_KEY is not configured")}
	}

	var out tokenResponse
	err := postJSON(ctx, c.client, joinURL(c.cfg.APIBaseURL, "/v3/streaming/token"), c.cfg.APIKey, "streaming token",
		tokenRequest{ExpiresIn: int(c.cfg.TTL / time.Second)}, &out)
	if err != nil {
		return "", &domain.CredentialError{Err: err}
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", &domain.CredentialError{Err: errors.New("token response did not include a token")}
	}
	return out.Token, nil
}
