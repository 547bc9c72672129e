// Package reasoner is a minimal OpenAI-compatible chat-completions client.
// It produces free-text narration for analysis summaries; all signals and
// confidences are computed numerically elsewhere, so failures here degrade
// to canned summaries instead of failing a session.
package reasoner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// Config holds reasoner endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client talks to a chat-completions endpoint.
type Client struct {
	cfg  Config
	http *resty.Client
	log  zerolog.Logger
}

var _ domain.Reasoner = (*Client)(nil)

// New creates a reasoner client.
func New(cfg Config, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(45 * time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}
	return &Client{
		cfg:  cfg,
		http: http,
		log:  log.With().Str("component", "reasoner").Logger(),
	}
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate returns the assistant's reply for the given conversation.
func (c *Client) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.cfg.Model, Messages: messages}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("reasoner request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("reasoner returned %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("reasoner returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
