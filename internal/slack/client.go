package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/voicetel/ticketboard/internal/config"
)

type Client struct {
	webhookURL    string
	httpClient    *http.Client
	retryAttempts int
	backoff       func(attempt int) time.Duration
}

func NewClient(cfg config.SlackConfig) *Client {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.Duration,
		},
		retryAttempts: attempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// Enabled reports whether a webhook is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

func (c *Client) SendMessage(ctx context.Context, text string) error {
	msg := &slackapi.WebhookMessage{Text: text}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff, unless Slack told us how long to wait
			wait := c.backoff(attempt)
			var rateLimited *slackapi.RateLimitedError
			if errors.As(lastErr, &rateLimited) {
				wait = rateLimited.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = slackapi.PostWebhookCustomHTTPContext(ctx, c.webhookURL, c.httpClient, msg)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// TestWebhook posts a fixed message to check the webhook works.
func TestWebhook(ctx context.Context, cfg config.SlackConfig) error {
	return NewClient(cfg).SendMessage(ctx, "🔧 ticketboard test message - connection successful!")
}
