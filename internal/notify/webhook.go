package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL string

	// Timeout for one request (default: 10s).
	Timeout time.Duration

	// MaxRetries after the first attempt (default: 2; negative disables retries).
	MaxRetries int

	// RateLimit requests per second (default: 1).
	RateLimit float64

	// RateBurst maximum burst size (default: 1).
	RateBurst int

	// Transport allows injecting a custom HTTP transport.
	Transport http.RoundTripper
}

// WebhookNotifier posts failures as JSON.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewWebhookNotifier returns a notifier posting to cfg.URL.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &WebhookNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		backoff: 200 * time.Millisecond,
	}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, f Failure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		retry, err := n.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}

		wait := time.Duration(1<<uint(attempt)) * n.backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("webhook: max retries exceeded: %w", lastErr)
}

// post sends one attempt and reports whether a failure is worth retrying.
func (n *WebhookNotifier) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docsync/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
}
