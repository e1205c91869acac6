package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// WebhookNotifier POSTs each routing event as JSON.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &WebhookNotifier{url: cfg.URL, client: client, timeout: timeout, retries: retries}, nil
}

func (w *WebhookNotifier) AlertAssigned(ctx context.Context, a models.Assignment) error {
	return w.post(ctx, assignedEvent(a))
}

func (w *WebhookNotifier) RuleTriggered(ctx context.Context, n models.RuleNotification) error {
	return w.post(ctx, ruleEvent(n))
}

func (w *WebhookNotifier) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook marshal event: %w", err)
	}
	attempts := w.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("webhook build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("webhook unavailable: %s", resp.Status)
			case resp.StatusCode >= 300:
				cancel()
				return fmt.Errorf("webhook rejected event: %s", resp.Status)
			default:
				cancel()
				return nil
			}
		}
		cancel()
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}
