package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lychevd/ETL/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// Webhook POSTs the run result as JSON to one URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(rawURL string, timeout time.Duration) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New("webhook url must be http or https")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{url: rawURL, client: &http.Client{Timeout: timeout}}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, result domain.ExecutionResult) error {
	body, err := json.Marshal(buildPayload(result))
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post result: status %d", resp.StatusCode)
	}
	return nil
}
