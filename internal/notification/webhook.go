package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted for every alert.
type webhookPayload struct {
	Service string `json:"service"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	TS      string `json:"ts"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint
// (Slack-compatible relays, alertmanager bridges and the like).
type WebhookNotifier struct {
	url     string
	service string
	client  *http.Client
}

// NewWebhookNotifier creates a notifier that POSTs to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		service: "dhanfeed",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Notifier. Non-2xx answers are errors carrying the start
// of the response body.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Service: w.service,
		Level:   string(alert.Level),
		Title:   alert.Title,
		Message: alert.Message,
		TS:      alert.at().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %q: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
