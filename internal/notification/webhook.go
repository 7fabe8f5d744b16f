package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a generic endpoint (Slack relay,
// PagerDuty bridge, n8n and the like).
type WebhookNotifier struct {
	url     string
	service string
	host    string
	client  *http.Client
	now     func() time.Time
}

// webhookPayload is the body sent for every alert. service and host let
// one endpoint tell several accounts' guards apart.
type webhookPayload struct {
	Service string     `json:"service"`
	Host    string     `json:"host,omitempty"`
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TS      string     `json:"ts"`
}

func NewWebhookNotifier(url, service string) *WebhookNotifier {
	host, _ := os.Hostname()
	return &WebhookNotifier{
		url:     url,
		service: service,
		host:    host,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Service: w.service,
		Host:    w.host,
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		TS:      w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: %s answered %d", w.url, resp.StatusCode)
	}
	log.Printf("[webhook] %s alert delivered: %s", alert.Level, alert.Title)
	return nil
}
