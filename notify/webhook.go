// Package notify delivers best-effort webhook notifications for custody
// events. Delivery is fire and forget: a slow or dead receiver must never
// stall or fail the signing path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const deliveryTimeout = 5 * time.Second

// WebhookNotifier POSTs event payloads as JSON to a configured endpoint.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewWebhookNotifier creates a notifier for the given endpoint. An empty
// endpoint yields a notifier that drops every event, so callers never need
// to nil-check.
func NewWebhookNotifier(endpoint string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: deliveryTimeout},
		log:      log,
	}
}

// event is the wire shape of a delivered notification.
type event struct {
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Notify delivers the event in the background. The caller's context is not
// used for delivery so that in-flight notifications survive request
// completion.
func (n *WebhookNotifier) Notify(_ context.Context, action string, payload map[string]string) {
	if n.endpoint == "" {
		return
	}

	body, err := json.Marshal(event{
		Action:    action,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		n.log.Error("Failed to marshal webhook event", slog.String("action", action), "err", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
		if err != nil {
			n.log.Error("Failed to build webhook request", slog.String("action", action), "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.log.Warn("Webhook delivery failed",
				slog.String("action", action),
				slog.String("endpoint", n.endpoint),
				"err", err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.log.Warn("Webhook receiver rejected event",
				slog.String("action", action),
				slog.Int("status", resp.StatusCode))
		}
	}()
}
