package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/server/metrics"
)

// Notifier delivers notifications to webhooks
type Notifier struct {
	httpClient *http.Client
	log        zerolog.Logger
	attempts   int
	backoff    func(attempt int) time.Duration
}

// NewNotifier creates a new notifier
func NewNotifier(log zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:      log,
		attempts: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// SendWebhook posts a notification, retrying with quadratic backoff.
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to marshal notification")
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return err
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.backoff(attempt)):
			case <-ctx.Done():
				metrics.NotificationsTotal.WithLabelValues("failed").Inc()
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DMX-Event", notification.Event.Type)
		req.Header.Set("X-DMX-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.log.Warn().Err(err).Int("attempt", attempt+1).Str("url", url).Msg("webhook delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Debug().Str("url", url).Msg("webhook delivered")
			metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
			return nil
		}

		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.log.Warn().Int("attempt", attempt+1).Int("status", resp.StatusCode).Str("url", url).Msg("webhook rejected")
	}

	n.log.Error().Err(lastErr).Str("url", url).Int("attempts", n.attempts).Msg("webhook delivery gave up")
	metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	return lastErr
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s answered %d", e.URL, e.StatusCode)
}
