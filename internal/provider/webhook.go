package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/retry"
)

const (
	// DeliveryAttempts bounds the tries for a single payload.
	DeliveryAttempts = 3

	// BackoffBase is the wait after the first failed attempt; it doubles
	// after each further failure.
	BackoffBase = time.Second

	// errorBodyLimit caps how much of a failed response is kept for logging.
	errorBodyLimit = 512
)

// WebhookDispatcher POSTs JSON payloads to Discord/Slack incoming webhooks.
type WebhookDispatcher struct {
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

func NewWebhookDispatcher(timeout time.Duration, logger *zap.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: retry.Policy{
			MaxAttempts: DeliveryAttempts,
			Backoff:     retry.Exponential(BackoffBase),
		},
		logger: logger,
	}
}

// WithPolicy replaces the retry policy. Tests use it to record waits
// instead of sleeping.
func (d *WebhookDispatcher) WithPolicy(p retry.Policy) *WebhookDispatcher {
	d.policy = p
	return d
}

// Deliver sends payload to endpoint. Any 2xx response counts as delivered.
// A 429 waits for the Retry-After header when present; every other failure
// backs off exponentially.
func (d *WebhookDispatcher) Deliver(ctx context.Context, endpoint string, payload any) bool {
	log := d.logger.With(zap.String("endpoint", redact(endpoint)))

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal webhook payload", zap.Error(err))
		return false
	}

	err = d.policy.Do(ctx, func(attempt int) error {
		err := d.post(ctx, endpoint, body)
		if err != nil {
			log.Warn("webhook attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", d.policy.MaxAttempts),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		log.Error("webhook delivery failed", zap.Error(err))
		return false
	}
	return true
}

func (d *WebhookDispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	statusErr := fmt.Errorf("unexpected webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	if resp.StatusCode == http.StatusTooManyRequests {
		if after, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retry.RetryAfterError{Err: statusErr, After: after}
		}
	}
	return statusErr
}

// parseRetryAfter reads a delay in seconds. Discord may send fractional
// seconds, so the value is parsed as a float.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// redact drops the path of a webhook URL; the path carries the secret token.
func redact(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		if j := strings.IndexByte(endpoint[i+3:], '/'); j >= 0 {
			return endpoint[:i+3+j] + "/…"
		}
	}
	return endpoint
}
