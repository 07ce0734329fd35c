package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Webhook delivers each result as a JSON envelope in a POST request.
//
// Transport errors, 429 and 5xx responses are retried with a doubling
// delay, or after Retry-After when the receiver sends one. Other non-2xx
// responses fail at once: resending the same body will not change them.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed delivery is resent.
// Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the delay before the first resend. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.delay = d }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		delay:   time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// errPermanent marks a response that resending cannot fix.
var errPermanent = errors.New("permanent")

func (w *Webhook) Report(ctx context.Context, kind string, r Result) error {
	body, err := json.Marshal(envelope{Type: kind, Data: r})
	if err != nil {
		return fmt.Errorf("webhook: encode %s: %w", r.CheckID, err)
	}

	delay := w.delay
	for attempt := 1; ; attempt++ {
		wait, err := w.post(ctx, kind, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || attempt > w.retries {
			return fmt.Errorf("webhook: %s after %d attempt(s): %w", r.CheckID, attempt, err)
		}
		if wait <= 0 {
			wait = delay
			delay *= 2
		}
		w.logger.Warn("webhook: delivery failed, retrying", "check", r.CheckID, "attempt", attempt, "in", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// post sends body once. A retryable failure may come with the delay the
// receiver asked for.
func (w *Webhook) post(ctx context.Context, kind string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Domready-Kind", kind)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests || code >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("status %d", code)
	default:
		return 0, fmt.Errorf("%w: status %d", errPermanent, code)
	}
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates and
// garbage give zero, which falls back to the backoff.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (w *Webhook) Close() error { return nil }
