package notify

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

	"golang.org/x/time/rate"
)

const (
	sendTimeout      = 10 * time.Second
	sendAttempts     = 3
	sendRetryBackoff = 2 * time.Second
	sendInterval     = time.Second
)

// Discord posts webhook payloads. Sends are paced to one per second and
// retried a bounded number of times; a payload that exhausts its retries
// fails on its own without affecting sibling payloads.
type Discord struct {
	webhookURL   string
	client       *http.Client
	limiter      *rate.Limiter
	log          *slog.Logger
	attempts     int
	retryBackoff time.Duration
}

func NewDiscord(webhookURL string, log *slog.Logger) *Discord {
	return &Discord{
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: sendTimeout},
		limiter:      rate.NewLimiter(rate.Every(sendInterval), 1),
		log:          log,
		attempts:     sendAttempts,
		retryBackoff: sendRetryBackoff,
	}
}

// Send delivers one payload, returning nil only on a confirmed success
// response. A 429 stretches the retry delay to the server's Retry-After
// when that is longer than the fixed backoff.
func (d *Discord) Send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var errs []error

	for attempt := 1; attempt <= d.attempts; attempt++ {
		if waitErr := d.limiter.Wait(ctx); waitErr != nil {
			errs = append(errs, fmt.Errorf("wait for rate limiter: %w", waitErr))
			break
		}

		retryAfter, sendErr := d.post(ctx, body)
		if sendErr == nil {
			return nil
		}

		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, sendErr))

		if attempt == d.attempts {
			break
		}

		delay := d.retryBackoff
		if retryAfter > delay {
			delay = retryAfter
		}

		d.log.WarnContext(ctx, "Webhook send failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", sendErr)

		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("send payload: %w", errors.Join(errs...))
}

func (d *Discord) post(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.log.ErrorContext(ctx, "Failed to close response body",
				"error", closeErr,
				"operation", "post")
		}
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return 0, nil
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, parseErr := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); parseErr == nil {
			retryAfter = time.Duration(seconds * float64(time.Second))
		}
	}

	return retryAfter, fmt.Errorf("unexpected status: %d", resp.StatusCode)
}
