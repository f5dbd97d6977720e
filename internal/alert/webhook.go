package alert

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
)

var httpClient = &http.Client{Timeout: requestTimeout}

// Send posts an alert event to a webhook endpoint. Server errors are
// retried with linear backoff; a 4xx rejection is final, the payload will
// not become acceptable by retrying.
func Send(cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * time.Second)
		}
		lastErr = post(cfg, body)
		if lastErr == nil {
			return nil
		}
		var rejected *rejectedError
		if errors.As(lastErr, &rejected) {
			return lastErr
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

type rejectedError struct {
	status int
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("webhook rejected: HTTP %d", e.status)
}

func post(cfg AlertConfig, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &rejectedError{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
