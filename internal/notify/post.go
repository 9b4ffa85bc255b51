package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendTimeout = 10 * time.Second

// apiError is the error body shared closely enough by the Telegram Bot API
// and Discord webhooks.
type apiError struct {
	Description string  `json:"description"` // telegram
	Message     string  `json:"message"`     // discord
	RetryAfter  float64 `json:"retry_after"` // discord, seconds
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"` // telegram
}

func (e apiError) text() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Message
}

func (e apiError) retryAfter() time.Duration {
	if e.Parameters.RetryAfter > 0 {
		return time.Duration(e.Parameters.RetryAfter) * time.Second
	}
	return time.Duration(e.RetryAfter * float64(time.Second))
}

// postJSON posts payload to url and turns a non-2xx reply into an error
// carrying the API's own description.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) != nil || apiErr.text() == "" {
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if wait := apiErr.retryAfter(); wait > 0 {
		return fmt.Errorf("%s: status %d: %s (retry after %s)", name, resp.StatusCode, apiErr.text(), wait)
	}
	return fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, apiErr.text())
}
