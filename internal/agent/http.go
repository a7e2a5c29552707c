package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/promptline/promptline/internal/types"
)

// maxResponseBytes bounds how much of a provider response is read
const maxResponseBytes = 1 << 20

type jsonClient struct {
	provider types.Provider
	http     *http.Client
	baseURL  string
	headers  map[string]string
}

// do sends body (when non-nil) as JSON and decodes a 2xx response into out
// (when non-nil). Non-2xx answers become *APIError.
func (c *jsonClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s API call failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Class:      Classify(resp.StatusCode),
			Message:    errorMessage(data),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.provider, err)
	}
	return nil
}

// errorMessage pulls a readable message out of an error body. Providers use
// {"error": "..."}, {"error": {"message": "..."}} or {"message": "..."}.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Details string          `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Details != "" {
			return parsed.Details
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" || strings.HasPrefix(text, "<") {
		return "unknown error"
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
