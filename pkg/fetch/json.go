package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GetJSON performs a GET through Do and decodes a 2xx JSON body into v.
// The final status code is always returned when a response was obtained, so
// pagination loops can distinguish "skip this term after exhausted retries"
// (429/5xx) from "this query is malformed, stop" (other 4xx). Non-2xx
// bodies are drained and discarded.
func GetJSON(ctx context.Context, client *http.Client, url string, header http.Header, tuning Tuning, v interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")

	resp, err := Do(ctx, client, req, tuning)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return resp.StatusCode, nil
}

// Retryable reports whether a status code is in the retried class. Sources
// use it to decide between skipping a term (throttled upstream) and
// abandoning it (a query the upstream rejects outright).
func Retryable(status int) bool {
	return shouldRetry(status)
}
