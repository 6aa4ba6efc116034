package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchDump downloads a backup file for a remote restore. Transport errors
// and 5xx responses are retried; any other non-200 status fails immediately.
// The body is capped at maxBytes so a misbehaving source cannot exhaust
// memory.
func FetchDump(ctx context.Context, client *http.Client, url string, maxBytes int64, retries int, retryDelay time.Duration) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("fetch dump: status %d from %s", resp.StatusCode, url)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("fetch dump: status %d from %s", resp.StatusCode, url)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if int64(len(body)) > maxBytes {
			return nil, fmt.Errorf("fetch dump: body exceeds %d bytes", maxBytes)
		}
		return body, nil
	}
	return nil, lastErr
}
