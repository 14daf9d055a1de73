package backoff

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WaitReady polls url with GET until it answers 2xx or the policy is exhausted.
func WaitReady(ctx context.Context, client *http.Client, url string, p Policy) error {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return Retry(ctx, p, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Permanent(fmt.Errorf("build readiness request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	})
}
