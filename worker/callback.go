// Package worker holds the pieces of the worker contract the kernel
// ships: reporting a result through the presigned callback URL. Worker
// runtimes themselves live outside the kernel.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pithecene-io/foreman/types"
)

const (
	maxAttempts     = 3
	initialInterval = time.Second
)

// Reporter writes callback results through presigned URLs.
type Reporter struct {
	client *http.Client
}

// NewReporter creates a reporter with a bounded HTTP client.
func NewReporter() *Reporter {
	return &Reporter{client: &http.Client{Timeout: 30 * time.Second}}
}

// Report PUTs the result to the callback URL. Logs are truncated to the
// size cap before upload; transient failures retry up to three times.
// This write is the worker's one obligation: once it lands, the
// orchestrator takes over.
func (r *Reporter) Report(ctx context.Context, callbackURL string, result *types.CallbackResult) error {
	trimmed := *result
	trimmed.Log = types.TruncateLog(trimmed.Log)

	payload, err := json.Marshal(&trimmed)
	if err != nil {
		return fmt.Errorf("marshal callback result: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.put(ctx, callbackURL, payload)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	return nil
}

func (r *Reporter) put(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("callback put: status %d: %s", resp.StatusCode, body)
		// 4xx means the URL is wrong or expired; retrying cannot help.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}
