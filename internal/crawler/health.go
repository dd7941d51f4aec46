package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

var HealthCheckError = errors.New("health check failed")

// HealthCheck requests the configured health-check URL. It returns nil when no URL is configured.
// The result is advisory: Prepare logs it and continues.
func (s *Setup) HealthCheck(ctx context.Context) error {
	return HealthCheck(ctx, s.httpClient, s.input.HealthCheck)
}

// HealthCheck succeeds when url answers a GET with a 2xx status. An empty url always succeeds.
func HealthCheck(ctx context.Context, client *http.Client, url string) error {
	if url == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", HealthCheckError, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", HealthCheckError, err)
	}
	defer func(Body io.ReadCloser) {
		if err = Body.Close(); err != nil {
			slog.Warn("failed to close the response body.", slog.String("err", err.Error()))
		}
	}(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status code %d", HealthCheckError, resp.StatusCode)
	}
	slog.Debug("health check passed.", slog.String("url", url))
	return nil
}
