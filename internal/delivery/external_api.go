package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/IliaW/listing-crawler/internal/model"
)

// ExternalAPI posts every batch as a JSON array to a configured endpoint.
type ExternalAPI struct {
	url    string
	client *http.Client
}

func NewExternalAPI(url string, client *http.Client) *ExternalAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &ExternalAPI{url: url, client: client}
}

func (a *ExternalAPI) Name() string {
	return "external api"
}

func (a *ExternalAPI) Forward(ctx context.Context, _ string, posts []model.CraigslistPost) error {
	body, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("marshal posts: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		if err = Body.Close(); err != nil {
			slog.Warn("failed to close the response body.", slog.String("err", err.Error()))
		}
	}(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("external api responded with status code %d", resp.StatusCode)
	}
	return nil
}
