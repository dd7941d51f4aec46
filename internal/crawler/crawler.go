// Package crawler wires the session pool, scheduler, extractor and delivery fanout into a crawl run.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/listing-crawler/internal/delivery"
	"github.com/IliaW/listing-crawler/internal/extract"
	"github.com/IliaW/listing-crawler/internal/fetcher"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/scheduler"
	"github.com/IliaW/listing-crawler/internal/session"
)

// Crawler executes single request attempts. It is the scheduler.Handler of a run.
type Crawler struct {
	pool      *session.Pool
	fetcher   fetcher.Fetcher
	extractor *extract.Extractor
	fanout    *delivery.Fanout
	scheduler *scheduler.Scheduler
}

// Handle borrows a session, fetches and extracts the page and delivers its posts.
// Fetch and extraction failures mark the session dead and are retryable. A primary delivery
// failure is permanent for the request.
func (c *Crawler) Handle(ctx context.Context, req *model.Request) (int, error) {
	s, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	req.SessionID = s.ID
	outcome := session.OutcomeSuccess
	defer func() {
		c.pool.Release(s, outcome)
	}()

	slog.Debug("processing request.", slog.String("url", req.URL), slog.Int("attempt", req.Attempts),
		slog.String("session", s.ID))
	page, err := c.fetcher.Fetch(ctx, req.URL, s.Proxy)
	if err != nil {
		outcome = failureOutcome(ctx, err)
		return 0, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Warn("failed to close the page.", slog.String("url", req.URL), slog.String("err", err.Error()))
		}
	}()

	posts, _, err := c.extractor.Extract(ctx, page, req.URL)
	if err != nil {
		outcome = failureOutcome(ctx, err)
		return 0, err
	}

	if err = c.fanout.Deliver(ctx, req.URL, posts); err != nil {
		return 0, fmt.Errorf("%w: %w", scheduler.PermanentError, err)
	}
	return len(posts), nil
}

func (c *Crawler) Pool() *session.Pool {
	return c.pool
}

func (c *Crawler) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// failureOutcome keeps the session healthy when the attempt was interrupted by shutdown.
func failureOutcome(ctx context.Context, err error) session.Outcome {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return session.OutcomeSuccess
	}
	return session.OutcomeFailure
}
