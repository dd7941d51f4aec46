// Package scheduler runs queued requests with bounded concurrency, retries and a page ceiling.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/telemetry"
	"golang.org/x/time/rate"
)

var (
	// PermanentError marks a request failure that must not be retried.
	PermanentError    = errors.New("permanent request failure")
	InvalidLimitError = errors.New("scheduler limits must be positive")
)

// Handler executes one attempt of a request and reports how many posts it produced.
type Handler interface {
	Handle(ctx context.Context, req *model.Request) (int, error)
}

type HandlerFunc func(ctx context.Context, req *model.Request) (int, error)

func (f HandlerFunc) Handle(ctx context.Context, req *model.Request) (int, error) {
	return f(ctx, req)
}

type Options struct {
	RunID             string
	MaxConcurrency    int
	MaxRequestRetries int
	MaxPagesPerCrawl  int
	RequestsPerSecond float64 // 0 disables pacing
	Metrics           *telemetry.CrawlerMetrics
	// OnDropped is called once for every request that exhausted its retries. It runs in its own
	// goroutine; Run waits for pending calls before returning.
	OnDropped func(req *model.Request)
}

type Scheduler struct {
	opts    Options
	handler Handler
	limiter *rate.Limiter

	mu       sync.Mutex
	pending  []*model.Request
	requests []*model.Request
	seen     map[string]struct{}

	peakInFlight atomic.Int64
	hooks        sync.WaitGroup
}

type result struct {
	req   *model.Request
	posts int
	err   error
}

func New(opts Options, handler Handler) (*Scheduler, error) {
	if opts.MaxConcurrency <= 0 || opts.MaxPagesPerCrawl <= 0 || opts.MaxRequestRetries < 0 {
		return nil, InvalidLimitError
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Noop().CrawlerMetrics
	}
	s := &Scheduler{
		opts:    opts,
		handler: handler,
		seen:    make(map[string]struct{}),
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return s, nil
}

// Enqueue adds requests for urls not seen before and returns how many were added.
// It is safe to call from a Handler while Run is active.
func (s *Scheduler) Enqueue(urls ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, u := range urls {
		if _, ok := s.seen[u]; ok {
			slog.Debug("skip duplicate request.", slog.String("url", u))
			continue
		}
		s.seen[u] = struct{}{}
		req := model.NewRequest(u)
		s.pending = append(s.pending, req)
		s.requests = append(s.requests, req)
		added++
	}
	return added
}

// Run dispatches pending requests until the queue is empty, the page ceiling is reached or ctx is
// cancelled. On cancellation in-flight requests are drained and the partial summary is returned
// together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		RunID:     s.opts.RunID,
		StartedAt: time.Now(),
		Failures:  []model.RequestFailure{},
	}
	results := make(chan result, s.opts.MaxConcurrency)
	inFlight := 0

	for {
		if ctx.Err() == nil {
			inFlight += s.dispatch(ctx, results, summary.Processed(), inFlight)
		}
		if inFlight == 0 {
			break
		}
		r := <-results
		inFlight--
		s.complete(ctx, r, summary)
	}

	s.mu.Lock()
	summary.Enqueued = len(s.requests)
	summary.Discarded = len(s.pending)
	for _, req := range s.pending {
		req.State = model.StatePending
		if req.Attempts > 0 && req.LastErr != nil {
			summary.Failures = append(summary.Failures, failure(req))
		}
	}
	s.pending = nil
	s.mu.Unlock()
	s.hooks.Wait()
	if summary.Discarded > 0 {
		slog.Info("pending requests discarded.", slog.Int("discarded", summary.Discarded))
		s.opts.Metrics.DiscardedCnt(int64(summary.Discarded))
	}

	summary.FinishedAt = time.Now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt).String()
	return summary, ctx.Err()
}

// dispatch starts as many pending requests as the limits allow and returns how many it started.
func (s *Scheduler) dispatch(ctx context.Context, results chan<- result, processed, inFlight int) int {
	started := 0
	for inFlight+started < s.opts.MaxConcurrency && processed+inFlight+started < s.opts.MaxPagesPerCrawl {
		req := s.pop()
		if req == nil {
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.pushFront(req)
				break
			}
		}
		req.Attempts++
		req.State = model.StateInFlight
		started++
		if n := int64(inFlight + started); n > s.peakInFlight.Load() {
			s.peakInFlight.Store(n)
		}

		go func(req *model.Request) {
			posts, err := s.handler.Handle(ctx, req)
			results <- result{req: req, posts: posts, err: err}
		}(req)
	}
	return started
}

func (s *Scheduler) complete(ctx context.Context, r result, summary *model.RunSummary) {
	req := r.req
	// interrupted by shutdown, not by the request itself
	interrupted := ctx.Err() != nil &&
		(errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded))
	if !interrupted {
		req.LastErr = r.err
	}

	switch {
	case r.err == nil:
		req.State = model.StateCompleted
		summary.Completed++
		summary.Posts += r.posts
		s.opts.Metrics.CompletedCnt(1)
		s.opts.Metrics.PostsCnt(int64(r.posts))
		slog.Debug("request completed.", slog.String("url", req.URL), slog.Int("posts", r.posts))
	case interrupted:
		req.Attempts--
		req.State = model.StatePending
		s.pushFront(req)
	case errors.Is(r.err, PermanentError):
		req.State = model.StateFailed
		summary.Failed++
		summary.Failures = append(summary.Failures, failure(req))
		s.opts.Metrics.FailedCnt(1)
		slog.Error("request failed.", slog.String("url", req.URL), slog.String("err", r.err.Error()))
	case req.RetryCount() < s.opts.MaxRequestRetries:
		req.State = model.StateRetrying
		summary.Retries++
		s.opts.Metrics.RetriedCnt(1)
		slog.Warn("request failed, retrying.", slog.String("url", req.URL), slog.Int("attempt", req.Attempts),
			slog.String("err", r.err.Error()))
		// retries run before fresh requests so they are not starved by the page ceiling
		s.pushFront(req)
	default:
		req.State = model.StateDropped
		summary.Dropped++
		summary.Failures = append(summary.Failures, failure(req))
		s.opts.Metrics.DroppedCnt(1)
		slog.Error("request dropped after retries.", slog.String("url", req.URL),
			slog.Int("attempts", req.Attempts), slog.String("err", r.err.Error()))
		if s.opts.OnDropped != nil {
			s.hooks.Add(1)
			go func() {
				defer s.hooks.Done()
				s.opts.OnDropped(req)
			}()
		}
	}
}

func (s *Scheduler) pop() *model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	return req
}

func (s *Scheduler) pushFront(req *model.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]*model.Request{req}, s.pending...)
}

// PeakInFlight is the highest number of requests executed at the same time.
func (s *Scheduler) PeakInFlight() int {
	return int(s.peakInFlight.Load())
}

// Requests returns every request enqueued so far in enqueue order.
func (s *Scheduler) Requests() []*model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func failure(req *model.Request) model.RequestFailure {
	return model.RequestFailure{URL: req.URL, Attempts: req.Attempts, Error: req.LastErr.Error()}
}
