package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/IliaW/listing-crawler/config"
	"github.com/IliaW/listing-crawler/internal/delivery"
	"github.com/IliaW/listing-crawler/internal/extract"
	"github.com/IliaW/listing-crawler/internal/fetcher"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/scheduler"
	"github.com/IliaW/listing-crawler/internal/session"
	"github.com/IliaW/listing-crawler/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	NoSeedsError     = errors.New("no start urls to crawl")
	NotPreparedError = errors.New("crawler is not prepared")
	MissingDepError  = errors.New("required dependency is missing")
)

type SeedSource interface {
	ReadSeeds(ctx context.Context) ([]string, error)
}

type DeadLetterQueue interface {
	SendRequestToDLQ(url string, attempts int, err error)
}

// Deps are the collaborators of a run. Fetcher and Primary are required; nil optional fields
// disable the feature they serve.
type Deps struct {
	RunID      string
	Fetcher    fetcher.Fetcher
	Primary    delivery.PrimarySink
	Forwarders []delivery.Forwarder
	Snapshots  extract.SnapshotStore
	Seeds      SeedSource
	DLQ        DeadLetterQueue
	HttpClient *http.Client
	Metrics    *telemetry.MetricsProvider
}

// Setup is the composition root of one crawl run.
type Setup struct {
	input      model.InputSchema
	search     model.SearchInput
	deps       Deps
	runID      string
	httpClient *http.Client
	metrics    *telemetry.MetricsProvider

	crawler *Crawler
	seeds   []string
}

func NewSetup(cfg *config.Config, deps Deps) (*Setup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil || deps.Primary == nil {
		return nil, fmt.Errorf("%w: fetcher and primary sink", MissingDepError)
	}
	s := &Setup{
		input:      cfg.InputSchema(),
		search:     cfg.SearchInput(),
		deps:       deps,
		runID:      deps.RunID,
		httpClient: deps.HttpClient,
		metrics:    deps.Metrics,
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}
	return s, nil
}

func (s *Setup) RunID() string {
	return s.runID
}

// Prepare runs the advisory health check and collects seeds concurrently, then builds the
// crawler. The health check result never fails Prepare.
func (s *Setup) Prepare(ctx context.Context) error {
	policy, err := session.DerivePolicy(s.input.ProxyRotation, s.input.MaxConcurrency, s.input.SessionMaxUsage)
	if err != nil {
		return err
	}

	var queued []string
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.HealthCheck(gCtx); err != nil {
			slog.Warn("health check failed, continuing.", slog.String("err", err.Error()))
		}
		return nil
	})
	if s.deps.Seeds != nil {
		g.Go(func() error {
			seeds, err := s.deps.Seeds.ReadSeeds(gCtx)
			if err != nil {
				return fmt.Errorf("read seeds: %w", err)
			}
			queued = seeds
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	seeds, err := s.seedURLs(queued)
	if err != nil {
		return err
	}

	slog.Info("crawler prepared.", slog.String("run_id", s.runID), slog.String("policy", policy.String()),
		slog.Int("max_concurrency", s.input.MaxConcurrency), slog.Int("max_retries", s.input.MaxRequestRetries),
		slog.Int("max_pages", s.input.MaxPagesPerCrawl), slog.Bool("headless", s.input.Headless),
		slog.Int("seeds", len(seeds)))

	c, err := s.build(policy)
	if err != nil {
		return err
	}
	c.scheduler.Enqueue(seeds...)
	s.crawler = c
	s.seeds = seeds
	return nil
}

func (s *Setup) build(policy session.Policy) (*Crawler, error) {
	forwarders := make([]delivery.Forwarder, 0, len(s.deps.Forwarders)+1)
	if s.input.ExternalAPI != "" {
		forwarders = append(forwarders, delivery.NewExternalAPI(s.input.ExternalAPI, s.httpClient))
	}
	forwarders = append(forwarders, s.deps.Forwarders...)

	c := &Crawler{
		pool:    session.NewPool(policy, s.input.ProxyURLs, s.metrics.SessionMetrics),
		fetcher: s.deps.Fetcher,
		extractor: extract.New(s.deps.Snapshots,
			extract.WithResultsSelector(s.input.ResultsSelector),
			extract.WithPostSelector(s.input.PostSelector),
			extract.WithWaitTimeout(s.input.SelectorTimeout)),
		fanout: delivery.NewFanout(s.runID, s.deps.Primary, s.metrics.SinkMetrics, forwarders...),
	}

	var onDropped func(req *model.Request)
	if s.deps.DLQ != nil {
		onDropped = func(req *model.Request) {
			s.deps.DLQ.SendRequestToDLQ(req.URL, req.Attempts, req.LastErr)
		}
	}
	sch, err := scheduler.New(scheduler.Options{
		RunID:             s.runID,
		MaxConcurrency:    s.input.MaxConcurrency,
		MaxRequestRetries: s.input.MaxRequestRetries,
		MaxPagesPerCrawl:  s.input.MaxPagesPerCrawl,
		RequestsPerSecond: s.input.RequestsPerSecond,
		Metrics:           s.metrics.CrawlerMetrics,
		OnDropped:         onDropped,
	}, c)
	if err != nil {
		return nil, err
	}
	c.scheduler = sch
	return c, nil
}

// seedURLs merges search URLs, explicit start URLs and queued seeds in that order.
func (s *Setup) seedURLs(queued []string) ([]string, error) {
	var seeds []string
	if len(s.search.Locations) > 0 {
		search, err := model.NewSearch(s.search)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, search.URLs()...)
	}
	seeds = append(seeds, s.input.StartURLs...)
	seeds = append(seeds, queued...)
	if len(seeds) == 0 {
		return nil, NoSeedsError
	}
	return seeds, nil
}

// Crawler returns the wired crawler, or nil before Prepare.
func (s *Setup) Crawler() *Crawler {
	return s.crawler
}

// Seeds returns the start URLs collected by Prepare.
func (s *Setup) Seeds() []string {
	return s.seeds
}

// Run crawls every seed and waits for background forwarders before returning the summary.
func (s *Setup) Run(ctx context.Context) (*model.RunSummary, error) {
	if s.crawler == nil {
		return nil, NotPreparedError
	}
	slog.Info("starting crawl.", slog.String("run_id", s.runID))
	summary, err := s.crawler.scheduler.Run(ctx)
	s.crawler.fanout.Close()
	return summary, err
}
