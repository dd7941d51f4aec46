package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/IliaW/listing-crawler/config"
	"github.com/IliaW/listing-crawler/internal/aws_sqs"
	"github.com/IliaW/listing-crawler/internal/broker"
	"github.com/IliaW/listing-crawler/internal/cache"
	"github.com/IliaW/listing-crawler/internal/crawler"
	"github.com/IliaW/listing-crawler/internal/delivery"
	"github.com/IliaW/listing-crawler/internal/fetcher"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/persistence"
	"github.com/IliaW/listing-crawler/internal/report"
	"github.com/IliaW/listing-crawler/internal/telemetry"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg *config.Config
	db  *sql.DB
	v   = viper.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "listing-crawler",
		Short:         "Crawl Craigslist search results into a dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				v.SetConfigFile(path)
			}
			cfg = config.MustLoad(v)
			setupLogger()
			return nil
		},
		RunE: runCrawl,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to the config file (default ./config.yaml)")
	cmd.Flags().Int("max-pages", 0, "maximum number of pages to process")
	cmd.Flags().Int("max-concurrency", 0, "maximum number of pages fetched at the same time")
	cmd.Flags().Bool("headless", true, "fetch pages without a UI")
	_ = v.BindPFlag("crawler.max_pages_per_crawl", cmd.Flags().Lookup("max-pages"))
	_ = v.BindPFlag("crawler.max_concurrency", cmd.Flags().Lookup("max-concurrency"))
	_ = v.BindPFlag("crawler.headless", cmd.Flags().Lookup("headless"))

	cmd.AddCommand(newHealthCheckCmd())
	return cmd
}

func newHealthCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Request the configured health-check URL and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := cfg.CrawlerSettings.HealthCheck
			if url == "" {
				slog.Info("no health-check url configured.")
				return nil
			}
			if err := crawler.HealthCheck(cmd.Context(), setupHttpClient(), url); err != nil {
				return err
			}
			slog.Info("health check passed.", slog.String("url", url))
			return nil
		},
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	db = setupDatabase()
	defer closeDatabase()
	datasetRepo := persistence.NewDatasetRepository(db, cfg.DatasetSettings.Driver)
	if err := datasetRepo.Migrate(ctx); err != nil {
		slog.Error("failed to migrate the dataset.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	httpClient := setupHttpClient()
	runID := uuid.New().String()

	deps := crawler.Deps{
		RunID: runID,
		Fetcher: fetcher.NewHttpFetcher(httpClient,
			fetcher.WithUserAgent(cfg.HttpClientSettings.UserAgent),
			fetcher.WithHeadless(cfg.CrawlerSettings.Headless)),
		Primary:    datasetRepo,
		HttpClient: httpClient,
		Metrics:    metrics,
	}
	if snapshots := setupSnapshotStore(); snapshots != nil {
		defer snapshots.Close()
		deps.Snapshots = snapshots
	}
	if cfg.KafkaSettings != nil && cfg.KafkaSettings.Producer != nil && len(cfg.KafkaSettings.Producer.Addr) > 0 {
		producer := cfg.KafkaSettings.Producer
		if producer.DeadLetterTopicName != "" {
			kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, runID, producer)
			defer kafkaDLQ.Close()
			deps.DLQ = kafkaDLQ
		}
		if producer.WriteTopicName != "" {
			kafka := broker.NewKafkaProducer(runID, metrics.SinkMetrics, producer)
			kafka.Start()
			// closed after the run has waited for its forwarders
			defer kafka.Close()
			deps.Forwarders = []delivery.Forwarder{kafka}
		}
	}
	if cfg.SQSSettings != nil && cfg.SQSSettings.QueueName != "" {
		seeds, err := aws_sqs.NewSeedReader(ctx, cfg.Env, cfg.SQSSettings)
		if err != nil {
			slog.Error("failed to connect to sqs.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		deps.Seeds = seeds
	}

	setup, err := crawler.NewSetup(cfg, deps)
	if err != nil {
		return err
	}
	if err = setup.Prepare(ctx); err != nil {
		return err
	}
	slog.Info("starting application.", slog.String("env", cfg.Env), slog.String("run_id", runID))

	summary, err := setup.Run(ctx)
	if summary != nil {
		logSummary(summary)
		if cfg.ReportSettings != nil && cfg.ReportSettings.Path != "" {
			path := cfg.ReportSettings.Path
			if reportErr := report.Write(path, summary); reportErr != nil {
				slog.Error("failed to write the run report.", slog.String("err", reportErr.Error()))
			} else {
				slog.Info("run report written.", slog.String("path", path))
			}
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("crawl interrupted.")
			return nil
		}
		return err
	}
	slog.Info("crawl finished.")
	return nil
}

func logSummary(summary *model.RunSummary) {
	slog.Info("run summary.",
		slog.String("run_id", summary.RunID),
		slog.String("duration", summary.Duration),
		slog.Int("enqueued", summary.Enqueued),
		slog.Int("completed", summary.Completed),
		slog.Int("dropped", summary.Dropped),
		slog.Int("failed", summary.Failed),
		slog.Int("discarded", summary.Discarded),
		slog.Int("retries", summary.Retries),
		slog.Int("posts", summary.Posts))
	for _, f := range summary.Failures {
		slog.Warn("request not delivered.", slog.String("url", f.URL), slog.Int("attempts", f.Attempts),
			slog.String("err", f.Error))
	}
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the dataset database...", slog.String("driver", cfg.DatasetSettings.Driver))
	database, err := persistence.Open(cfg.DatasetSettings)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

// setupSnapshotStore returns nil when no memcached servers are configured.
func setupSnapshotStore() *cache.SnapshotStore {
	if cfg.CacheSettings == nil || len(cfg.CacheSettings.Servers) == 0 {
		slog.Debug("snapshot store is disabled.")
		return nil
	}
	store, err := cache.NewSnapshotStore(cfg.CacheSettings)
	if err != nil {
		slog.Error("failed to connect to memcached.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	return store
}

func setupHttpClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.HttpClientSettings.RequestTimeout,
	}
}
