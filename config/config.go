package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/spf13/viper"
)

var (
	InvalidLimitError  = errors.New("crawler limits must be positive")
	UnknownDriverError = errors.New("unknown dataset driver")
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Version            string            `mapstructure:"version"`
	CrawlerSettings    *CrawlerConfig    `mapstructure:"crawler"`
	SearchSettings     *SearchConfig     `mapstructure:"search"`
	ProxySettings      *ProxyConfig      `mapstructure:"proxy"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
	DatasetSettings    *DatasetConfig    `mapstructure:"dataset"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	SQSSettings        *SQSConfig        `mapstructure:"sqs"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
	ReportSettings     *ReportConfig     `mapstructure:"report"`
}

type CrawlerConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MaxRequestRetries int           `mapstructure:"max_request_retries"`
	MaxPagesPerCrawl  int           `mapstructure:"max_pages_per_crawl"`
	ProxyRotation     string        `mapstructure:"proxy_rotation"`
	SessionMaxUsage   int           `mapstructure:"session_max_usage"` // 0 keeps the rotation mode default
	ExternalAPI       string        `mapstructure:"external_api"`
	HealthCheck       string        `mapstructure:"healthcheck"`
	Headless          bool          `mapstructure:"headless"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 0 disables pacing
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout"`
	ResultsSelector   string        `mapstructure:"results_selector"`
	PostSelector      string        `mapstructure:"post_selector"`
	StartURLs         []string      `mapstructure:"start_urls"`
}

type SearchConfig struct {
	Locations []string          `mapstructure:"locations"`
	Category  string            `mapstructure:"category"`
	Query     string            `mapstructure:"query"`
	Filters   map[string]string `mapstructure:"filters"`
}

type ProxyConfig struct {
	URLs []string `mapstructure:"urls"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
	UserAgent                 string        `mapstructure:"user_agent"`
}

type DatasetConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	Path            string        `mapstructure:"path"` // sqlite file
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type CacheConfig struct {
	Servers     []string      `mapstructure:"servers"`
	SnapshotTtl time.Duration `mapstructure:"snapshot_ttl"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type SQSConfig struct {
	AwsBaseEndpoint     string `mapstructure:"aws_base_endpoint"`
	Region              string `mapstructure:"region"`
	QueueName           string `mapstructure:"queue_name"`
	MaxNumberOfMessages int32  `mapstructure:"max_number_of_messages"`
	WaitTimeSeconds     int32  `mapstructure:"wait_time_seconds"`
	VisibilityTimeout   int32  `mapstructure:"visibility_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type ReportConfig struct {
	Path string `mapstructure:"path"` // .yaml, .yml or .json
}

// MustLoad reads config.yaml from the working directory, or the file set by the --config flag.
func MustLoad(v *viper.Viper) *Config {
	cfg, err := Load(v)
	if err != nil {
		slog.Error("can't initialize config.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	return cfg
}

func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(path.Join("."))
		v.SetConfigName("config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "listing-crawler")
	v.SetDefault("crawler.max_concurrency", 5)
	v.SetDefault("crawler.max_request_retries", 3)
	v.SetDefault("crawler.max_pages_per_crawl", 100)
	v.SetDefault("crawler.proxy_rotation", string(model.RotationRecycle))
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.selector_timeout", 10*time.Second)
	v.SetDefault("crawler.results_selector", ".results")
	v.SetDefault("crawler.post_selector", ".result-node")
	v.SetDefault("search.category", "sss")
	v.SetDefault("http_client.request_timeout", 30*time.Second)
	v.SetDefault("http_client.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("dataset.driver", "sqlite")
	v.SetDefault("dataset.path", "./storage/dataset.db")
	v.SetDefault("cache.snapshot_ttl", 24*time.Hour)
	v.SetDefault("sqs.max_number_of_messages", 10)
	v.SetDefault("sqs.wait_time_seconds", 1)
	v.SetDefault("sqs.visibility_timeout", 30)
}

func (c *Config) Validate() error {
	if c.CrawlerSettings == nil {
		return fmt.Errorf("crawler section is missing: %w", InvalidLimitError)
	}
	cs := c.CrawlerSettings
	if cs.MaxConcurrency <= 0 || cs.MaxPagesPerCrawl <= 0 || cs.MaxRequestRetries < 0 || cs.SessionMaxUsage < 0 {
		return InvalidLimitError
	}
	if _, err := model.ParseRotationMode(cs.ProxyRotation); err != nil {
		return err
	}
	if c.DatasetSettings != nil {
		switch c.DatasetSettings.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("%w: %q", UnknownDriverError, c.DatasetSettings.Driver)
		}
	}
	return nil
}

// InputSchema is the read-only view of the crawler section handed to the engine.
func (c *Config) InputSchema() model.InputSchema {
	cs := c.CrawlerSettings
	mode, _ := model.ParseRotationMode(cs.ProxyRotation)
	input := model.InputSchema{
		MaxConcurrency:    cs.MaxConcurrency,
		MaxRequestRetries: cs.MaxRequestRetries,
		MaxPagesPerCrawl:  cs.MaxPagesPerCrawl,
		ProxyRotation:     mode,
		SessionMaxUsage:   cs.SessionMaxUsage,
		ExternalAPI:       cs.ExternalAPI,
		HealthCheck:       cs.HealthCheck,
		Headless:          cs.Headless,
		RequestsPerSecond: cs.RequestsPerSecond,
		SelectorTimeout:   cs.SelectorTimeout,
		ResultsSelector:   cs.ResultsSelector,
		PostSelector:      cs.PostSelector,
		StartURLs:         cs.StartURLs,
	}
	if c.ProxySettings != nil {
		input.ProxyURLs = c.ProxySettings.URLs
	}
	return input
}

func (c *Config) SearchInput() model.SearchInput {
	if c.SearchSettings == nil {
		return model.SearchInput{}
	}
	return model.SearchInput{
		Locations: c.SearchSettings.Locations,
		Category:  c.SearchSettings.Category,
		Query:     c.SearchSettings.Query,
		Filters:   c.SearchSettings.Filters,
	}
}
