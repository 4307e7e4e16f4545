// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Config captures every knob of a crawl run.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// CrawlerConfig governs the worker pool, the parse pool and the fetcher.
type CrawlerConfig struct {
	Seeds           []string      `mapstructure:"seeds"`
	Workers         int           `mapstructure:"workers"`
	ParseWorkers    int           `mapstructure:"parse_workers"`
	ParseQueue      int           `mapstructure:"parse_queue"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxPages        int           `mapstructure:"max_pages"`
	NormalizeURLs   bool          `mapstructure:"normalize_urls"`
}

// HTTPConfig configures fetch retries.
type HTTPConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PubSubConfig holds the Pub/Sub notification settings. LifecycleTopic is
// optional; when set, crawl start and end events are published there too.
type PubSubConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	LifecycleTopic string `mapstructure:"lifecycle_topic"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"seed":          "crawler.seeds",
	"workers":       "crawler.workers",
	"parse-workers": "crawler.parse_workers",
	"timeout":       "crawler.request_timeout",
	"max-pages":     "crawler.max_pages",
	"port":          "server.port",
	"user-agent":    "crawler.user_agent",
	"development":   "logging.development",
}

// Load builds a Config from defaults, an optional file, CRAWLER_* environment
// variables and any of the known flags present in flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.workers", 16)
	v.SetDefault("crawler.parse_workers", runtime.NumCPU())
	v.SetDefault("crawler.parse_queue", 0)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "frontier-crawler/0.1")
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.max_conns_per_host", 8)
	v.SetDefault("crawler.max_idle_conns", 100)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.normalize_urls", true)
	v.SetDefault("http.max_retries", 1)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 0)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 512)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.log_events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.ParseWorkers <= 0 {
		errs = append(errs, errors.New("crawler.parse_workers must be > 0"))
	}
	if c.Crawler.ParseQueue < 0 {
		errs = append(errs, errors.New("crawler.parse_queue must be >= 0"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("crawler.max_body_bytes must be > 0"))
	}
	if c.Crawler.MaxConnsPerHost <= 0 {
		errs = append(errs, errors.New("crawler.max_conns_per_host must be > 0"))
	}
	if c.Crawler.MaxPages < 0 {
		errs = append(errs, errors.New("crawler.max_pages must be >= 0"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must be >= 0"))
	}
	if c.HTTP.BackoffInitialMs <= 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		errs = append(errs, errors.New("http backoff must satisfy 0 < backoff_initial_ms <= backoff_max_ms"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RetryPolicy builds the fetch retry policy from the http section.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(
		c.HTTP.MaxRetries,
		time.Duration(c.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs)*time.Millisecond,
	)
}
