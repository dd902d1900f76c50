package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/crawlerd/internal/interfaces"
)

// Config represents the crawler control plane's process configuration.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Browser     BrowserConfig   `toml:"browser"`
	Retry       RetryConfig     `toml:"retry"`
	Cleanup     CleanupConfig   `toml:"cleanup"`
}

// QueueConfig controls the durable work-queue fabric.
type QueueConfig struct {
	Name        string `toml:"name"`         // stream name, default "CRAWLER_TASKS"
	AckWait     string `toml:"ack_wait"`     // e.g. "5m"
	MaxDeliver  int    `toml:"max_deliver"`  // redeliveries before DLQ
	DedupWindow string `toml:"dedup_window"` // e.g. "5m"
	MaxMessages int    `toml:"max_messages"` // capacity, reject-when-full
	MaxAge      string `toml:"max_age"`      // e.g. "24h"
	PullBatch   int    `toml:"pull_batch"`   // max messages per Pull call
}

// StorageConfig wraps persistence backends.
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig configures the embedded KV/document store backing every repository.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// LoggingConfig configures the arbor logger.
type LoggingConfig struct {
	Level      string   `toml:"level"`  // debug|info|warn|error
	Format     string   `toml:"format"` // text|json
	Output     []string `toml:"output"` // stdout, file
	TimeFormat string   `toml:"time_format"`
}

// SchedulerConfig controls the cron-driven job dispatcher.
type SchedulerConfig struct {
	TickInterval    string `toml:"tick_interval"`    // default "60s"
	BatchSize       int    `toml:"batch_size"`       // shown in the startup banner only; the scheduler lists up to 200 due entries per tick
	GracePeriod     string `toml:"grace_period"`     // missed-firing grace, default "1h"
	DefaultTimezone string `toml:"default_timezone"` // default "UTC"
	DefaultCron     string `toml:"default_cron"`     // default "0 0 1,15 * *"
}

// CrawlerConfig holds the defaults for the seed-URL crawl pipeline.
type CrawlerConfig struct {
	UserAgent            string  `toml:"user_agent"`
	RequestTimeout       string  `toml:"request_timeout"`         // default "30s"
	SelectorWaitTimeout  string  `toml:"selector_wait_timeout"`   // default "10s"
	MaxPages             int     `toml:"max_pages"`               // default 50
	MaxPagesCap          int     `toml:"max_pages_cap"`           // default 500
	MaxEmptyResponses    int     `toml:"max_empty_responses"`     // default 3
	CircularHashWindow   int     `toml:"circular_hash_window"`    // rolling window size, default 5
	DefaultRatePerSecond float64 `toml:"default_rate_per_second"` // default 2.0
	VariableRecursionCap int    `toml:"variable_recursion_cap"`  // default 4
	ContentDedupTTL      string  `toml:"content_dedup_ttl"`       // per-website URL-hash TTL, default "336h" (14d)
	SimhashHammingThresh int     `toml:"simhash_hamming_threshold"` // default 3
}

// BrowserConfig controls the browser-context pool.
type BrowserConfig struct {
	MaxInstances       int    `toml:"max_instances"`             // default 5 (P)
	MaxContextsPerInst int    `toml:"max_contexts_per_instance"` // default 12 (C)
	AcquireTimeout     string `toml:"acquire_timeout"`           // default "300s"
	HealthInterval     string `toml:"health_interval"`           // default "60s"
	ShutdownDrain      string `toml:"shutdown_drain"`            // default "300s"
	Headless           bool   `toml:"headless"`
}

// RetryConfig holds the default retry attempt budget.
type RetryConfig struct {
	DefaultMaxAttempts int `toml:"default_max_attempts"` // default 3
}

// CleanupConfig controls the resource cleanup coordinator.
type CleanupConfig struct {
	Deadline string `toml:"deadline"` // default "5s"
}

// NewDefaultConfig returns hardcoded defaults; only user-facing settings
// need to be present in a TOML override file.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Queue: QueueConfig{
			Name:        "CRAWLER_TASKS",
			AckWait:     "5m",
			MaxDeliver:  3,
			DedupWindow: "5m",
			MaxMessages: 100000,
			MaxAge:      "24h",
			PullBatch:   10,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Scheduler: SchedulerConfig{
			TickInterval:    "60s",
			BatchSize:       100,
			GracePeriod:     "1h",
			DefaultTimezone: "UTC",
			DefaultCron:     "0 0 1,15 * *",
		},
		Crawler: CrawlerConfig{
			UserAgent:             "crawlerd/1.0 (+https://example.invalid/bot)",
			RequestTimeout:        "30s",
			SelectorWaitTimeout:   "10s",
			MaxPages:              50,
			MaxPagesCap:           500,
			MaxEmptyResponses:     3,
			CircularHashWindow:    5,
			DefaultRatePerSecond:  2.0,
			VariableRecursionCap:  4,
			ContentDedupTTL:       "336h",
			SimhashHammingThresh:  3,
		},
		Browser: BrowserConfig{
			MaxInstances:       5,
			MaxContextsPerInst: 12,
			AcquireTimeout:     "300s",
			HealthInterval:     "60s",
			ShutdownDrain:      "300s",
			Headless:           true,
		},
		Retry: RetryConfig{
			DefaultMaxAttempts: 3,
		},
		Cleanup: CleanupConfig{
			Deadline: "5s",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple TOML files, each overriding
// the previous, then applies {key} replacement and environment overrides.
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		logger := arbor.NewLogger()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to fetch KV map for config replacement, skipping replacement")
		} else if err := ReplaceInStruct(config, kvMap, logger); err != nil {
			logger.Warn().Err(err).Msg("failed to replace key references in config")
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies CRAWLERD_* environment variable overrides on top
// of defaults and file values.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CRAWLERD_ENV"); v != "" {
		config.Environment = v
	}

	if v := os.Getenv("CRAWLERD_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("CRAWLERD_BADGER_RESET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Storage.Badger.ResetOnStartup = b
		}
	}

	if v := os.Getenv("CRAWLERD_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CRAWLERD_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := os.Getenv("CRAWLERD_LOG_OUTPUT"); v != "" {
		outputs := make([]string, 0)
		for _, o := range strings.Split(v, ",") {
			if t := strings.TrimSpace(o); t != "" {
				outputs = append(outputs, t)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if v := os.Getenv("CRAWLERD_QUEUE_NAME"); v != "" {
		config.Queue.Name = v
	}
	if v := os.Getenv("CRAWLERD_QUEUE_MAX_DELIVER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxDeliver = n
		}
	}
	if v := os.Getenv("CRAWLERD_QUEUE_PULL_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.PullBatch = n
		}
	}

	if v := os.Getenv("CRAWLERD_SCHEDULER_TICK_INTERVAL"); v != "" {
		config.Scheduler.TickInterval = v
	}
	if v := os.Getenv("CRAWLERD_SCHEDULER_DEFAULT_TIMEZONE"); v != "" {
		config.Scheduler.DefaultTimezone = v
	}

	if v := os.Getenv("CRAWLERD_CRAWLER_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.MaxPages = n
		}
	}
	if v := os.Getenv("CRAWLERD_CRAWLER_USER_AGENT"); v != "" {
		config.Crawler.UserAgent = v
	}
	if v := os.Getenv("CRAWLERD_CRAWLER_DEFAULT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Crawler.DefaultRatePerSecond = f
		}
	}

	if v := os.Getenv("CRAWLERD_BROWSER_MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Browser.MaxInstances = n
		}
	}
	if v := os.Getenv("CRAWLERD_BROWSER_MAX_CONTEXTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Browser.MaxContextsPerInst = n
		}
	}
	if v := os.Getenv("CRAWLERD_BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.Headless = b
		}
	}

	if v := os.Getenv("CRAWLERD_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Retry.DefaultMaxAttempts = n
		}
	}
}

// Duration parses a config duration string, falling back to the given
// default if empty or unparseable.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction reports whether the process is configured for production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
