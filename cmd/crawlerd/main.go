package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/blobstore"
	"github.com/ternarybob/crawlerd/internal/browser"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/crawler"
	"github.com/ternarybob/crawlerd/internal/dedup"
	"github.com/ternarybob/crawlerd/internal/htmlx"
	"github.com/ternarybob/crawlerd/internal/jobs"
	"github.com/ternarybob/crawlerd/internal/logstream"
	"github.com/ternarybob/crawlerd/internal/queue"
	"github.com/ternarybob/crawlerd/internal/retry"
	"github.com/ternarybob/crawlerd/internal/scheduler"
	"github.com/ternarybob/crawlerd/internal/storage/badger"
	"github.com/ternarybob/crawlerd/internal/worker"
)

// configPaths is a custom flag type that allows multiple -config flags,
// later files overriding earlier ones (grounded on cmd/quaero/main.go).
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
	noBrowser   = flag.Bool("no-browser", false, "Disable the browser pool (http/api scrape methods only)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("crawlerd version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("crawlerd.toml"); err == nil {
			configFiles = append(configFiles, "crawlerd.toml")
		}
	}

	config, err := common.LoadFromFiles(nil, configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	common.PrintBanner(config, logger)

	app, err := bootstrap(config, logger, !*noBrowser)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go app.scheduler.Run(ctx)
	go app.worker.Run(ctx)

	logger.Info().Int("worker_concurrency", app.workerConcurrency).Msg("crawlerd ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	cancel()
	app.scheduler.Stop()

	if app.browserPool != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.browserPool.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("browser pool shutdown reported an error")
		}
		shutdownCancel()
	}

	common.PrintShutdownBanner(logger)
	common.Stop()
}

// application bundles the composition root's long-lived components so
// main can start/stop them uniformly.
type application struct {
	storage           interface{ Close() error }
	browserPool       *browser.Pool
	scheduler         *scheduler.Scheduler
	worker            *worker.Worker
	workerConcurrency int
}

func (a *application) Close() {
	if err := a.storage.Close(); err != nil {
		common.GetLogger().Warn().Err(err).Msg("storage close reported an error")
	}
}

// bootstrap wires every component named in SPEC_FULL.md's MODULE MAP: the
// Badger-backed repositories, KV cache, durable queue, variable/pagination/
// extraction/dedup pipeline stages, browser pool, JobService/Scheduler/
// Worker, grounded on cmd/quaero/main.go's linear startup sequence
// (config -> logger -> banner -> app.New -> server.New).
func bootstrap(config *common.Config, logger arbor.ILogger, enableBrowser bool) (*application, error) {
	storage, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger storage: %w", err)
	}

	clock := common.NewSystemClock()
	kvCache := cache.New(storage.KV(), logger)

	q := queue.New(
		storage.Queue(), logger,
		common.Duration(config.Queue.DedupWindow, queue.DefaultDedupWindow),
		config.Queue.MaxDeliver,
	)

	logs := logstream.New(storage.Log(), logger)

	blobs, err := blobstore.New("./data/blobs")
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	var pool *browser.Pool
	if enableBrowser {
		pool = browser.New(browser.Config{
			MaxBrowsers:        config.Browser.MaxInstances,
			MaxContextsPerPage: config.Browser.MaxContextsPerInst,
			HealthInterval:     common.Duration(config.Browser.HealthInterval, 60*time.Second),
			ShutdownDrain:      common.Duration(config.Browser.ShutdownDrain, 300*time.Second),
			AcquireTimeout:     common.Duration(config.Browser.AcquireTimeout, 300*time.Second),
			Headless:           config.Browser.Headless,
			UserAgent:          config.Crawler.UserAgent,
		}, logger)
		if err := pool.Start(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("browser pool failed to start, browser-method steps will fail until it recovers")
		}
	}

	extractor := htmlx.New(logger)
	fetcher := crawler.NewFetcher(common.Duration(config.Crawler.RequestTimeout, 30*time.Second), config.Crawler.UserAgent, pool)
	deduplicator := dedup.New(
		kvCache, storage.ContentHash(), logger,
		config.Crawler.SimhashHammingThresh,
		common.Duration(config.Crawler.ContentDedupTTL, dedup.DefaultURLCacheTTL),
	)

	seedCrawler := crawler.New(storage, kvCache, deduplicator, extractor, fetcher, blobs, logs, logger, crawler.Config{
		MaxPages:             config.Crawler.MaxPages,
		MaxPagesCap:          config.Crawler.MaxPagesCap,
		MaxEmptyResponses:    config.Crawler.MaxEmptyResponses,
		CircularHashWindow:   config.Crawler.CircularHashWindow,
		DefaultRatePerSecond: config.Crawler.DefaultRatePerSecond,
		VariableRecursionCap: config.Crawler.VariableRecursionCap,
		HammingThreshold:     config.Crawler.SimhashHammingThresh,
		URLCacheTTL:          common.Duration(config.Crawler.ContentDedupTTL, dedup.DefaultURLCacheTTL),
	})

	jobSvc := jobs.New(storage.Job(), storage.Website(), storage.ScheduledJob(), q, kvCache, logger, clock)
	_ = jobs.NewWebsiteService(storage.Website(), logger, clock) // management-API collaborator, composed here for future controller wiring

	sched := scheduler.New(storage.ScheduledJob(), storage.Website(), storage.Job(), jobSvc, logger, clock,
		common.Duration(config.Scheduler.GracePeriod, scheduler.DefaultMissedFiringGrace))
	classifier := retry.New(nil)

	workerConcurrency := config.Browser.MaxInstances * config.Browser.MaxContextsPerInst
	if workerConcurrency <= 0 {
		workerConcurrency = 10
	}
	w := worker.New(q, jobSvc, storage, seedCrawler, classifier, logs, logger, worker.Config{
		Consumer:        "crawler-worker-1",
		Concurrency:     workerConcurrency,
		PullBatch:       config.Queue.PullBatch,
		AckWait:         common.Duration(config.Queue.AckWait, queue.DefaultAckWait),
		CleanupDeadline: common.Duration(config.Cleanup.Deadline, 5*time.Second),
	})

	return &application{
		storage:           storage,
		browserPool:       pool,
		scheduler:         sched,
		worker:            w,
		workerConcurrency: workerConcurrency,
	}, nil
}
