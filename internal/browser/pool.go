// Package browser implements the BrowserPool: a bounded pool of
// chromedp browser instances, each bounded to C contexts, with a FIFO
// waiter queue, background health checks, and graceful-then-forced
// shutdown. Grounded on the teacher's
// internal/services/crawler/chromedp_pool.go, generalized from simple
// round-robin allocation to fewest-active-contexts selection under a
// counting semaphore, per-browser health state, and a real release path
// (the teacher's ReleaseBrowser is a no-op; §4.6 requires cookie/storage
// clearing and page reset on release).
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
)

// Config configures the pool.
type Config struct {
	MaxBrowsers        int           // P, default 5
	MaxContextsPerPage int           // C, default 10
	HealthInterval     time.Duration // H, default 60s
	ShutdownDrain      time.Duration // S, default 300s
	AcquireTimeout     time.Duration // default 300s
	Headless           bool
	UserAgent          string
}

func (c Config) withDefaults() Config {
	if c.MaxBrowsers <= 0 {
		c.MaxBrowsers = 5
	}
	if c.MaxContextsPerPage <= 0 {
		c.MaxContextsPerPage = 10
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 60 * time.Second
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = 300 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 300 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "crawlerd/1.0"
	}
	return c
}

type browserInstance struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCancel context.CancelFunc
	activeContexts  int
	healthy         bool
}

type waiter struct {
	result chan acquireResult
}

type acquireResult struct {
	handle *ContextHandle
	err    error
}

// Pool is the bounded browser pool described in §4.6.
type Pool struct {
	cfg    Config
	logger arbor.ILogger

	mu        sync.Mutex
	instances []*browserInstance
	inFlight  int // total contexts currently held, enforces P*C
	waiters   []*waiter
	stopped   bool

	healthStop chan struct{}
	healthDone chan struct{}
}

// New creates an uninitialized Pool.
func New(cfg Config, logger arbor.ILogger) *Pool {
	return &Pool{cfg: cfg.withDefaults(), logger: logger}
}

// Start launches MaxBrowsers instances and the background health loop.
// Partial failure is tolerated: as long as one instance starts, Start
// succeeds (grounded on the teacher's InitBrowserPool partial-failure
// handling).
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.instances != nil {
		return fmt.Errorf("browser pool already started")
	}

	p.instances = make([]*browserInstance, 0, p.cfg.MaxBrowsers)
	var lastErr error
	for i := 0; i < p.cfg.MaxBrowsers; i++ {
		inst, err := p.newBrowserInstance()
		if err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("index", i).Msg("failed to start browser instance")
			continue
		}
		p.instances = append(p.instances, inst)
	}
	if len(p.instances) == 0 {
		return fmt.Errorf("failed to start any browser instance: %w", lastErr)
	}

	p.healthStop = make(chan struct{})
	p.healthDone = make(chan struct{})
	go p.healthLoop()

	p.logger.Info().Int("started", len(p.instances)).Int("requested", p.cfg.MaxBrowsers).Msg("browser pool started")
	return nil
}

func (p *Pool) newBrowserInstance() (*browserInstance, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser startup test failed: %w", err)
	}

	return &browserInstance{ctx: browserCtx, cancel: browserCancel, allocatorCancel: allocatorCancel, healthy: true}, nil
}

// ContextHandle is an acquired, in-use browser context slot.
type ContextHandle struct {
	pool     *Pool
	instance *browserInstance
	Context  context.Context
	released bool
}

// Release cleans the context and frees the slot: it clears the browser's
// cookies, clears the storage of the current page's origin, and navigates
// the tab to about:blank. Other pages of the browser are not closed.
// Cleanup errors are logged but never block release.
func (h *ContextHandle) Release() {
	h.pool.mu.Lock()
	if h.released {
		h.pool.mu.Unlock()
		return
	}
	h.released = true
	h.instance.activeContexts--
	h.pool.inFlight--
	h.pool.mu.Unlock()

	cleanupCtx, cancel := context.WithTimeout(h.Context, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(cleanupCtx,
		network.ClearBrowserCookies(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var origin string
			if err := chromedp.Evaluate(`window.location.origin`, &origin).Do(ctx); err != nil {
				return err
			}
			if origin == "" || origin == "null" {
				return nil
			}
			return storage.ClearDataForOrigin(origin, "all").Do(ctx)
		}),
		chromedp.Navigate("about:blank"),
	); err != nil {
		h.pool.logger.Warn().Err(err).Msg("browser context cleanup failed")
	}

	h.pool.wakeNextWaiter()
}

// AcquireContext implements §4.6's acquire_context(timeout): fewest-active
// browser selection under a P*C counting semaphore, falling back to a FIFO
// waiter queue when the pool is saturated.
func (p *Pool) AcquireContext(ctx context.Context) (*ContextHandle, error) {
	timeout := p.cfg.AcquireTimeout
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	if handle := p.tryAcquireLocked(); handle != nil {
		p.mu.Unlock()
		return handle, nil
	}
	w := &waiter{result: make(chan acquireResult, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case res := <-w.result:
		return res.handle, res.err
	case <-ctx.Done():
		return nil, common.ErrAcquireTimeout
	case <-time.After(time.Until(deadline)):
		return nil, common.ErrAcquireTimeout
	}
}

// tryAcquireLocked must be called with p.mu held. Returns nil if the pool
// is saturated or has no healthy browser.
func (p *Pool) tryAcquireLocked() *ContextHandle {
	if p.stopped {
		return nil
	}
	if p.inFlight >= p.cfg.MaxBrowsers*p.cfg.MaxContextsPerPage {
		return nil
	}

	var best *browserInstance
	for _, inst := range p.instances {
		if !inst.healthy || inst.activeContexts >= p.cfg.MaxContextsPerPage {
			continue
		}
		if best == nil || inst.activeContexts < best.activeContexts {
			best = inst
		}
	}
	if best == nil {
		return nil
	}

	best.activeContexts++
	p.inFlight++
	return &ContextHandle{pool: p, instance: best, Context: best.ctx}
}

func (p *Pool) wakeNextWaiter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		handle := p.tryAcquireLocked()
		if handle == nil {
			return
		}
		p.waiters = p.waiters[1:]
		w.result <- acquireResult{handle: handle}
	}
}

// healthLoop pings each browser every HealthInterval: failure marks
// the browser unhealthy, refusing new draws; it is restarted on the next
// tick at which it has no in-flight contexts, so those are allowed to drain
// first.
func (p *Pool) healthLoop() {
	defer close(p.healthDone)
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.healthStop:
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

func (p *Pool) runHealthChecks() {
	p.mu.Lock()
	instances := make([]*browserInstance, len(p.instances))
	copy(instances, p.instances)
	p.mu.Unlock()

	for i, inst := range instances {
		testCtx, cancel := chromedp.NewContext(inst.ctx)
		checkCtx, checkCancel := context.WithTimeout(testCtx, 10*time.Second)
		err := chromedp.Run(checkCtx, chromedp.Navigate("about:blank"))
		checkCancel()
		cancel()

		p.mu.Lock()
		wasHealthy := inst.healthy
		inst.healthy = err == nil
		if !inst.healthy && wasHealthy {
			p.logger.Warn().Int("index", i).Err(err).Msg("browser instance failed health check")
		} else if !wasHealthy && inst.activeContexts == 0 {
			if replaced, rerr := p.newBrowserInstance(); rerr == nil {
				inst.cancel()
				inst.allocatorCancel()
				*inst = *replaced
				p.logger.Info().Int("index", i).Msg("unhealthy browser instance restarted")
			}
		}
		p.mu.Unlock()
	}
}

// Shutdown stops accepting new acquisitions, waits up to ShutdownDrain for
// in-flight contexts to release, then force-closes everything.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	for _, w := range p.waiters {
		w.result <- acquireResult{err: common.ErrAcquireTimeout}
	}
	p.waiters = nil
	p.mu.Unlock()

	if p.healthStop != nil {
		close(p.healthStop)
		<-p.healthDone
	}

	deadline := time.Now().Add(p.cfg.ShutdownDrain)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		drained := p.inFlight == 0
		p.mu.Unlock()
		if drained {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		inst.cancel()
		inst.allocatorCancel()
	}
	p.instances = nil
	p.logger.Info().Msg("browser pool shut down")
	return nil
}

// Stats reports pool occupancy for diagnostics/cache publishing.
type Stats struct {
	Browsers          int
	HealthyBrowsers   int
	ContextsInUse     int
	ContextsAvailable int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	healthy := 0
	for _, inst := range p.instances {
		if inst.healthy {
			healthy++
		}
	}
	total := p.cfg.MaxBrowsers * p.cfg.MaxContextsPerPage
	return Stats{
		Browsers:          len(p.instances),
		HealthyBrowsers:   healthy,
		ContextsInUse:     p.inFlight,
		ContextsAvailable: total - p.inFlight,
	}
}
