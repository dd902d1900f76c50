// CleanupCoordinator implements §4.8: graceful-then-forced resource
// shutdown with a deadline, invoked by the worker on cancellation or
// terminal failure. Grounded on the same graceful-drain-then-force idiom
// as Pool.Shutdown, generalized to an arbitrary set of registered
// resources (HTTP clients, browser contexts, blob-upload handles) rather
// than just browser instances.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
)

// Resource is anything the pipeline must release on cancellation or
// terminal failure (§4.8 step 2: "HTTP client wrapping outstanding
// requests, browser contexts, blob-upload handles").
type Resource interface {
	// Name identifies the resource in cleanup outcomes.
	Name() string
	// CloseGracefully attempts an orderly close within the given deadline.
	CloseGracefully(ctx context.Context) error
	// ForceClose closes unconditionally, called only if CloseGracefully
	// did not complete within its share of the deadline.
	ForceClose()
}

// ContextHandleResource adapts an acquired browser ContextHandle to the
// Resource interface so it can be registered with a CleanupCoordinator.
type ContextHandleResource struct {
	Handle *ContextHandle
}

func (r ContextHandleResource) Name() string { return "browser_context" }

func (r ContextHandleResource) CloseGracefully(ctx context.Context) error {
	r.Handle.Release()
	return nil
}

func (r ContextHandleResource) ForceClose() { r.Handle.Release() }

// Outcome records what happened to a single registered resource during
// Cleanup.
type Outcome struct {
	Resource string
	Forced   bool
	Err      error
}

// Result is the aggregate outcome of one Cleanup call (§4.8 step 2:
// "{graceful: [...], forced: [...]}").
type Result struct {
	StartedAt time.Time
	Graceful  []Outcome
	Forced    []Outcome
}

// CleanupCoordinator runs the graceful-then-forced shutdown sequence for a
// set of resources registered by one job's pipeline run.
type CleanupCoordinator struct {
	mu        sync.Mutex
	resources []Resource
	logger    arbor.ILogger
	done      bool
	result    Result
}

// NewCleanupCoordinator creates a CleanupCoordinator for one job run.
func NewCleanupCoordinator(logger arbor.ILogger) *CleanupCoordinator {
	return &CleanupCoordinator{logger: logger}
}

// Register adds a resource to be closed on Cleanup. Safe to call from
// multiple pipeline steps as resources are acquired.
func (c *CleanupCoordinator) Register(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		// Cleanup already ran (e.g. a late-acquired resource after
		// cancellation); close it immediately rather than leaking it.
		r.ForceClose()
		return
	}
	c.resources = append(c.resources, r)
}

// Cleanup runs the graceful-then-forced sequence and is
// idempotent: a second call returns the first call's Result without
// re-closing anything.
func (c *CleanupCoordinator) Cleanup(ctx context.Context, deadline time.Duration) Result {
	c.mu.Lock()
	if c.done {
		result := c.result
		c.mu.Unlock()
		return result
	}
	resources := c.resources
	c.resources = nil
	c.done = true
	c.mu.Unlock()

	result := Result{StartedAt: time.Now()}
	if len(resources) == 0 {
		c.mu.Lock()
		c.result = result
		c.mu.Unlock()
		return result
	}

	share := deadline / time.Duration(len(resources))
	if share <= 0 {
		share = deadline
	}

	var needForce []Resource
	for _, r := range resources {
		gctx, cancel := context.WithTimeout(ctx, share)
		err := runGraceful(gctx, r, c.logger)
		cancel()
		if err != nil {
			c.logger.Warn().Str("resource", r.Name()).Err(err).Msg("resource did not close gracefully, will force close")
			needForce = append(needForce, r)
			continue
		}
		result.Graceful = append(result.Graceful, Outcome{Resource: r.Name(), Err: err})
	}

	for _, r := range needForce {
		r.ForceClose()
		result.Forced = append(result.Forced, Outcome{Resource: r.Name(), Forced: true})
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	elapsed := time.Since(result.StartedAt)
	c.logger.Debug().
		Int("graceful", len(result.Graceful)).
		Int("forced", len(result.Forced)).
		Dur("elapsed", elapsed).
		Msg("cleanup coordinator finished")

	return result
}

// runGraceful runs CloseGracefully and converts a context-deadline timeout
// into an error so the caller routes the resource to ForceClose.
func runGraceful(ctx context.Context, r Resource, logger arbor.ILogger) error {
	done := make(chan error, 1)
	common.SafeGo(logger, "browser.closeGracefully", func() { done <- r.CloseGracefully(ctx) })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
