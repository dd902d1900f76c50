package browser

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

type fakeResource struct {
	name          string
	gracefulErr   error
	gracefulCalls int
	forceCalls    int
}

func (r *fakeResource) Name() string { return r.name }
func (r *fakeResource) CloseGracefully(ctx context.Context) error {
	r.gracefulCalls++
	return r.gracefulErr
}
func (r *fakeResource) ForceClose() { r.forceCalls++ }

func TestCleanupClosesAllResourcesGracefully(t *testing.T) {
	c := NewCleanupCoordinator(arbor.NewLogger())
	a := &fakeResource{name: "a"}
	b := &fakeResource{name: "b"}
	c.Register(a)
	c.Register(b)

	result := c.Cleanup(context.Background(), time.Second)

	if len(result.Graceful) != 2 {
		t.Fatalf("expected both resources closed gracefully, got %+v", result)
	}
	if len(result.Forced) != 0 {
		t.Fatalf("expected no forced closes, got %+v", result.Forced)
	}
	if a.gracefulCalls != 1 || b.gracefulCalls != 1 {
		t.Fatalf("expected each resource's CloseGracefully called exactly once")
	}
}

func TestCleanupForceClosesOnGracefulError(t *testing.T) {
	c := NewCleanupCoordinator(arbor.NewLogger())
	bad := &fakeResource{name: "bad", gracefulErr: context.DeadlineExceeded}
	c.Register(bad)

	result := c.Cleanup(context.Background(), time.Second)

	if len(result.Forced) != 1 {
		t.Fatalf("expected the failing resource to be force-closed, got %+v", result)
	}
	if bad.forceCalls != 1 {
		t.Fatalf("expected ForceClose called exactly once, got %d", bad.forceCalls)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	c := NewCleanupCoordinator(arbor.NewLogger())
	r := &fakeResource{name: "r"}
	c.Register(r)

	first := c.Cleanup(context.Background(), time.Second)
	second := c.Cleanup(context.Background(), time.Second)

	if r.gracefulCalls != 1 {
		t.Fatalf("expected CloseGracefully called exactly once across two Cleanup calls, got %d", r.gracefulCalls)
	}
	if len(first.Graceful) != len(second.Graceful) {
		t.Fatalf("expected the second Cleanup call to return the cached first result")
	}
}

func TestRegisterAfterCleanupForceClosesImmediately(t *testing.T) {
	c := NewCleanupCoordinator(arbor.NewLogger())
	c.Cleanup(context.Background(), time.Second)

	late := &fakeResource{name: "late"}
	c.Register(late)

	if late.forceCalls != 1 {
		t.Fatalf("expected a resource registered after Cleanup to be force-closed immediately, got %d calls", late.forceCalls)
	}
}

func TestCleanupWithNoResources(t *testing.T) {
	c := NewCleanupCoordinator(arbor.NewLogger())
	result := c.Cleanup(context.Background(), time.Second)
	if len(result.Graceful) != 0 || len(result.Forced) != 0 {
		t.Fatalf("expected empty result for a coordinator with no registered resources, got %+v", result)
	}
}
