package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/crawlerd/internal/models"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]models.ErrorCategory{
		404: models.CategoryNotFound,
		401: models.CategoryAuthError,
		403: models.CategoryAuthError,
		429: models.CategoryRateLimit,
		408: models.CategoryTimeout,
		500: models.CategoryServerError,
		503: models.CategoryServerError,
		400: models.CategoryClientError,
		422: models.CategoryClientError,
		200: models.CategoryUnknown,
	}
	for status, want := range cases {
		if got := ClassifyHTTPStatus(status); got != want {
			t.Errorf("status %d: got %s, want %s", status, got, want)
		}
	}
}

func TestClassifyErrorStringMatching(t *testing.T) {
	cases := []struct {
		err  error
		want models.ErrorCategory
	}{
		{fmt.Errorf("dial tcp: connection reset by peer"), models.CategoryNetwork},
		{fmt.Errorf("dial tcp: connection refused"), models.CategoryNetwork},
		{fmt.Errorf("context deadline exceeded"), models.CategoryTimeout},
		{fmt.Errorf("request timeout after 30s"), models.CategoryTimeout},
		{fmt.Errorf("chromedp: context canceled: chrome process exited"), models.CategoryBrowserCrash},
		{fmt.Errorf("something inexplicable happened"), models.CategoryUnknown},
		{nil, models.CategoryUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err); got != tc.want {
			t.Errorf("err %v: got %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestDecideNonRetryableCategoryRoutesToDLQ(t *testing.T) {
	c := New(nil)
	decision := c.Decide(models.CategoryNotFound, 0, 0)
	if decision.Retry {
		t.Fatal("not_found should never be retried")
	}
	if !decision.RouteToDLQ {
		t.Fatal("expected RouteToDLQ for a non-retryable category")
	}
}

func TestDecideExhaustedAttemptsRoutesToDLQ(t *testing.T) {
	c := New(nil)
	policy := models.DefaultRetryPolicies()[models.CategoryNetwork]
	decision := c.Decide(models.CategoryNetwork, policy.MaxAttempts, 0)
	if decision.Retry {
		t.Fatal("expected no retry once MaxAttempts is reached")
	}
	if !decision.RouteToDLQ {
		t.Fatal("expected RouteToDLQ once attempts are exhausted")
	}
}

func TestDecideRetryableComputesBackoffWithJitter(t *testing.T) {
	c := New(nil)
	policy := models.DefaultRetryPolicies()[models.CategoryNetwork]
	decision := c.Decide(models.CategoryNetwork, 1, 0)
	if !decision.Retry {
		t.Fatal("expected a retry decision")
	}
	base := policy.InitialDelay * 2 // exponential, attempt=1, multiplier=2
	maxWithJitter := time.Duration(float64(base) * 1.2)
	if decision.Delay < base || decision.Delay > maxWithJitter {
		t.Fatalf("delay %v outside expected jitter range [%v, %v]", decision.Delay, base, maxWithJitter)
	}
}

func TestDecideRetryAfterOverridesBackoffAndClampsToMaxDelay(t *testing.T) {
	c := New(nil)
	policy := models.DefaultRetryPolicies()[models.CategoryRateLimit]

	decision := c.Decide(models.CategoryRateLimit, 0, 30)
	if decision.Delay != 30*time.Second {
		t.Fatalf("expected Retry-After to set delay directly, got %v", decision.Delay)
	}

	hugeRetryAfter := int(policy.MaxDelay.Seconds()) + 1000
	decision = c.Decide(models.CategoryRateLimit, 0, hugeRetryAfter)
	if decision.Delay != policy.MaxDelay {
		t.Fatalf("expected delay clamped to MaxDelay %v, got %v", policy.MaxDelay, decision.Delay)
	}
}

func TestPolicyForPrefersOverride(t *testing.T) {
	override := models.RetryPolicy{IsRetryable: true, MaxAttempts: 99, Backoff: models.BackoffFixed, InitialDelay: time.Second, MaxDelay: time.Minute}
	c := New(map[models.ErrorCategory]models.RetryPolicy{models.CategoryNetwork: override})
	got := c.PolicyFor(models.CategoryNetwork)
	if got.MaxAttempts != 99 {
		t.Fatalf("expected override policy to win, got %+v", got)
	}
}

func TestComputeBackoffShapes(t *testing.T) {
	exp := models.RetryPolicy{Backoff: models.BackoffExponential, InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Hour}
	if got := computeBackoff(exp, 0); got != time.Second {
		t.Errorf("exponential attempt 0: got %v, want 1s", got)
	}
	if got := computeBackoff(exp, 2); got != 4*time.Second {
		t.Errorf("exponential attempt 2: got %v, want 4s", got)
	}

	lin := models.RetryPolicy{Backoff: models.BackoffLinear, InitialDelay: time.Second, MaxDelay: time.Hour}
	if got := computeBackoff(lin, 2); got != 3*time.Second {
		t.Errorf("linear attempt 2: got %v, want 3s", got)
	}

	fixed := models.RetryPolicy{Backoff: models.BackoffFixed, InitialDelay: 5 * time.Second, MaxDelay: time.Hour}
	if got := computeBackoff(fixed, 5); got != 5*time.Second {
		t.Errorf("fixed attempt 5: got %v, want 5s", got)
	}

	capped := models.RetryPolicy{Backoff: models.BackoffExponential, InitialDelay: time.Second, Multiplier: 10, MaxDelay: 3 * time.Second}
	if got := computeBackoff(capped, 5); got != 3*time.Second {
		t.Errorf("expected backoff capped at MaxDelay, got %v", got)
	}
}

func TestApplyJitterWithinBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := applyJitter(base)
		if got < base || got > time.Duration(float64(base)*1.2) {
			t.Fatalf("jittered delay %v outside [base, base*1.2]", got)
		}
	}
	if applyJitter(0) != 0 {
		t.Fatal("zero delay should stay zero")
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"30":   30,
		" 45 ": 45,
		"-5":   0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in); got != want {
			t.Errorf("ParseRetryAfter(%q) = %d, want %d", in, got, want)
		}
	}
}
