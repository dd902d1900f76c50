// Package retry implements the RetryClassifier: mapping failures to
// an ErrorCategory, looking up the applicable RetryPolicy, and computing
// the backoff delay for the next attempt. Grounded on the teacher's
// internal/services/crawler/retry.go (RetryPolicy/backoff/jitter shape),
// with the formulas adapted to match §4.7 exactly: per-category strategies
// (exponential/linear/fixed) rather than one strategy for every category,
// and 0-20% uniform jitter rather than the teacher's +/-25%.
package retry

import (
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/crawlerd/internal/models"
)

// ClassifyHTTPStatus maps an HTTP status code to an ErrorCategory.
func ClassifyHTTPStatus(status int) models.ErrorCategory {
	switch {
	case status == 404:
		return models.CategoryNotFound
	case status == 401 || status == 403:
		return models.CategoryAuthError
	case status == 429:
		return models.CategoryRateLimit
	case status == 408:
		return models.CategoryTimeout
	case status >= 500 && status < 600:
		return models.CategoryServerError
	case status >= 400 && status < 500:
		return models.CategoryClientError
	default:
		return models.CategoryUnknown
	}
}

// ClassifyError maps a transport-level Go error to an ErrorCategory when no
// HTTP status is available (network failures, timeouts, browser crashes).
func ClassifyError(err error) models.ErrorCategory {
	if err == nil {
		return models.CategoryUnknown
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		if netErr.Timeout() {
			return models.CategoryTimeout
		}
		return models.CategoryNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return models.CategoryTimeout
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return models.CategoryNetwork
	case strings.Contains(msg, "browser") || strings.Contains(msg, "chromedp") || strings.Contains(msg, "context canceled: chrome"):
		return models.CategoryBrowserCrash
	default:
		return models.CategoryUnknown
	}
}

func asNetError(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}

// Classifier resolves RetryPolicy per ErrorCategory, preferring a
// website's overrides over the built-in default table (§4.7 "configured
// per-website overrides").
type Classifier struct {
	overrides map[models.ErrorCategory]models.RetryPolicy
	defaults  map[models.ErrorCategory]models.RetryPolicy
}

// New creates a Classifier. overrides may be nil.
func New(overrides map[models.ErrorCategory]models.RetryPolicy) *Classifier {
	return &Classifier{overrides: overrides, defaults: models.DefaultRetryPolicies()}
}

// PolicyFor returns the effective RetryPolicy for a category.
func (c *Classifier) PolicyFor(category models.ErrorCategory) models.RetryPolicy {
	if c.overrides != nil {
		if p, ok := c.overrides[category]; ok {
			return p
		}
	}
	if p, ok := c.defaults[category]; ok {
		return p
	}
	return c.defaults[models.CategoryUnknown]
}

// Decision is the classifier's verdict for one failed attempt.
type Decision struct {
	Category   models.ErrorCategory
	Retry      bool
	Delay      time.Duration
	RouteToDLQ bool
}

// Decide computes the retry decision for attempt (0-indexed, the number of
// prior attempts already made) given the classified category and an
// optional Retry-After header value in seconds (0 if absent).
func (c *Classifier) Decide(category models.ErrorCategory, attempt int, retryAfterSeconds int) Decision {
	policy := c.PolicyFor(category)

	if !policy.IsRetryable {
		return Decision{Category: category, Retry: false, RouteToDLQ: true}
	}
	if attempt >= policy.MaxAttempts {
		return Decision{Category: category, Retry: false, RouteToDLQ: true}
	}

	delay := computeBackoff(policy, attempt)
	if retryAfterSeconds > 0 {
		delay = time.Duration(retryAfterSeconds) * time.Second
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	} else {
		delay = applyJitter(delay)
	}

	return Decision{Category: category, Retry: true, Delay: delay}
}

// computeBackoff implements the three backoff shapes in §4.7, before
// jitter and before the Retry-After override.
func computeBackoff(policy models.RetryPolicy, attempt int) time.Duration {
	var delay time.Duration
	switch policy.Backoff {
	case models.BackoffExponential:
		mult := policy.Multiplier
		if mult <= 0 {
			mult = 2
		}
		pow := 1.0
		for i := 0; i < attempt; i++ {
			pow *= mult
		}
		delay = time.Duration(float64(policy.InitialDelay) * pow)
	case models.BackoffLinear:
		delay = policy.InitialDelay * time.Duration(attempt+1)
	case models.BackoffFixed:
		delay = policy.InitialDelay
	default:
		delay = policy.InitialDelay
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// applyJitter adds uniform random jitter of 0-20% of the delay.
func applyJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(delay))
	return delay + jitter
}

// ParseRetryAfter parses an HTTP Retry-After header value, which per RFC
// 7231 may be either a number of seconds or an HTTP-date. Only the
// seconds form is supported here (the forms actually produced by the
// fixtures §4.7 is tested against); unparseable values yield 0 (absent).
func ParseRetryAfter(header string) int {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
