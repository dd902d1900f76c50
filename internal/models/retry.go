package models

import "time"

// ErrorCategory is the closed set of error categories the retry classifier
// maps failures into. It lives in models rather than common so
// that RetryPolicy and the persisted RetryHistory/DLQ rows can reference it
// without a storage/common import cycle.
type ErrorCategory string

const (
	CategoryNetwork             ErrorCategory = "network"
	CategoryRateLimit           ErrorCategory = "rate_limit"
	CategoryServerError         ErrorCategory = "server_error"
	CategoryBrowserCrash        ErrorCategory = "browser_crash"
	CategoryResourceUnavailable ErrorCategory = "resource_unavailable"
	CategoryTimeout             ErrorCategory = "timeout"
	CategoryClientError         ErrorCategory = "client_error"
	CategoryAuthError           ErrorCategory = "auth_error"
	CategoryNotFound            ErrorCategory = "not_found"
	CategoryValidationError     ErrorCategory = "validation_error"
	CategoryBusinessLogicError  ErrorCategory = "business_logic_error"
	CategoryUnknown             ErrorCategory = "unknown"
)

// BackoffStrategy is the closed set of retry backoff shapes (§3 RetryPolicy,
// §4.7).
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy is the per-ErrorCategory retry configuration.
type RetryPolicy struct {
	IsRetryable  bool            `json:"is_retryable"`
	MaxAttempts  int             `json:"max_attempts"`  // [0,10]
	Backoff      BackoffStrategy `json:"backoff"`
	InitialDelay time.Duration   `json:"initial_delay"` // [0,60]s
	MaxDelay     time.Duration   `json:"max_delay"`     // [0,3600]s
	Multiplier   float64         `json:"multiplier"`    // [1,10]
}

// DefaultRetryPolicies returns the built-in per-category policy table,
// consulted when a Website's config carries no RetryOverrides entry for a
// category.
func DefaultRetryPolicies() map[ErrorCategory]RetryPolicy {
	retryable := func(maxAttempts int, backoff BackoffStrategy, initial, max time.Duration, mult float64) RetryPolicy {
		return RetryPolicy{IsRetryable: true, MaxAttempts: maxAttempts, Backoff: backoff, InitialDelay: initial, MaxDelay: max, Multiplier: mult}
	}
	terminal := func() RetryPolicy { return RetryPolicy{IsRetryable: false} }

	return map[ErrorCategory]RetryPolicy{
		CategoryNetwork:             retryable(3, BackoffExponential, 1*time.Second, 60*time.Second, 2),
		CategoryRateLimit:           retryable(5, BackoffExponential, 2*time.Second, 300*time.Second, 2),
		CategoryServerError:        retryable(3, BackoffExponential, 2*time.Second, 120*time.Second, 2),
		CategoryBrowserCrash:        retryable(2, BackoffFixed, 5*time.Second, 5*time.Second, 1),
		CategoryResourceUnavailable: retryable(3, BackoffLinear, 2*time.Second, 60*time.Second, 1),
		CategoryTimeout:             retryable(3, BackoffExponential, 1*time.Second, 60*time.Second, 2),
		CategoryClientError:         terminal(),
		CategoryAuthError:           terminal(),
		CategoryNotFound:            terminal(),
		CategoryValidationError:     terminal(),
		CategoryBusinessLogicError:  terminal(),
		CategoryUnknown:             retryable(3, BackoffExponential, 1*time.Second, 60*time.Second, 2),
	}
}

// RetryHistory records one retry attempt for a job.
type RetryHistory struct {
	ID            string        `json:"id"`
	JobID         string        `badgerhold:"index" json:"job_id"`
	Attempt       int           `json:"attempt"`
	ErrorCategory ErrorCategory `json:"error_category"`
	ErrorMessage  string        `json:"error_message"`
	DelaySeconds  float64       `json:"retry_delay_seconds"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DeadLetterQueue captures a job's terminal failure after retries are
// exhausted or a non-retryable error occurred.
type DeadLetterQueue struct {
	ID            string        `json:"id"`
	JobID         string        `badgerhold:"index" json:"job_id"`
	WebsiteID     string        `json:"website_id,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category"`
	Attempts      int           `json:"attempts"`
	ErrorMessage  string        `json:"error_message"`
	StackTrace    string        `json:"stack_trace,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	RetriedAt     *time.Time    `json:"retried_at,omitempty"` // set when manually re-entered
	RetriedJobID  string        `json:"retried_job_id,omitempty"`
}
