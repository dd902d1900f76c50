package models

import "time"

// WebsiteStatus is the operator-facing lifecycle state of a template.
type WebsiteStatus string

const (
	WebsiteStatusActive   WebsiteStatus = "active"
	WebsiteStatusInactive WebsiteStatus = "inactive"
)

// StepKind is the closed set of pipeline step kinds a website config can
// declare.
type StepKind string

const (
	StepKindCrawlList   StepKind = "crawl_list"
	StepKindScrapeDetail StepKind = "scrape_detail"
)

// ScrapeMethod is the closed set of fetch strategies a step may use.
type ScrapeMethod string

const (
	ScrapeMethodHTTP    ScrapeMethod = "http"
	ScrapeMethodAPI     ScrapeMethod = "api"
	ScrapeMethodBrowser ScrapeMethod = "browser"
)

// Website is an operator-registered crawl template.
type Website struct {
	ID            string        `json:"id"`
	Name          string        `badgerhold:"index" json:"name"`
	BaseURL       string        `json:"base_url"`
	Config        WebsiteConfig `json:"config"`
	Status        WebsiteStatus `badgerhold:"index" json:"status"`
	DefaultCron   string        `json:"default_cron,omitempty"`
	Version       int           `json:"version"` // current config version, monotonic from 1
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SoftDeletedAt *time.Time    `json:"soft_deleted_at,omitempty"`
}

// IsDeleted reports whether the template has been soft-deleted. Jobs that
// already loaded this config keep running; new submissions are rejected.
func (w *Website) IsDeleted() bool { return w.SoftDeletedAt != nil }

// WebsiteConfigHistory is an immutable snapshot of a Website's config at a
// point in time (§3 "Lifecycle: mutations produce a new immutable
// WebsiteConfigHistory row").
type WebsiteConfigHistory struct {
	ID        string        `json:"id"`
	WebsiteID string        `badgerhold:"index" json:"website_id"`
	Version   int           `badgerhold:"index" json:"version"`
	Config    WebsiteConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy string        `json:"created_by,omitempty"`
}

// WebsiteConfig is the open-but-typed configuration document driving the
// crawl pipeline: steps, selectors, pagination, rate limits, retry policy
// overrides and variables (§3, §9 "config and variables JSON bags remain
// open but are parsed into typed records at pipeline entry").
type WebsiteConfig struct {
	Steps                []Step                        `json:"steps"`
	Variables            map[string]interface{}        `json:"variables,omitempty"`
	RateLimit            RateLimitConfig               `json:"rate_limit"`
	RetryOverrides       map[ErrorCategory]RetryPolicy `json:"retry_overrides,omitempty"`
	TrackingParams       []string                      `json:"tracking_params,omitempty"`
	BoilerplateSelectors []string                      `json:"boilerplate_selectors,omitempty"`
	MaxPages             int                           `json:"max_pages,omitempty"`
	MaxEmptyResponses    int                           `json:"max_empty_responses,omitempty"`
	VariableMode         VariableMode                  `json:"variable_mode,omitempty"` // strict (default) | lenient
}

// VariableMode selects strict-vs-lenient variable substitution (§4.3.a,
// Open Question in §9: "implementers should expose both").
type VariableMode string

const (
	VariableModeStrict  VariableMode = "strict"
	VariableModeLenient VariableMode = "lenient"
)

// RateLimitConfig controls the per-website token-bucket rate limit applied
// during the per-URL scrape loop.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// Step is one stage of the pipeline: a list-crawl step that discovers detail
// URLs, or a detail-scrape step that extracts fields per URL (GLOSSARY
// "Step").
type Step struct {
	Name       string            `json:"name"`
	Kind       StepKind          `json:"kind"`
	Method     ScrapeMethod      `json:"method"`
	Selectors  map[string]string `json:"selectors,omitempty"` // field name -> CSS selector
	Container  string            `json:"container,omitempty"` // row selector for list extraction
	URLSelector string           `json:"url_selector,omitempty"`
	Pagination *PaginationConfig `json:"pagination,omitempty"`
}

// PaginationConfig configures how a crawl_list step walks list pages
//.
type PaginationConfig struct {
	URLTemplate     string `json:"url_template,omitempty"`     // e.g. "?page={page}"
	NextButtonSelector string `json:"next_button_selector,omitempty"`
	MaxPages        int    `json:"max_pages,omitempty"`
}
