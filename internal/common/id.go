package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newID builds a time-ordered, prefixed opaque id: <prefix>_<unix-ms>_<uuid>.
// The leading timestamp component keeps ids roughly sortable by creation
// time, which the Website entity's identity requires (§3: "time-ordered
// unique").
func newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.New().String())
}

// NewWebsiteID generates a unique website (template) id.
func NewWebsiteID() string { return newID("web") }

// NewJobID generates a unique CrawlJob id.
func NewJobID() string { return newID("job") }

// NewScheduledJobID generates a unique ScheduledJob id.
func NewScheduledJobID() string { return newID("sched") }

// NewPageID generates a unique CrawledPage id.
func NewPageID() string { return newID("page") }

// NewLogID generates a unique CrawlLog entry id.
func NewLogID() string { return newID("log") }

// NewRetryID generates a unique RetryHistory row id.
func NewRetryID() string { return newID("retry") }

// NewDLQID generates a unique DeadLetterQueue row id.
func NewDLQID() string { return newID("dlq") }

// NewConfigHistoryID generates a unique WebsiteConfigHistory row id.
func NewConfigHistoryID() string { return newID("cfgv") }

// NewMessageID generates a unique queue message id.
func NewMessageID() string { return newID("msg") }
