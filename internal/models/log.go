package models

import "time"

// LogLevel mirrors arbor's level names for CrawlLog entries.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CrawlLog is one append-only structured log line for a job, partitioned by
// month. PartitionKey is "YYYY-MM" in UTC.
type CrawlLog struct {
	ID           string                 `json:"id"`
	JobID        string                 `badgerhold:"index" json:"job_id"`
	WebsiteID    string                 `badgerhold:"index" json:"website_id,omitempty"`
	TraceID      string                 `badgerhold:"index" json:"trace_id,omitempty"`
	Level        LogLevel               `badgerhold:"index" json:"level"`
	Message      string                 `json:"message"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	PartitionKey string                 `badgerhold:"index" json:"partition_key"`
	CreatedAt    time.Time              `json:"created_at"`
}

// LogPartitionKey computes the monthly partition bucket for a timestamp.
func LogPartitionKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
