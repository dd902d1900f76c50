package models

import "time"

// ScheduledJob is a cron-driven dispatch entry for a Website template
//.
type ScheduledJob struct {
	ID             string        `json:"id"`
	WebsiteID      string        `badgerhold:"index" json:"website_id"`
	CronExpression string        `json:"cron_expression"`
	Timezone       string        `json:"timezone"` // IANA name, default UTC
	NextRunTime    time.Time     `badgerhold:"index" json:"next_run_time"`
	LastRunTime    *time.Time    `json:"last_run_time,omitempty"`
	IsActive       bool          `badgerhold:"index" json:"is_active"`
	Overrides      WebsiteConfig `json:"overrides,omitempty"`
	LastJobID      string        `json:"last_job_id,omitempty"` // stack-prevention, §4.2 step 5
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsEligible reports whether the entry is due to fire (§3 invariant:
// "is_active AND next_run_time ≤ now() ⇒ eligible to fire").
func (s *ScheduledJob) IsEligible(now time.Time) bool {
	return s.IsActive && !s.NextRunTime.After(now)
}
