package common

import "github.com/robfig/cron/v3"

// CronParser accepts both the 5-field standard form and the 6-field
// leading-seconds variant, plus the `@every`/`@daily`-style descriptors
// (§6.5 "5-field standard cron plus 6-field (leading seconds) variant").
// cron.ParseStandard only accepts 5 fields and would wrongly reject a
// valid 6-field expression, so every cron expression in this codebase must
// go through this parser instead.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates and parses a cron expression using CronParser.
func ParseCron(expr string) (cron.Schedule, error) {
	return CronParser.Parse(expr)
}
