package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/models"
)

type fakeScheduledStorage struct {
	updated []*models.ScheduledJob
}

func (f *fakeScheduledStorage) Create(ctx context.Context, s *models.ScheduledJob) error { return nil }
func (f *fakeScheduledStorage) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	return nil, nil
}
func (f *fakeScheduledStorage) Update(ctx context.Context, s *models.ScheduledJob) error {
	f.updated = append(f.updated, s)
	return nil
}
func (f *fakeScheduledStorage) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	return nil, nil
}
func (f *fakeScheduledStorage) ListByWebsite(ctx context.Context, websiteID string) ([]*models.ScheduledJob, error) {
	return nil, nil
}

func newTestScheduler(storage *fakeScheduledStorage, grace time.Duration) *Scheduler {
	return New(storage, nil, nil, nil, arbor.NewLogger(), nil, grace)
}

func TestParseCronInZoneRespectsTimezone(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := ParseCronInZone("0 9 * * *", "America/New_York", from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc, _ := time.LoadLocation("America/New_York")
	inZone := next.In(loc)
	if inZone.Hour() != 9 {
		t.Fatalf("expected 9am America/New_York, got %v", inZone)
	}
}

func TestParseCronInZoneRejectsUnknownTimezone(t *testing.T) {
	_, err := ParseCronInZone("0 9 * * *", "Mars/Olympus_Mons", time.Now().UTC())
	if err == nil {
		t.Fatal("expected an error for an unknown IANA timezone")
	}
}

func TestParseCronInZoneRejectsBadExpression(t *testing.T) {
	_, err := ParseCronInZone("not a cron expression", "UTC", time.Now().UTC())
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

// TestAdvanceCrossesSpringForwardDST exercises the 2024 America/New_York
// spring-forward transition (02:00 -> 03:00 on 2024-03-10): a daily 02:30
// firing has no literal occurrence that day, and advance must still produce
// a valid, strictly-increasing next_run_time (P11).
func TestAdvanceCrossesSpringForwardDST(t *testing.T) {
	storage := &fakeScheduledStorage{}
	s := newTestScheduler(storage, time.Hour)

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	lastFire := time.Date(2024, 3, 9, 2, 30, 0, 0, loc)

	entry := &models.ScheduledJob{
		ID:             "sched-dst",
		CronExpression: "30 2 * * *",
		Timezone:       "America/New_York",
		NextRunTime:    lastFire,
		IsActive:       true,
	}

	now := lastFire.Add(23 * time.Hour)
	s.advance(context.Background(), entry, now)

	if len(storage.updated) != 1 {
		t.Fatalf("expected exactly one persisted update, got %d", len(storage.updated))
	}
	if !entry.NextRunTime.After(lastFire) {
		t.Fatalf("expected next_run_time to advance past the previous firing, got %v (was %v)", entry.NextRunTime, lastFire)
	}
	if entry.LastRunTime == nil || !entry.LastRunTime.Equal(now) {
		t.Fatalf("expected last_run_time to be set to now")
	}
}

func TestAdvanceMissedFiringGraceReanchorsToNow(t *testing.T) {
	storage := &fakeScheduledStorage{}
	s := newTestScheduler(storage, time.Hour)

	staleNextRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := staleNextRun.Add(48 * time.Hour) // well beyond the 1h grace period

	entry := &models.ScheduledJob{
		ID:             "sched-missed",
		CronExpression: "0 * * * *", // hourly
		Timezone:       "UTC",
		NextRunTime:    staleNextRun,
		IsActive:       true,
	}

	s.advance(context.Background(), entry, now)

	if entry.NextRunTime.Before(now) {
		t.Fatalf("expected next_run_time to be re-anchored at or after now, got %v (now=%v)", entry.NextRunTime, now)
	}
}

func TestAdvanceWithinGraceAdvancesFromOriginalSchedule(t *testing.T) {
	storage := &fakeScheduledStorage{}
	s := newTestScheduler(storage, time.Hour)

	nextRun := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := nextRun.Add(5 * time.Minute) // inside the 1h grace period

	entry := &models.ScheduledJob{
		ID:             "sched-ontime",
		CronExpression: "0 12 * * *", // daily at 12:00
		Timezone:       "UTC",
		NextRunTime:    nextRun,
		IsActive:       true,
	}

	s.advance(context.Background(), entry, now)

	want := nextRun.Add(24 * time.Hour)
	if !entry.NextRunTime.Equal(want) {
		t.Fatalf("expected next_run_time anchored from the original schedule: got %v, want %v", entry.NextRunTime, want)
	}
}

func TestScheduledJobIsEligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	due := &models.ScheduledJob{IsActive: true, NextRunTime: now.Add(-time.Minute)}
	if !due.IsEligible(now) {
		t.Fatal("expected an active, past-due entry to be eligible")
	}
	future := &models.ScheduledJob{IsActive: true, NextRunTime: now.Add(time.Minute)}
	if future.IsEligible(now) {
		t.Fatal("expected a future entry to be ineligible")
	}
	inactive := &models.ScheduledJob{IsActive: false, NextRunTime: now.Add(-time.Minute)}
	if inactive.IsEligible(now) {
		t.Fatal("expected an inactive entry to be ineligible regardless of next_run_time")
	}
}
