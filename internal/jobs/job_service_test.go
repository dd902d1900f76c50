package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/queue"
)

// fakeJobStorage is an in-memory stand-in for interfaces.JobStorage, enough
// to exercise JobService's submit/cancel/transition logic without a real
// badger instance (grounded on internal/queue/queue_test.go's fake-storage
// pattern).
type fakeJobStorage struct {
	jobs map[string]*models.CrawlJob
}

func newFakeJobStorage() *fakeJobStorage {
	return &fakeJobStorage{jobs: make(map[string]*models.CrawlJob)}
}

func (f *fakeJobStorage) Create(ctx context.Context, j *models.CrawlJob) error {
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobStorage) Get(ctx context.Context, id string) (*models.CrawlJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobStorage) Update(ctx context.Context, j *models.CrawlJob) error {
	if _, ok := f.jobs[j.ID]; !ok {
		return interfaces.ErrNotFound
	}
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobStorage) Delete(ctx context.Context, id string) error {
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobStorage) List(ctx context.Context, filter models.JobListFilter, offset, limit int) ([]*models.CrawlJob, int, error) {
	var out []*models.CrawlJob
	for _, j := range f.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.WebsiteID != "" && j.WebsiteID != filter.WebsiteID {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeJobStorage) CompareAndSetStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	j, ok := f.jobs[id]
	if !ok {
		return false, interfaces.ErrNotFound
	}
	if j.Status != from {
		return false, nil
	}
	j.Status = to
	return true, nil
}

func (f *fakeJobStorage) ListNonTerminalByScheduledJob(ctx context.Context, scheduledJobID string) ([]*models.CrawlJob, error) {
	var out []*models.CrawlJob
	for _, j := range f.jobs {
		if j.ScheduledJobID == scheduledJobID && !j.Status.IsTerminal() {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeWebsiteStorage is a minimal WebsiteStorage stand-in; only Get is
// exercised by JobService.Submit's template-mode existence check.
type fakeWebsiteStorage struct {
	websites map[string]*models.Website
}

func newFakeWebsiteStorage() *fakeWebsiteStorage {
	return &fakeWebsiteStorage{websites: make(map[string]*models.Website)}
}

func (f *fakeWebsiteStorage) Create(ctx context.Context, w *models.Website) error {
	f.websites[w.ID] = w
	return nil
}
func (f *fakeWebsiteStorage) Get(ctx context.Context, id string) (*models.Website, error) {
	w, ok := f.websites[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return w, nil
}
func (f *fakeWebsiteStorage) GetByName(ctx context.Context, name string) (*models.Website, error) {
	for _, w := range f.websites {
		if w.Name == name {
			return w, nil
		}
	}
	return nil, interfaces.ErrNotFound
}
func (f *fakeWebsiteStorage) Update(ctx context.Context, w *models.Website) error {
	f.websites[w.ID] = w
	return nil
}
func (f *fakeWebsiteStorage) SoftDelete(ctx context.Context, id string) error {
	if w, ok := f.websites[id]; ok {
		now := time.Now()
		w.SoftDeletedAt = &now
	}
	return nil
}
func (f *fakeWebsiteStorage) List(ctx context.Context, onlyActive bool) ([]*models.Website, error) {
	var out []*models.Website
	for _, w := range f.websites {
		out = append(out, w)
	}
	return out, nil
}
func (f *fakeWebsiteStorage) AppendConfigHistory(ctx context.Context, h *models.WebsiteConfigHistory) error {
	return nil
}
func (f *fakeWebsiteStorage) GetConfigHistory(ctx context.Context, websiteID string) ([]*models.WebsiteConfigHistory, error) {
	return nil, nil
}
func (f *fakeWebsiteStorage) GetConfigVersion(ctx context.Context, websiteID string, version int) (*models.WebsiteConfigHistory, error) {
	return nil, interfaces.ErrNotFound
}

// fakeKV is a minimal in-memory interfaces.KeyValueStorage, enough to back
// a real cache.Cache and queue.Queue without badger.
type fakeKV struct {
	values map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{values: make(map[string]string)} }

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return v, nil
}
func (f *fakeKV) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	return &interfaces.KeyValuePair{Key: key, Value: v}, nil
}
func (f *fakeKV) Set(ctx context.Context, key, value, description string) error {
	f.values[key] = value
	return nil
}
func (f *fakeKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	f.values[key] = value
	return nil
}
func (f *fakeKV) Upsert(ctx context.Context, key, value, description string) (bool, error) {
	_, existed := f.values[key]
	f.values[key] = value
	return !existed, nil
}
func (f *fakeKV) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}
func (f *fakeKV) DeleteAll(ctx context.Context) error {
	f.values = make(map[string]string)
	return nil
}
func (f *fakeKV) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var out []interfaces.KeyValuePair
	for k, v := range f.values {
		out = append(out, interfaces.KeyValuePair{Key: k, Value: v})
	}
	return out, nil
}
func (f *fakeKV) GetAll(ctx context.Context) (map[string]string, error) {
	return f.values, nil
}

// fakeQueueStorage mirrors internal/queue/queue_test.go's fake, duplicated
// here so this package's tests don't depend on an internal test helper from
// another package.
type fakeQueueStorage struct {
	messages map[string]*models.QueueMessage
	rejectAll bool
}

func newFakeQueueStorage() *fakeQueueStorage {
	return &fakeQueueStorage{messages: make(map[string]*models.QueueMessage)}
}

func (f *fakeQueueStorage) Insert(ctx context.Context, m *models.QueueMessage) error {
	if f.rejectAll {
		return assert.AnError
	}
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}
func (f *fakeQueueStorage) GetByDedupKey(ctx context.Context, dedupKey string, within time.Duration) (*models.QueueMessage, error) {
	return nil, interfaces.ErrNotFound
}
func (f *fakeQueueStorage) DeleteByJobID(ctx context.Context, jobID string) (bool, error) {
	for id, m := range f.messages {
		if m.JobID == jobID && !m.Leased {
			delete(f.messages, id)
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeQueueStorage) LeaseNext(ctx context.Context, n int, owner string, leaseFor time.Duration, now time.Time) ([]*models.QueueMessage, error) {
	return nil, nil
}
func (f *fakeQueueStorage) Ack(ctx context.Context, messageID string) error {
	delete(f.messages, messageID)
	return nil
}
func (f *fakeQueueStorage) Nak(ctx context.Context, messageID string, notBefore time.Time) error {
	return nil
}
func (f *fakeQueueStorage) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeQueueStorage) Get(ctx context.Context, messageID string) (*models.QueueMessage, error) {
	m, ok := f.messages[messageID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return m, nil
}
func (f *fakeQueueStorage) Count(ctx context.Context) (int, error) {
	return len(f.messages), nil
}

func newTestService(t *testing.T) (*JobService, *fakeJobStorage) {
	t.Helper()
	jobStore := newFakeJobStorage()
	webStore := newFakeWebsiteStorage()
	q := queue.New(newFakeQueueStorage(), arbor.NewLogger(), time.Minute, 3)
	c := cache.New(newFakeKV(), arbor.NewLogger())
	svc := New(jobStore, webStore, nil, q, c, arbor.NewLogger(), common.NewSystemClock())
	return svc, jobStore
}

func validInlineConfig() *models.WebsiteConfig {
	return &models.WebsiteConfig{
		Steps: []models.Step{
			{Name: "list", Kind: models.StepKindCrawlList, Method: models.ScrapeMethodHTTP, Container: "a.result", URLSelector: "a"},
			{Name: "detail", Kind: models.StepKindScrapeDetail, Method: models.ScrapeMethodHTTP, Selectors: map[string]string{"title": "h1"}},
		},
	}
}

func TestSubmit_XORViolation_BothSet(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), models.SubmitRequest{
		WebsiteID:    "web-1",
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/?q=alpha",
	})
	require.Error(t, err)
}

func TestSubmit_XORViolation_NeitherSet(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), models.SubmitRequest{
		SeedURL: "https://example.test/?q=alpha",
	})
	require.Error(t, err)
}

func TestSubmit_InlineConfig_Success(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/?q=alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 5, job.Priority) // default
	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestSubmit_PublishFailure_RollsBackRow(t *testing.T) {
	// P5: if Submit returns error, no CrawlJob row is visible to List/Get.
	jobStore := newFakeJobStorage()
	webStore := newFakeWebsiteStorage()
	qStore := newFakeQueueStorage()
	qStore.rejectAll = true
	q := queue.New(qStore, arbor.NewLogger(), time.Minute, 3)
	c := cache.New(newFakeKV(), arbor.NewLogger())
	svc := New(jobStore, webStore, nil, q, c, arbor.NewLogger(), common.NewSystemClock())

	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/?q=alpha",
	})
	require.Error(t, err)
	require.Nil(t, job)
	assert.Empty(t, jobStore.jobs)
}

func TestSubmit_UnknownWebsiteID_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), models.SubmitRequest{
		WebsiteID: "does-not-exist",
		SeedURL:   "https://example.test/",
	})
	require.Error(t, err)
}

func TestSubmit_InvalidInlineConfig_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: &models.WebsiteConfig{}, // no steps
		SeedURL:      "https://example.test/",
	})
	require.Error(t, err)
}

func TestCancel_Pending_DeletesFromQueueAndCancels(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), job.ID, "operator", "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, "operator", cancelled.CancelledBy)

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
}

func TestCancel_Running_SetsCancellingAndFlag(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)

	ok, err := jobStore.CompareAndSetStatus(context.Background(), job.ID, models.JobStatusPending, models.JobStatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, err := svc.Cancel(context.Background(), job.ID, "operator", "stop")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelling, cancelled.Status)
}

func TestCancel_AlreadyTerminal_Rejected(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteSuccess(context.Background(), job.ID, models.CrawlResult{Outcome: models.OutcomeSuccess}))

	_, err = svc.Cancel(context.Background(), job.ID, "operator", "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAlreadyTerminal)
}

func TestStartRunning_CompareAndSetRejectsDoubleLease(t *testing.T) {
	svc, _ := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)

	leased, ok, err := svc.StartRunning(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, leased.Status)

	// A second worker racing on the same message must lose the CAS.
	_, ok2, err := svc.StartRunning(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestRequeueForRetry_IncrementsRetryCountAndSchedulesAt(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)
	_, _, err = svc.StartRunning(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RequeueForRetry(context.Background(), job.ID, 2*time.Second, "server_error"))

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "server_error", stored.LastError)
	require.NotNil(t, stored.ScheduledAt)
}

func TestCompleteSuccess_SetsOutcomeAndProgress(t *testing.T) {
	svc, jobStore := newTestService(t)
	job, err := svc.Submit(context.Background(), models.SubmitRequest{
		InlineConfig: validInlineConfig(),
		SeedURL:      "https://example.test/",
	})
	require.NoError(t, err)
	_, _, err = svc.StartRunning(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CompleteSuccess(context.Background(), job.ID, models.CrawlResult{
		Outcome:        models.OutcomeSuccess,
		URLsDiscovered: 12,
		PagesWritten:   12,
	}))

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, models.OutcomeSuccess, stored.Outcome)
	assert.Equal(t, 100.0, stored.Progress.Percentage)
	require.NotNil(t, stored.CompletedAt)
}
