package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/blobstore"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/dedup"
	"github.com/ternarybob/crawlerd/internal/htmlx"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/logstream"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/variables"
)

// fakeKV is a minimal in-memory interfaces.KeyValueStorage, the same shape
// as internal/dedup's fake of the same name.
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
func (f *fakeKV) GetAll(ctx context.Context) (map[string]string, error) { return f.values, nil }

// fakeContentHashStorage is an in-memory interfaces.ContentHashStorage.
type fakeContentHashStorage struct {
	byHash map[string]*models.ContentHash
}

func newFakeContentHashStorage() *fakeContentHashStorage {
	return &fakeContentHashStorage{byHash: make(map[string]*models.ContentHash)}
}

func (f *fakeContentHashStorage) Get(ctx context.Context, hash string) (*models.ContentHash, error) {
	c, ok := f.byHash[hash]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return c, nil
}
func (f *fakeContentHashStorage) Upsert(ctx context.Context, c *models.ContentHash) error {
	f.byHash[c.Hash] = c
	return nil
}
func (f *fakeContentHashStorage) IncrementOccurrence(ctx context.Context, hash string) (*models.ContentHash, error) {
	c, ok := f.byHash[hash]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c.OccurrenceCount++
	return c, nil
}
func (f *fakeContentHashStorage) ListSimhashCandidates(ctx context.Context, limit int) ([]*models.ContentHash, error) {
	var out []*models.ContentHash
	for _, c := range f.byHash {
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakePageStorage is an in-memory interfaces.PageStorage enforcing the same
// (website_id, url_hash) uniqueness invariant as the badgerhold-backed
// implementation, so pipeline tests exercise the real degrade-to-duplicate
// path.
type fakePageStorage struct {
	byID      map[string]*models.CrawledPage
	byURLHash map[string]string // WebsiteURLKey -> page id
}

func newFakePageStorage() *fakePageStorage {
	return &fakePageStorage{byID: make(map[string]*models.CrawledPage), byURLHash: make(map[string]string)}
}

func (f *fakePageStorage) Create(ctx context.Context, p *models.CrawledPage) error {
	if !p.IsDuplicate {
		key := models.WebsiteURLKey(p.WebsiteID, p.URLHash)
		if winnerID, exists := f.byURLHash[key]; exists {
			p.IsDuplicate = true
			p.DuplicateOf = winnerID
		} else {
			f.byURLHash[key] = p.ID
		}
	}
	f.byID[p.ID] = p
	return nil
}
func (f *fakePageStorage) Get(ctx context.Context, id string) (*models.CrawledPage, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return p, nil
}
func (f *fakePageStorage) GetByWebsiteURLHash(ctx context.Context, websiteID, urlHash string) (*models.CrawledPage, error) {
	id, ok := f.byURLHash[models.WebsiteURLKey(websiteID, urlHash)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return f.Get(ctx, id)
}
func (f *fakePageStorage) ListByJob(ctx context.Context, jobID string) ([]*models.CrawledPage, error) {
	var out []*models.CrawledPage
	for _, p := range f.byID {
		if p.JobID == jobID {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakePageStorage) CountByJob(ctx context.Context, jobID string) (int, error) {
	pages, _ := f.ListByJob(ctx, jobID)
	return len(pages), nil
}

// fakeLogStorage is an in-memory interfaces.LogStorage backing a real
// logstream.LogStream.
type fakeLogStorage struct {
	entries []*models.CrawlLog
}

func (f *fakeLogStorage) Append(ctx context.Context, entry *models.CrawlLog) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeLogStorage) ListByJob(ctx context.Context, jobID string, since *time.Time) ([]*models.CrawlLog, error) {
	var out []*models.CrawlLog
	for _, e := range f.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeLogStorage) DropPartitionsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

// fakeStorageManager only wires up Page(); the other repositories are
// untouched by these tests because every test job carries an InlineConfig
// rather than a WebsiteID, so SeedURLCrawler.resolveConfig never reaches
// storage.Website() or storage.ScheduledJob().
type fakeStorageManager struct {
	pages *fakePageStorage
}

func (m *fakeStorageManager) Website() interfaces.WebsiteStorage           { return nil }
func (m *fakeStorageManager) Job() interfaces.JobStorage                   { return nil }
func (m *fakeStorageManager) ScheduledJob() interfaces.ScheduledJobStorage { return nil }
func (m *fakeStorageManager) Page() interfaces.PageStorage                 { return m.pages }
func (m *fakeStorageManager) ContentHash() interfaces.ContentHashStorage   { return nil }
func (m *fakeStorageManager) Log() interfaces.LogStorage                   { return nil }
func (m *fakeStorageManager) RetryHistory() interfaces.RetryHistoryStorage { return nil }
func (m *fakeStorageManager) DeadLetter() interfaces.DeadLetterStorage     { return nil }
func (m *fakeStorageManager) KV() interfaces.KeyValueStorage               { return nil }
func (m *fakeStorageManager) Queue() interfaces.QueueStorage               { return nil }
func (m *fakeStorageManager) Close() error                                 { return nil }

// testHarness wires a SeedURLCrawler over an in-memory storage stack and a
// real blobstore.FilesystemStore rooted in a temp dir, mirroring the
// composition root's wiring in cmd/.
type testHarness struct {
	crawler *SeedURLCrawler
	pages   *fakePageStorage
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := arbor.NewLogger()

	pages := newFakePageStorage()
	storage := &fakeStorageManager{pages: pages}

	c := cache.New(newFakeKV(), logger)
	d := dedup.New(c, newFakeContentHashStorage(), logger, dedup.DefaultHammingThreshold, time.Hour)
	extractor := htmlx.New(logger)
	fetcher := NewFetcher(5*time.Second, "crawlerd-test", nil)
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	logs := logstream.New(&fakeLogStorage{}, logger)

	cfg := Config{
		MaxPages:             50,
		MaxEmptyResponses:    3,
		CircularHashWindow:   5,
		DefaultRatePerSecond: 1000, // fast enough not to slow tests down
		VariableRecursionCap: variables.DefaultRecursionCap,
		HammingThreshold:     dedup.DefaultHammingThreshold,
		URLCacheTTL:          time.Hour,
	}

	return &testHarness{
		crawler: New(storage, c, d, extractor, fetcher, blobs, logs, logger, cfg),
		pages:   pages,
	}
}

func inlineJob(seedURL string, config models.WebsiteConfig) *models.CrawlJob {
	return &models.CrawlJob{
		ID:           common.NewJobID(),
		WebsiteID:    "",
		InlineConfig: &config,
		SeedURL:      seedURL,
	}
}

func detailHTML(title, body string) string {
	return `<html><head><title>` + title + `</title></head><body><p class="price">` + body + `</p></body></html>`
}

// TestCrawl_HappyPathTemplateMode covers spec scenario 1: a seed list page
// discovers two detail URLs, both scrape cleanly, and the job reports a
// plain success with both pages written.
func TestCrawl_HappyPathTemplateMode(t *testing.T) {
	h := newTestHarness(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<div class="row"><a class="link" href="/detail/1">one</a></div>
<div class="row"><a class="link" href="/detail/2">two</a></div>
</body></html>`))
	})
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailHTML("Item One", "$10 unique body about widgets")))
	})
	mux.HandleFunc("/detail/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailHTML("Item Two", "$20 unique body about gadgets")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	config := models.WebsiteConfig{
		Steps: []models.Step{
			{Kind: models.StepKindCrawlList, Method: models.ScrapeMethodHTTP, Container: ".row", URLSelector: "a.link"},
			{Kind: models.StepKindScrapeDetail, Method: models.ScrapeMethodHTTP, Selectors: map[string]string{"price": ".price"}},
		},
	}
	job := inlineJob(srv.URL+"/list", config)

	result := h.crawler.Crawl(context.Background(), job, nil)

	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.PagesWritten)
	assert.Equal(t, 2, result.URLsDiscovered)
	assert.Len(t, h.pages.byID, 2)
}

// TestCrawl_SeedURL404 covers spec scenario 2: the seed URL itself 404s and
// the job terminates without ever reaching pagination or scraping.
func TestCrawl_SeedURL404(t *testing.T) {
	h := newTestHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	config := models.WebsiteConfig{
		Steps: []models.Step{
			{Kind: models.StepKindCrawlList, Method: models.ScrapeMethodHTTP, Container: ".row", URLSelector: "a.link"},
		},
	}
	job := inlineJob(srv.URL+"/missing", config)

	result := h.crawler.Crawl(context.Background(), job, nil)

	assert.Equal(t, models.OutcomeSeedURL404, result.Outcome)
	assert.Equal(t, 0, result.PagesWritten)
	assert.Empty(t, h.pages.byID)
}

// TestCrawl_CircularPaginationSurfacesStopReason covers spec scenario 3: a
// url_template-paginated list loops back to identical content on page 2.
// Every detail URL discovered before the loop was detected still scrapes
// cleanly, so the outcome is circular_pagination (not success) with the
// pages it did write preserved (§4.3 scenario 3, the bug this file's
// crawler.go fix addresses).
func TestCrawl_CircularPaginationSurfacesStopReason(t *testing.T) {
	h := newTestHarness(t)

	const listBody = `<html><body><div class="row"><a class="link" href="/detail/1">one</a></div></body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listBody))
	})
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailHTML("Item One", "$10 unique body about widgets")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	config := models.WebsiteConfig{
		Steps: []models.Step{
			{
				Kind: models.StepKindCrawlList, Method: models.ScrapeMethodHTTP,
				Container: ".row", URLSelector: "a.link",
				Pagination: &models.PaginationConfig{URLTemplate: "?page={page}", MaxPages: 10},
			},
			{Kind: models.StepKindScrapeDetail, Method: models.ScrapeMethodHTTP, Selectors: map[string]string{"price": ".price"}},
		},
	}
	job := inlineJob(srv.URL+"/list", config)

	result := h.crawler.Crawl(context.Background(), job, nil)

	assert.Equal(t, models.OutcomeCircularPagination, result.Outcome)
	assert.Equal(t, 1, result.PagesWritten)
	assert.Equal(t, 1, result.URLsDiscovered)
}

// TestCrawl_DuplicateContentIsFlaggedNotFailed covers spec scenario 6: two
// distinct detail URLs serve byte-identical content; the second page is
// still written but flagged as a content duplicate of the first.
func TestCrawl_DuplicateContentIsFlaggedNotFailed(t *testing.T) {
	h := newTestHarness(t)

	body := detailHTML("Same Title", "identical body text shared by both pages")

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<div class="row"><a class="link" href="/detail/1">one</a></div>
<div class="row"><a class="link" href="/detail/2">two</a></div>
</body></html>`))
	})
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })
	mux.HandleFunc("/detail/2", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	config := models.WebsiteConfig{
		Steps: []models.Step{
			{Kind: models.StepKindCrawlList, Method: models.ScrapeMethodHTTP, Container: ".row", URLSelector: "a.link"},
			{Kind: models.StepKindScrapeDetail, Method: models.ScrapeMethodHTTP, Selectors: map[string]string{"price": ".price"}},
		},
	}
	job := inlineJob(srv.URL+"/list", config)

	result := h.crawler.Crawl(context.Background(), job, nil)

	require.Equal(t, models.OutcomeSuccess, result.Outcome)
	require.Equal(t, 2, result.PagesWritten)

	var dup, original *models.CrawledPage
	for _, p := range h.pages.byID {
		if p.IsDuplicate {
			dup = p
		} else {
			original = p
		}
	}
	require.NotNil(t, dup, "expected one of the two pages to be flagged a content duplicate")
	require.NotNil(t, original)
	assert.Equal(t, original.ID, dup.DuplicateOf)
	assert.Equal(t, 100, dup.SimilarityScore)
}
