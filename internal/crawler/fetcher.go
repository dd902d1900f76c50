package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/crawlerd/internal/browser"
	"github.com/ternarybob/crawlerd/internal/models"
)

// FetchResult is one page fetch's outcome, regardless of which method
// performed it.
type FetchResult struct {
	HTML       string
	FinalURL   string // post-redirect URL, used as the base for relative link resolution
	StatusCode int
}

// Fetcher performs the HTTP/API/browser fetch a Step's method selects,
// grounded on the teacher's makeRequest (internal/services/crawler/worker.go)
// client-selection/timeout idiom, simplified to the single per-process HTTP
// client and shared BrowserPool this redesign's composition root wires in.
type Fetcher struct {
	httpClient *http.Client
	pool       *browser.Pool
	userAgent  string
}

// NewFetcher creates a Fetcher. pool may be nil if no browser step is ever
// used by the deployment.
func NewFetcher(timeout time.Duration, userAgent string, pool *browser.Pool) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		pool:       pool,
		userAgent:  userAgent,
	}
}

// Fetch dispatches to the fetch strategy the step's ScrapeMethod selects
//.
func (f *Fetcher) Fetch(ctx context.Context, method models.ScrapeMethod, targetURL string) (FetchResult, error) {
	switch method {
	case models.ScrapeMethodBrowser:
		return f.fetchBrowser(ctx, targetURL)
	case models.ScrapeMethodAPI, models.ScrapeMethodHTTP:
		return f.fetchHTTP(ctx, targetURL)
	default:
		return f.fetchHTTP(ctx, targetURL)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, targetURL string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to read response body: %w", err)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return FetchResult{HTML: string(body), FinalURL: finalURL, StatusCode: resp.StatusCode}, nil
}

func (f *Fetcher) fetchBrowser(ctx context.Context, targetURL string) (FetchResult, error) {
	if f.pool == nil {
		return FetchResult{}, fmt.Errorf("browser fetch requested but no browser pool is configured")
	}
	handle, err := f.pool.AcquireContext(ctx)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to acquire browser context: %w", err)
	}
	defer handle.Release()

	var html, finalURL string
	err = chromedp.Run(handle.Context,
		chromedp.Navigate(targetURL),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return FetchResult{}, fmt.Errorf("browser navigation failed: %w", err)
	}
	return FetchResult{HTML: html, FinalURL: finalURL, StatusCode: http.StatusOK}, nil
}
