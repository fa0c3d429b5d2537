package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher is the expensive tier: a headless Chrome render for
// script-built pages. It is never the default first attempt; the engine
// selects it only for healing runs or explicit escalation.
type BrowserFetcher struct {
	timeout time.Duration
	settle  time.Duration
}

// NewBrowserFetcher configures the render tier. settle is how long the
// page gets to finish script execution before the DOM is captured.
func NewBrowserFetcher(timeout, settle time.Duration) *BrowserFetcher {
	if settle <= 0 {
		settle = 5 * time.Second
	}
	return &BrowserFetcher{timeout: timeout, settle: settle}
}

func (f *BrowserFetcher) Name() string { return "browser" }

// Fetch navigates headless Chrome to the page and returns the rendered
// DOM. All failures are treated as transient; a broken page and a slow
// page are indistinguishable at this layer.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}
