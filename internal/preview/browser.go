package preview

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// Browser is a Chrome instance pointed at the preview server.
type Browser struct {
	browserContext  context.Context
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
}

// OpenBrowser launches Chrome and navigates to url. The browser is closed
// when ctx ends or Close is called.
func OpenBrowser(ctx context.Context, url string, headless bool) (*Browser, error) {
	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("new-window", true),
	)
	allocatorContext, cancelAllocator := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	browserContext, cancelBrowser := chromedp.NewContext(allocatorContext)

	if navigationError := chromedp.Run(browserContext, chromedp.Navigate(url)); navigationError != nil {
		cancelBrowser()
		cancelAllocator()
		return nil, fmt.Errorf("preview.browser: open %s: %w", url, navigationError)
	}
	return &Browser{
		browserContext:  browserContext,
		cancelBrowser:   cancelBrowser,
		cancelAllocator: cancelAllocator,
	}, nil
}

// Reload refreshes the current page.
func (browser *Browser) Reload() error {
	if browser == nil {
		return nil
	}
	if reloadError := chromedp.Run(browser.browserContext, chromedp.Reload()); reloadError != nil {
		return fmt.Errorf("preview.browser: reload: %w", reloadError)
	}
	return nil
}

// Close shuts the browser down.
func (browser *Browser) Close() {
	if browser == nil {
		return
	}
	browser.cancelBrowser()
	browser.cancelAllocator()
}

// FollowReloads reloads the browser for every event on the hub until ctx
// ends. Reload failures are passed to onError.
func (browser *Browser) FollowReloads(ctx context.Context, hub *Hub, onError func(error)) {
	events, unsubscribe := hub.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, open := <-events:
				if !open {
					return
				}
				if reloadError := browser.Reload(); reloadError != nil && onError != nil {
					onError(reloadError)
				}
			}
		}
	}()
}
