// Package screenshot renders audit targets in headless Chrome and stores the
// captured images.
package screenshot

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jonathan/siteforge/internal/objstore"
)

// DefaultTimeout bounds one capture session.
const DefaultTimeout = 45 * time.Second

// Validator vets every URL the browser requests. *safefetch.Fetcher satisfies it.
type Validator interface {
	Validate(ctx context.Context, rawURL string) (*url.URL, error)
}

// Viewport is one emulated screen size.
type Viewport struct {
	Name   string
	Width  int64
	Height int64
	Mobile bool
}

// DefaultViewports captures a desktop and a phone rendering.
var DefaultViewports = []Viewport{
	{Name: "desktop", Width: 1366, Height: 768},
	{Name: "mobile", Width: 390, Height: 844, Mobile: true},
}

// Capturer takes screenshots. Requires Chrome/Chromium on the host.
type Capturer struct {
	validator Validator
	store     objstore.Store
	timeout   time.Duration
	viewports []Viewport
}

// New creates a Capturer that stores PNGs in store.
func New(validator Validator, store objstore.Store, timeout time.Duration) *Capturer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Capturer{validator: validator, store: store, timeout: timeout, viewports: DefaultViewports}
}

// Capture renders pageURL at each viewport and returns the stored references
// in viewport order. Requests to addresses the validator rejects are failed
// inside the browser, including subresources and redirects.
func (c *Capturer) Capture(ctx context.Context, auditID, pageURL string) ([]string, error) {
	if _, err := c.validator.Validate(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("screenshot target rejected: %w", err)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, c.timeout)
	defer cancel()

	c.guardRequests(browserCtx)

	if err := chromedp.Run(browserCtx,
		fetch.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(time.Second),
	); err != nil {
		return nil, fmt.Errorf("browser navigation failed: %w", err)
	}

	refs := make([]string, 0, len(c.viewports))
	for _, vp := range c.viewports {
		var png []byte
		opts := []chromedp.EmulateViewportOption{}
		if vp.Mobile {
			opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
		}
		if err := chromedp.Run(browserCtx,
			chromedp.EmulateViewport(vp.Width, vp.Height, opts...),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.CaptureScreenshot(&png),
		); err != nil {
			return refs, fmt.Errorf("%s screenshot failed: %w", vp.Name, err)
		}

		ref, err := c.store.Put(ctx, objstore.ScreenshotKey(auditID, vp.Name), "image/png", png)
		if err != nil {
			return refs, fmt.Errorf("failed to store %s screenshot: %w", vp.Name, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// guardRequests pauses every browser request and only continues those whose
// URL passes the validator.
func (c *Capturer) guardRequests(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
			if _, err := c.validator.Validate(ctx, paused.Request.URL); err != nil {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
		}()
	})
}
