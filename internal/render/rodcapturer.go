package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodCapturer implements Capturer with github.com/go-rod/rod, the same
// library helixml-helix's api/pkg/controller/knowledge/browser package
// uses to drive headless Chrome: one shared browser connection, one
// fresh page per capture.
type RodCapturer struct {
	browser *rod.Browser
}

// NewRodCapturer launches (or connects to, if chromeURL is non-empty)
// a Chromium instance and returns a ready Capturer.
func NewRodCapturer(chromeURL string) (*RodCapturer, error) {
	var controlURL string
	var err error

	if chromeURL != "" {
		controlURL, err = launcher.ResolveURL(chromeURL)
	} else {
		controlURL, err = launcher.New().Headless(true).Launch()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBrowserUnavailable, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBrowserUnavailable, err)
	}

	return &RodCapturer{browser: browser}, nil
}

// Close disconnects the underlying browser.
func (c *RodCapturer) Close() error {
	return c.browser.Close()
}

// Capture loads req.URL in a new page sized req.Width x req.Height,
// waits for the page's load event plus a short settle delay, optionally
// scrolls a selector into view, and returns a full-viewport PNG
// screenshot.
func (c *RodCapturer) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("%w: creating page: %s", ErrBrowserUnavailable, err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("render: setting viewport: %w", err)
	}

	if err := page.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("render: navigating to %s: %w", req.URL, err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("render: waiting for load of %s: %w", req.URL, err)
	}

	settle := req.SettleDelay
	if settle <= 0 {
		settle = 2 * time.Second
	}
	time.Sleep(settle)

	if sel := strings.TrimSpace(req.ScrollToElement); sel != "" {
		el, err := page.Sleeper(rod.NotFoundSleeper).Element(sel)
		if err != nil {
			// Selector not found is non-fatal: capture the page as-is.
			el = nil
		}
		if el != nil {
			_ = el.ScrollIntoView()
			time.Sleep(time.Second)
		}
	}

	data, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("render: screenshot of %s: %w", req.URL, err)
	}
	return data, nil
}
