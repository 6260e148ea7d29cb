package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const maskWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

const markHiddenScript = `(() => {
  document.querySelectorAll('[` + HiddenAttr + `]').forEach(el => el.removeAttribute('` + HiddenAttr + `'));
  const root = document.body;
  if (!root) { return true; }
  for (const el of root.querySelectorAll('*')) {
    const style = window.getComputedStyle(el);
    if (style.display === 'contents') { continue; }
    if (style.display === 'none' || style.visibility === 'hidden' || el.getClientRects().length === 0) {
      el.setAttribute('` + HiddenAttr + `', 'true');
    }
  }
  return true;
})()`

const clearStorageScript = `(() => { window.localStorage.clear(); window.sessionStorage.clear(); return true; })()`

// BrowserOptions configures the headless Chrome session.
type BrowserOptions struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
}

// Browser is a Session backed by one Chrome tab driven over CDP.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

// NewBrowser launches Chrome and opens the tab used for the whole run.
func NewBrowser(ctx context.Context, opts BrowserOptions) (*Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-features", "VizDisplayCompositor"),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives the setup context; it is released by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}

	// Chrome lives as long as the context of the first Run, so it must be
	// b.ctx itself. ctx only bounds the startup.
	stop := context.AfterFunc(ctx, func() { b.Close() })
	err := chromedp.Run(b.ctx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	err = b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(maskWebdriverScript).Do(ctx)
		return err
	}))
	if err != nil {
		slog.Warn("webdriver mask not applied", slog.Any("error", err))
	}
	return b, nil
}

// run executes actions on the tab while honouring ctx cancellation and deadline.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *Browser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := b.run(probeCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

func (b *Browser) Clear(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.Clear(selector, chromedp.ByQuery))
}

func (b *Browser) Type(ctx context.Context, selector, text string) error {
	return b.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (b *Browser) Submit(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

func (b *Browser) Settle(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (b *Browser) HTML(ctx context.Context) (string, error) {
	var (
		marked bool
		html   string
	)
	err := b.run(ctx,
		chromedp.Evaluate(markHiddenScript, &marked),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := b.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (b *Browser) Reset(ctx context.Context) error {
	var cleared bool
	return b.run(ctx,
		chromedp.Evaluate(clearStorageScript, &cleared),
		network.ClearBrowserCookies(),
	)
}

// Close shuts the tab and the Chrome process.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.allocCancel != nil {
			b.allocCancel()
		}
	})
	return nil
}
