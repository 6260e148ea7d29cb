// Package session provides the browser-like conversations the fetcher
// drives against the estimate site.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HiddenAttr marks elements the browser reported as not rendered.
const HiddenAttr = "data-repricer-hidden"

// Session is one stateful conversation with the estimate site.
// Implementations are not safe for concurrent use.
type Session interface {
	// Navigate loads url in the session.
	Navigate(ctx context.Context, url string) error
	// WaitVisible reports whether an element matching selector became
	// visible within timeout. Not finding one is not an error.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// Clear empties the value of the first element matching selector.
	Clear(ctx context.Context, selector string) error
	// Type appends text to the first element matching selector.
	Type(ctx context.Context, selector, text string) error
	// Submit commits the form that owns the element matching selector.
	Submit(ctx context.Context, selector string) error
	// Settle waits a bounded interval for rendering to finish.
	Settle(ctx context.Context, d time.Duration) error
	// HTML returns the current rendered document.
	HTML(ctx context.Context) (string, error)
	// CurrentURL returns the address of the loaded document.
	CurrentURL(ctx context.Context) (string, error)
	// Reset drops cookies and web storage accumulated by the session.
	Reset(ctx context.Context) error
	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Visible reports whether the element and its ancestors are rendered,
// judged from markup: hidden attributes, inline styles and the marker
// the browser session stamps on elements without layout boxes.
func Visible(sel *goquery.Selection) bool {
	if sel.Length() == 0 {
		return false
	}
	for node := sel.First(); node.Length() > 0; node = node.Parent() {
		if hiddenNode(node) {
			return false
		}
	}
	return true
}

func hiddenNode(node *goquery.Selection) bool {
	if _, ok := node.Attr("hidden"); ok {
		return true
	}
	if _, ok := node.Attr(HiddenAttr); ok {
		return true
	}
	if v, ok := node.Attr("aria-hidden"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return true
	}
	if v, ok := node.Attr("type"); ok && goquery.NodeName(node) == "input" && strings.EqualFold(v, "hidden") {
		return true
	}
	style, ok := node.Attr("style")
	if !ok {
		return false
	}
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}
