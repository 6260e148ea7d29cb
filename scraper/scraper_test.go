package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/session"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSession struct {
	visible  map[string]bool
	pages    map[string]string
	navErr   error
	probeErr error

	typed  strings.Builder
	calls  []string
	probes []string
	resets int
	closed bool
}

func (fs *fakeSession) Navigate(ctx context.Context, url string) error {
	fs.calls = append(fs.calls, "navigate")
	fs.typed.Reset()
	return fs.navErr
}

func (fs *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	fs.probes = append(fs.probes, selector)
	if fs.probeErr != nil {
		return false, fs.probeErr
	}
	return fs.visible[selector], nil
}

func (fs *fakeSession) Clear(ctx context.Context, selector string) error {
	fs.calls = append(fs.calls, "clear")
	fs.typed.Reset()
	return nil
}

func (fs *fakeSession) Type(ctx context.Context, selector, text string) error {
	fs.calls = append(fs.calls, "type")
	fs.typed.WriteString(text)
	return nil
}

func (fs *fakeSession) Submit(ctx context.Context, selector string) error {
	fs.calls = append(fs.calls, "submit")
	return nil
}

func (fs *fakeSession) Settle(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (fs *fakeSession) HTML(ctx context.Context) (string, error) {
	fs.calls = append(fs.calls, "html")
	page, ok := fs.pages[fs.typed.String()]
	if !ok {
		return "<html><body></body></html>", nil
	}
	return page, nil
}

func (fs *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	return "http://estimate.test/search", nil
}

func (fs *fakeSession) Reset(ctx context.Context) error {
	fs.resets++
	return nil
}

func (fs *fakeSession) Close() error {
	fs.closed = true
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SpreadsheetID = "test"
	cfg.EstimateURL = "http://estimate.test/estimate/guide"
	cfg.PageLoadSettle = 0
	cfg.ClearPause = 0
	cfg.KeystrokeInterval = 0
	cfg.PreSubmitPause = 0
	cfg.ResultSettle = 0
	cfg.InputProbeTimeout = 10 * time.Millisecond
	return cfg
}

func newTestFetcher(t *testing.T, s session.Session) *Fetcher {
	t.Helper()
	f, err := NewFetcher(s, testConfig(), NewMetrics())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fixed := time.Date(2025, 12, 5, 3, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }
	return f
}

func TestFetchPricedQuote(t *testing.T) {
	const isbn = "9784101010014"
	fs := &fakeSession{
		visible: map[string]bool{"input[type='search']": true},
		pages: map[string]string{
			isbn: `<html><body><h1>こころ</h1><h2>夏目漱石の長編小説</h2><span class="buy-price">149円</span></body></html>`,
		},
	}
	f := newTestFetcher(t, fs)

	quote, err := f.Fetch(context.Background(), isbn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price != 149 || quote.Status != models.QuotePriced {
		t.Fatalf("quote = %+v", quote)
	}
	if quote.Title != "夏目漱石の長編小説" {
		t.Fatalf("title = %q; the three-character heading is below the length threshold", quote.Title)
	}
	if quote.ObservedAt.Location().String() != "Asia/Tokyo" || quote.ObservedAt.Hour() != 12 {
		t.Fatalf("observed at = %v, want JST", quote.ObservedAt)
	}

	wantProbes := []string{
		"input[placeholder*='気になる本']",
		"input[placeholder*='検索']",
		"input[type='search']",
	}
	if strings.Join(fs.probes, "|") != strings.Join(wantProbes, "|") {
		t.Fatalf("probes = %v, want %v", fs.probes, wantProbes)
	}

	typeCalls := 0
	for _, c := range fs.calls {
		if c == "type" {
			typeCalls++
		}
	}
	if typeCalls != len(isbn) {
		t.Fatalf("typed %d keystrokes, want one per character (%d)", typeCalls, len(isbn))
	}
	if got := testutil.ToFloat64(f.Metrics.FetchesTotal.WithLabelValues("priced")); got != 1 {
		t.Fatalf("priced fetches = %v", got)
	}
}

func TestFetchNotFoundQuote(t *testing.T) {
	const isbn = "9780000000000"
	fs := &fakeSession{
		visible: map[string]bool{"input[type='text']": true},
		pages: map[string]string{
			isbn: `<html><body><div class="v-card__text">商品は見つかりませんでした</div><span class="buy-price">300円</span></body></html>`,
		},
	}

	quote, err := newTestFetcher(t, fs).Fetch(context.Background(), isbn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Status != models.QuoteNotFound || quote.Price != 0 {
		t.Fatalf("quote = %+v", quote)
	}
	if quote.Title != "No match (ISBN: 9780000000000)" {
		t.Fatalf("title = %q", quote.Title)
	}
}

func TestFetchDegradedQuote(t *testing.T) {
	const isbn = "9781111111111"
	fs := &fakeSession{
		visible: map[string]bool{"input[type='text']": true},
		pages:   map[string]string{isbn: `<html><body><p>x</p></body></html>`},
	}

	quote, err := newTestFetcher(t, fs).Fetch(context.Background(), isbn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Status != models.QuoteDegraded || quote.Price != 0 {
		t.Fatalf("quote = %+v", quote)
	}
	if quote.Title != "Title not found (ISBN: 9781111111111)" {
		t.Fatalf("title = %q", quote.Title)
	}
}

func TestFetchInputNotFound(t *testing.T) {
	fs := &fakeSession{visible: map[string]bool{}}
	f := newTestFetcher(t, fs)

	_, err := f.Fetch(context.Background(), "9784101010014")
	var sessionErr ErrSession
	if !errors.As(err, &sessionErr) || !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrSession wrapping ErrInputNotFound", err)
	}
	if len(fs.probes) != len(config.DefaultSelectors().Input) {
		t.Fatalf("probed %d selectors, want all", len(fs.probes))
	}
	for _, c := range fs.calls {
		if c == "submit" {
			t.Fatalf("must not submit without an input")
		}
	}
}

func TestFetchClassifiesFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeSession)
		want  string
	}{
		{
			name:  "navigation deadline",
			setup: func(fs *fakeSession) { fs.navErr = context.DeadlineExceeded },
			want:  "timeout",
		},
		{
			name:  "navigation failure",
			setup: func(fs *fakeSession) { fs.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED") },
			want:  "session",
		},
		{
			name:  "probe crash",
			setup: func(fs *fakeSession) { fs.probeErr = errors.New("target closed") },
			want:  "session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeSession{}
			tt.setup(fs)
			f := newTestFetcher(t, fs)
			_, err := f.Fetch(context.Background(), "9784101010014")
			if got := ErrorLabel(err); got != tt.want {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.want, err)
			}
			if got := testutil.ToFloat64(f.Metrics.FetchesTotal.WithLabelValues("error")); got != 1 {
				t.Fatalf("error fetches = %v", got)
			}
		})
	}
}

func TestFetchCancelledWhileTyping(t *testing.T) {
	fs := &fakeSession{visible: map[string]bool{"input[type='text']": true}}
	f := newTestFetcher(t, fs)
	f.timing.KeystrokeInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "9784101010014")
	if ErrorLabel(err) != "timeout" {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestFetcherReset(t *testing.T) {
	fs := &fakeSession{}
	f := newTestFetcher(t, fs)
	if err := f.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fs.resets != 1 {
		t.Fatalf("resets = %d", fs.resets)
	}
}

func TestFetch_HTTPSessionIntegration(t *testing.T) {
	const isbn = "9784003101018"
	formPage := `<html><body><form action="/estimate/search"><input type="search" name="keyword"></form></body></html>`
	resultPage := `<html><body>
<h1 class="title">吾輩は猫である</h1>
<div class="item"><span class="buy-price">1,020円</span></div>
</body></html>`

	s, err := session.NewHTTP(session.HTTPOptions{UserAgent: "test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new http session: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://estimate.test/estimate/guide", htmlResponder(formPage))
	transport.RegisterResponderWithQuery("GET", "http://estimate.test/estimate/search",
		map[string]string{"keyword": isbn}, htmlResponder(resultPage))
	s.WithTransport(transport)

	quote, err := newTestFetcher(t, s).Fetch(context.Background(), isbn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price != 1020 || quote.Title != "吾輩は猫である" || quote.Status != models.QuotePriced {
		t.Fatalf("quote = %+v", quote)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("calls = %d, want form load and search (%v)", got, transport.GetCallCountInfo())
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}
