package session

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// HTTPOptions configures the plain HTTP session.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// HTTP is a Session for estimate pages rendered on the server. Forms are
// submitted as regular GET or POST requests and typed values are kept
// client side until submission.
type HTTP struct {
	collector *colly.Collector

	mu      sync.Mutex
	body    []byte
	pageURL *url.URL
	doc     *goquery.Document
	values  map[string]string
	lastErr error
}

// NewHTTP builds an HTTP session.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	if opts.Timeout > 0 {
		collector.SetRequestTimeout(opts.Timeout)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)

	s := &HTTP{
		collector: collector,
		values:    make(map[string]string),
	}
	collector.OnResponse(func(r *colly.Response) {
		s.body = r.Body
		s.pageURL = r.Request.URL
	})
	return s, nil
}

// WithTransport swaps the HTTP transport, mostly for tests.
func (s *HTTP) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
}

func (s *HTTP) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitLocked(ctx, func() error { return s.collector.Visit(rawURL) })
}

func (s *HTTP) visitLocked(ctx context.Context, visit func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.body = nil
	s.doc = nil
	s.values = make(map[string]string)
	if err := visit(); err != nil {
		return fmt.Errorf("visit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.body == nil {
		return fmt.Errorf("visit: empty response")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(s.body))
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}
	s.doc = doc
	return nil
}

func (s *HTTP) find(selector string) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	return s.doc.Find(selector), nil
}

// WaitVisible inspects the loaded document once; server-rendered pages do
// not change after load, so there is nothing to poll for.
func (s *HTTP) WaitVisible(ctx context.Context, selector string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sel, err := s.find(selector)
	if err != nil {
		return false, err
	}
	found := false
	sel.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		found = Visible(el)
		return !found
	})
	return found, nil
}

func (s *HTTP) field(selector string) (*goquery.Selection, string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return nil, "", err
	}
	el := sel.First()
	if el.Length() == 0 {
		return nil, "", fmt.Errorf("no element matches %q", selector)
	}
	name, ok := el.Attr("name")
	if !ok || name == "" {
		return nil, "", fmt.Errorf("element %q has no name", selector)
	}
	return el, name, nil
}

func (s *HTTP) Clear(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, name, err := s.field(selector)
	if err != nil {
		return err
	}
	s.values[name] = ""
	return ctx.Err()
}

func (s *HTTP) Type(ctx context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, name, err := s.field(selector)
	if err != nil {
		return err
	}
	current, ok := s.values[name]
	if !ok {
		current = el.AttrOr("value", "")
	}
	s.values[name] = current + text
	return ctx.Err()
}

func (s *HTTP) Submit(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, _, err := s.field(selector)
	if err != nil {
		return err
	}
	form := el.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("element %q is not inside a form", selector)
	}

	target := s.pageURL
	if action := strings.TrimSpace(form.AttrOr("action", "")); action != "" {
		ref, err := url.Parse(action)
		if err != nil {
			return fmt.Errorf("parse form action: %w", err)
		}
		target = s.pageURL.ResolveReference(ref)
	}

	fields := make(map[string]string)
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		fields[name] = in.AttrOr("value", "")
	})
	for name, value := range s.values {
		fields[name] = value
	}

	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	if method == http.MethodPost {
		return s.visitLocked(ctx, func() error { return s.collector.Post(target.String(), fields) })
	}

	submitURL := *target
	query := submitURL.Query()
	for name, value := range fields {
		query.Set(name, value)
	}
	submitURL.RawQuery = query.Encode()
	return s.visitLocked(ctx, func() error { return s.collector.Visit(submitURL.String()) })
}

func (s *HTTP) Settle(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (s *HTTP) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.body == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return string(s.body), nil
}

func (s *HTTP) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageURL == nil {
		return "", nil
	}
	return s.pageURL.String(), ctx.Err()
}

func (s *HTTP) Reset(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	s.collector.SetCookieJar(jar)
	return ctx.Err()
}

func (s *HTTP) Close() error {
	return nil
}
