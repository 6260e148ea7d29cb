package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/session"
	"golang.org/x/time/rate"
)

// Step names the stage of one query cycle.
type Step string

const (
	StepNavigate     Step = "navigate_to_form"
	StepLocateInput  Step = "locate_input_field"
	StepClearAndType Step = "clear_and_type"
	StepSubmit       Step = "submit"
	StepAwaitResult  Step = "await_result_page"
	StepClassify     Step = "classify"
)

// ErrInputNotFound is wrapped when no input strategy matched.
var ErrInputNotFound = errors.New("input form not found with any selector")

// Timing holds the bounded waits of a query cycle.
type Timing struct {
	PageLoadSettle    time.Duration
	InputProbeTimeout time.Duration
	ClearPause        time.Duration
	KeystrokeInterval time.Duration
	PreSubmitPause    time.Duration
	ResultSettle      time.Duration
}

// Fetcher drives one estimate query per ISBN over a shared session.
type Fetcher struct {
	session     session.Session
	extractor   *Extractor
	estimateURL string
	inputs      []string
	timing      Timing
	loc         *time.Location
	now         func() time.Time
	Metrics     *Metrics
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(s session.Session, cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		session:     s,
		extractor:   NewExtractor(cfg.Selectors),
		estimateURL: cfg.EstimateURL,
		inputs:      cfg.Selectors.Input,
		timing: Timing{
			PageLoadSettle:    cfg.PageLoadSettle,
			InputProbeTimeout: cfg.InputProbeTimeout,
			ClearPause:        cfg.ClearPause,
			KeystrokeInterval: cfg.KeystrokeInterval,
			PreSubmitPause:    cfg.PreSubmitPause,
			ResultSettle:      cfg.ResultSettle,
		},
		loc:     loc,
		now:     time.Now,
		Metrics: metrics,
	}, nil
}

// Fetch runs one full query cycle. NotFound and pages without a price
// yield a zero-priced quote; only session failures and timeouts are errors,
// as ErrTimeout or ErrSession.
func (f *Fetcher) Fetch(ctx context.Context, isbn string) (models.Quote, error) {
	start := time.Now()
	logger := slog.With(slog.String("isbn", isbn))

	quote, step, err := f.fetch(ctx, logger, isbn)
	f.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		err = classifyError(fmt.Errorf("%s: %w", step, err))
		f.Metrics.IncFetch("error")
		logger.Error("estimate query failed",
			slog.String("step", string(step)),
			slog.String("category", ErrorLabel(err)),
			slog.Any("error", err),
		)
		return models.Quote{}, err
	}

	f.Metrics.IncFetch(quote.Status.String())
	logger.Info("estimate retrieved",
		slog.String("status", quote.Status.String()),
		slog.String("title", quote.Title),
		slog.Int("price", quote.Price),
		slog.Duration("elapsed", time.Since(start)),
	)
	return quote, nil
}

func (f *Fetcher) fetch(ctx context.Context, logger *slog.Logger, isbn string) (models.Quote, Step, error) {
	logger.Debug("query step", slog.String("step", string(StepNavigate)), slog.String("url", f.estimateURL))
	if err := f.session.Navigate(ctx, f.estimateURL); err != nil {
		return models.Quote{}, StepNavigate, err
	}
	if err := f.session.Settle(ctx, f.timing.PageLoadSettle); err != nil {
		return models.Quote{}, StepNavigate, err
	}

	input, err := f.locateInput(ctx, logger)
	if err != nil {
		return models.Quote{}, StepLocateInput, err
	}

	if err := f.clearAndType(ctx, input, isbn); err != nil {
		return models.Quote{}, StepClearAndType, err
	}

	if err := f.session.Settle(ctx, f.timing.PreSubmitPause); err != nil {
		return models.Quote{}, StepSubmit, err
	}
	if err := f.session.Submit(ctx, input); err != nil {
		return models.Quote{}, StepSubmit, err
	}

	if err := f.session.Settle(ctx, f.timing.ResultSettle); err != nil {
		return models.Quote{}, StepAwaitResult, err
	}
	if current, err := f.session.CurrentURL(ctx); err == nil {
		logger.Debug("result page loaded", slog.String("url", current))
	}

	html, err := f.session.HTML(ctx)
	if err != nil {
		return models.Quote{}, StepClassify, err
	}
	return f.classify(isbn, html), StepClassify, nil
}

func (f *Fetcher) locateInput(ctx context.Context, logger *slog.Logger) (string, error) {
	for idx, selector := range f.inputs {
		ok, err := f.session.WaitVisible(ctx, selector, f.timing.InputProbeTimeout)
		if err != nil {
			return "", err
		}
		if ok {
			logger.Debug("input form found", slog.String("selector", selector), slog.Int("strategy", idx+1))
			return selector, nil
		}
		logger.Debug("input selector missed", slog.String("selector", selector), slog.Int("strategy", idx+1))
	}
	return "", ErrSession{Err: ErrInputNotFound}
}

func (f *Fetcher) clearAndType(ctx context.Context, input, isbn string) error {
	if err := f.session.Clear(ctx, input); err != nil {
		return err
	}
	if err := f.session.Settle(ctx, f.timing.ClearPause); err != nil {
		return err
	}

	limit := rate.Inf
	if f.timing.KeystrokeInterval > 0 {
		limit = rate.Every(f.timing.KeystrokeInterval)
	}
	pacer := rate.NewLimiter(limit, 1)
	for _, ch := range isbn {
		if err := pacer.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The limiter refuses waits that would overrun the deadline.
			return ErrTimeout{Err: err}
		}
		if err := f.session.Type(ctx, input, string(ch)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) classify(isbn, html string) models.Quote {
	quote := models.Quote{
		ISBN:       isbn,
		ObservedAt: f.now().In(f.loc),
	}

	result, err := f.extractor.Extract(html)
	if err != nil {
		slog.Warn("result page unreadable", slog.String("isbn", isbn), slog.Any("error", err))
		quote.Status = models.QuoteDegraded
		quote.Title = titlePlaceholder(isbn)
		return quote
	}

	if result.NotFound {
		quote.Status = models.QuoteNotFound
		quote.Title = fmt.Sprintf("No match (ISBN: %s)", isbn)
		return quote
	}

	quote.Title = result.Title
	if quote.Title == "" {
		quote.Title = titlePlaceholder(isbn)
	}
	quote.Price = result.Price
	quote.Status = models.QuotePriced
	if quote.Price == 0 {
		quote.Status = models.QuoteDegraded
	}
	return quote
}

func titlePlaceholder(isbn string) string {
	return fmt.Sprintf("Title not found (ISBN: %s)", isbn)
}

// Reset clears cookies and storage so a long batch does not accumulate state.
func (f *Fetcher) Reset(ctx context.Context) error {
	return f.session.Reset(ctx)
}
