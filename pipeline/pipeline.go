// Package pipeline selects catalog rows, quotes them one by one and
// records prices, history and a run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/parser"
	"github.com/aluiziolira/book-repricer/scraper"
	"github.com/aluiziolira/book-repricer/store"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// QuoteFetcher runs one estimate query per ISBN.
type QuoteFetcher interface {
	Fetch(ctx context.Context, isbn string) (models.Quote, error)
	Reset(ctx context.Context) error
}

// ItemResult is the outcome of one batch entry. Err is nil on success.
type ItemResult struct {
	Entry          models.BatchEntry
	Quote          models.Quote
	LedgerAppended bool
	Cached         bool
	Err            error
}

// OK reports whether the item counts as a success.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// Pipeline runs one repricing pass over the catalog.
type Pipeline struct {
	fetcher QuoteFetcher
	catalog store.Catalog
	ledger  store.Ledger
	audit   store.AuditLog

	maxBatch     int
	itemTimeout  time.Duration
	itemInterval time.Duration
	cacheSize    int
	loc          *time.Location
	now          func() time.Time

	Metrics *scraper.Metrics
}

// NewPipeline wires a fetcher to a store using the batch and pacing
// settings from cfg.
func NewPipeline(fetcher QuoteFetcher, st store.Store, cfg *config.Config, metrics *scraper.Metrics) (*Pipeline, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		fetcher:      fetcher,
		catalog:      st,
		ledger:       st,
		audit:        st,
		maxBatch:     cfg.MaxBatchSize,
		itemTimeout:  cfg.ItemTimeout,
		itemInterval: cfg.ItemInterval,
		cacheSize:    cfg.QuoteCacheSize,
		loc:          loc,
		now:          time.Now,
		Metrics:      metrics,
	}, nil
}

// Run reads the catalog, processes the selected batch sequentially and
// appends a summary. Only a catalog read failure is returned as an error;
// per-item failures end up in the summary. An empty batch writes nothing.
func (p *Pipeline) Run(ctx context.Context) (models.RunSummary, error) {
	runID := uuid.NewString()
	logger := slog.With(slog.String("run_id", runID))
	started := p.now().In(p.loc)

	rows, err := p.catalog.Rows(ctx)
	if err != nil {
		p.Metrics.IncRun("failed")
		return models.RunSummary{}, fmt.Errorf("read catalog: %w", err)
	}

	batch := SelectBatch(rows, started, p.maxBatch)
	summary := models.RunSummary{RunID: runID, ExecutedAt: started}
	if len(batch) == 0 {
		logger.Info("no rows need an update today", slog.Int("catalog_rows", len(rows)))
		p.Metrics.IncRun("empty")
		return summary, nil
	}
	logger.Info("batch selected", slog.Int("catalog_rows", len(rows)), slog.Int("batch", len(batch)))

	var cache *lru.Cache[string, models.Quote]
	if p.cacheSize > 0 {
		cache, err = lru.New[string, models.Quote](p.cacheSize)
		if err != nil {
			return models.RunSummary{}, fmt.Errorf("create quote cache: %w", err)
		}
	}

	var limiter *rate.Limiter
	if p.itemInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.itemInterval), 1)
	}

	for i, entry := range batch {
		itemLogger := logger.With(slog.String("isbn", entry.ISBN), slog.Int("row", entry.RowIndex))
		itemLogger.Info("processing item", slog.Int("position", i+1), slog.Int("of", len(batch)))

		var result ItemResult
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				result = ItemResult{Entry: entry, Err: scraper.ErrTimeout{Err: err}}
			}
		}
		if result.Err == nil {
			result = p.ProcessItem(ctx, itemLogger, entry, cache)
		}

		summary.TotalCount++
		if result.OK() {
			summary.SuccessCount++
			p.Metrics.IncItem("success")
			continue
		}
		summary.FailureCount++
		summary.FailedISBNs = append(summary.FailedISBNs, entry.ISBN)
		p.Metrics.IncItem("failure")
		p.Metrics.IncError(errorTypeLabel(result.Err))
		itemLogger.Error("item failed, continuing",
			slog.String("category", errorTypeLabel(result.Err)),
			slog.Any("error", result.Err),
		)
	}

	logger.Info("run completed",
		slog.Int("total", summary.TotalCount),
		slog.Int("success", summary.SuccessCount),
		slog.Int("failure", summary.FailureCount),
		slog.String("success_rate", store.FormatSuccessRate(summary)),
		slog.String("failed_isbns", store.FormatFailedISBNs(summary.FailedISBNs)),
	)

	p.WriteSummary(context.WithoutCancel(ctx), logger, summary)
	p.Metrics.IncRun("completed")
	p.Metrics.SetSuccessRate(summary.SuccessRate())
	return summary, nil
}

// ProcessItem quotes one entry and writes the result back. It never
// panics and never returns a failure other than through ItemResult.Err.
// cache may be nil.
func (p *Pipeline) ProcessItem(ctx context.Context, logger *slog.Logger, entry models.BatchEntry, cache *lru.Cache[string, models.Quote]) (result ItemResult) {
	result.Entry = entry
	defer func() {
		if r := recover(); r != nil {
			result.Err = ErrItemPanic{Value: r}
		}
	}()

	quote, cached, err := p.quote(ctx, logger, entry.ISBN, cache)
	if err != nil {
		result.Err = err
		return result
	}
	result.Quote = quote
	result.Cached = cached
	if err := parser.ValidateQuote(&quote); err != nil {
		result.Err = ErrInvalidQuote{ISBN: entry.ISBN, Err: err}
		return result
	}
	if cached {
		logger.Info("reusing quote from this run", slog.Int("price", quote.Price))
	}

	previous, hasPrevious := parser.ParseEstimate(entry.Row.LatestEstimate)
	if !hasPrevious && strings.TrimSpace(entry.Row.LatestEstimate) != "" {
		logger.Warn("latest estimate is not a number, treating as absent",
			slog.String("cell", entry.Row.LatestEstimate))
	}

	update := BuildRowUpdate(entry.Row, quote, previous, hasPrevious)
	if err := p.catalog.UpdateRow(ctx, entry.RowIndex, update); err != nil {
		result.Err = ErrSheetWrite{Row: entry.RowIndex, Err: err}
		return result
	}
	if hasPrevious {
		logger.Info("price updated",
			slog.Int("previous", previous),
			slog.Int("price", quote.Price),
			slog.String("delta", parser.FormatDelta(quote.Price-previous)),
		)
	} else {
		logger.Info("first price recorded", slog.Int("price", quote.Price))
	}

	appended, err := p.RecordHistory(ctx, quote, previous, hasPrevious)
	if err != nil {
		p.Metrics.IncError(errorTypeLabel(err))
		logger.Error("price history not recorded", slog.Any("error", err))
	}
	result.LedgerAppended = appended
	return result
}

func (p *Pipeline) quote(ctx context.Context, logger *slog.Logger, isbn string, cache *lru.Cache[string, models.Quote]) (models.Quote, bool, error) {
	if cache != nil {
		if q, ok := cache.Get(isbn); ok {
			return q, true, nil
		}
	}

	itemCtx := ctx
	if p.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, p.itemTimeout)
		defer cancel()
	}

	defer func() {
		if err := p.fetcher.Reset(ctx); err != nil {
			logger.Warn("session cleanup failed", slog.Any("error", err))
		}
	}()

	q, err := p.fetcher.Fetch(itemCtx, isbn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			var timeout scraper.ErrTimeout
			if !errors.As(err, &timeout) {
				err = scraper.ErrTimeout{Err: err}
			}
		}
		return models.Quote{}, false, err
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = p.now()
	}
	if cache != nil && parser.ValidateQuote(&q) == nil {
		cache.Add(isbn, q)
	}
	return q, false, nil
}

// BuildRowUpdate computes the catalog cells for a new quote. The title
// and first estimate are only filled when empty; the delta is only set
// when a previous price exists.
func BuildRowUpdate(row models.CatalogRow, q models.Quote, previous int, hasPrevious bool) models.RowUpdate {
	update := models.RowUpdate{
		LatestEstimate: q.Price,
		UpdatedAt:      q.ObservedAt,
	}
	if strings.TrimSpace(row.Title) == "" && q.Title != "" {
		title := q.Title
		update.Title = &title
	}
	if strings.TrimSpace(row.FirstEstimate) == "" {
		first := q.Price
		update.FirstEstimate = &first
	}
	if hasPrevious {
		delta := q.Price - previous
		update.Delta = &delta
	}
	return update
}

// RecordHistory appends a ledger entry for a first-ever quote (delta 0)
// or for a changed price. It reports whether an entry was appended.
func (p *Pipeline) RecordHistory(ctx context.Context, q models.Quote, previous int, hasPrevious bool) (bool, error) {
	delta := 0
	if hasPrevious {
		delta = q.Price - previous
		if delta == 0 {
			return false, nil
		}
	}

	entry := models.LedgerEntry{
		ISBN:       q.ISBN,
		Title:      q.Title,
		ObservedAt: q.ObservedAt,
		Price:      q.Price,
		Delta:      delta,
	}
	if err := p.ledger.AppendLedger(ctx, entry); err != nil {
		return false, ErrHistoryWrite{ISBN: q.ISBN, Err: err}
	}
	p.Metrics.IncLedger()
	return true, nil
}

// WriteSummary appends the run summary. A failure is logged and dropped
// so it cannot change the outcome of the run.
func (p *Pipeline) WriteSummary(ctx context.Context, logger *slog.Logger, summary models.RunSummary) {
	if err := p.audit.AppendSummary(ctx, summary); err != nil {
		p.Metrics.IncError("summary_write")
		logger.Error("run summary not recorded", slog.Any("error", err))
		return
	}
	logger.Debug("run summary recorded")
}
