// Package trigger is the single entry point of a repricing run: it checks
// configuration, acquires the quote session and the store for the run,
// and maps the result to a success or failure outcome.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/pipeline"
	"github.com/aluiziolira/book-repricer/scraper"
	"github.com/aluiziolira/book-repricer/session"
	"github.com/aluiziolira/book-repricer/store"
)

// SuccessMessage is reported when a run completes, even with item failures.
const SuccessMessage = "Success: Prices updated successfully"

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// ErrConfiguration is a pre-flight failure; nothing was touched.
type ErrConfiguration struct {
	Err error
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e ErrConfiguration) Unwrap() error {
	return e.Err
}

// ErrSessionSetup means the quote session could not be established.
type ErrSessionSetup struct {
	Err error
}

func (e ErrSessionSetup) Error() string {
	return fmt.Sprintf("session setup failed: %v", e.Err)
}

func (e ErrSessionSetup) Unwrap() error {
	return e.Err
}

// ErrStoreSetup means the tabular store could not be opened.
type ErrStoreSetup struct {
	Err error
}

func (e ErrStoreSetup) Error() string {
	return fmt.Sprintf("store setup failed: %v", e.Err)
}

func (e ErrStoreSetup) Unwrap() error {
	return e.Err
}

// SessionFactory opens the quote session for one run.
type SessionFactory func(ctx context.Context, cfg *config.Config) (session.Session, error)

// StoreFactory opens the store for one run.
type StoreFactory func(ctx context.Context, cfg *config.Config, loc *time.Location) (store.Store, error)

// Outcome is what the invoking infrastructure sees.
type Outcome struct {
	Status  int
	Message string
	Summary models.RunSummary
	Err     error
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool {
	return o.Status == http.StatusOK
}

// Trigger runs the pipeline on demand. At most one run is active at a time.
type Trigger struct {
	cfg        *config.Config
	newSession SessionFactory
	newStore   StoreFactory
	Metrics    *scraper.Metrics

	running sync.Mutex
}

// New returns a Trigger using the session and store backends named in cfg.
func New(cfg *config.Config, metrics *scraper.Metrics) *Trigger {
	return &Trigger{
		cfg:        cfg,
		newSession: NewSession,
		newStore:   NewStore,
		Metrics:    metrics,
	}
}

// WithFactories replaces the session and store constructors.
func (t *Trigger) WithFactories(newSession SessionFactory, newStore StoreFactory) *Trigger {
	if newSession != nil {
		t.newSession = newSession
	}
	if newStore != nil {
		t.newStore = newStore
	}
	return t
}

// Execute performs one run and maps its result to an Outcome. It returns
// ErrRunInProgress in the outcome, with status 409, when busy.
func (t *Trigger) Execute(ctx context.Context) Outcome {
	if !t.running.TryLock() {
		return Outcome{
			Status:  http.StatusConflict,
			Message: "Error: " + ErrRunInProgress.Error(),
			Err:     ErrRunInProgress,
		}
	}
	defer t.running.Unlock()

	summary, err := t.run(ctx)
	if err != nil {
		t.Metrics.IncRun("fatal")
		slog.Error("run aborted", slog.Any("error", err))
		return Outcome{
			Status:  http.StatusInternalServerError,
			Message: "Error: " + err.Error(),
			Summary: summary,
			Err:     err,
		}
	}
	return Outcome{Status: http.StatusOK, Message: SuccessMessage, Summary: summary}
}

func (t *Trigger) run(ctx context.Context) (models.RunSummary, error) {
	if err := t.cfg.Validate(); err != nil {
		return models.RunSummary{}, ErrConfiguration{Err: err}
	}
	loc, err := t.cfg.Location()
	if err != nil {
		return models.RunSummary{}, ErrConfiguration{Err: err}
	}

	st, err := t.newStore(ctx, t.cfg, loc)
	if err != nil {
		return models.RunSummary{}, ErrStoreSetup{Err: err}
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close failed", slog.Any("error", err))
		}
	}()

	sess, err := t.newSession(ctx, t.cfg)
	if err != nil {
		return models.RunSummary{}, ErrSessionSetup{Err: err}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Warn("session close failed", slog.Any("error", err))
		}
		slog.Debug("session released")
	}()

	fetcher, err := scraper.NewFetcher(sess, t.cfg, t.Metrics)
	if err != nil {
		return models.RunSummary{}, ErrSessionSetup{Err: err}
	}
	p, err := pipeline.NewPipeline(fetcher, st, t.cfg, t.Metrics)
	if err != nil {
		return models.RunSummary{}, err
	}
	return p.Run(ctx)
}

// NewSession opens the session backend named by cfg.SessionBackend.
func NewSession(ctx context.Context, cfg *config.Config) (session.Session, error) {
	switch cfg.SessionBackend {
	case config.SessionHTTP:
		s, err := session.NewHTTP(session.HTTPOptions{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.ItemTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SessionBrowser:
		b, err := session.NewBrowser(ctx, session.BrowserOptions{
			Headless:  cfg.Headless,
			UserAgent: cfg.UserAgent,
			Width:     cfg.WindowWidth,
			Height:    cfg.WindowHeight,
			ExecPath:  cfg.ChromePath,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// NewStore opens the store backend named by cfg.StoreBackend, wrapped in
// a CSV mirror when cfg.MirrorDir is set.
func NewStore(ctx context.Context, cfg *config.Config, loc *time.Location) (store.Store, error) {
	var st store.Store
	switch cfg.StoreBackend {
	case config.StoreSheets:
		names := store.SheetNames{Catalog: cfg.CatalogSheet, Ledger: cfg.LedgerSheet, Audit: cfg.AuditSheet}
		sheets, err := store.NewSheets(ctx, cfg.SpreadsheetID, cfg.CredentialsFile, names, loc)
		if err != nil {
			return nil, err
		}
		st = sheets
	case config.StoreCSV:
		csvStore, err := store.NewCSV(cfg.CSVDir, loc)
		if err != nil {
			return nil, err
		}
		st = csvStore
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.MirrorDir == "" {
		return st, nil
	}
	mirror, err := store.NewCSV(cfg.MirrorDir, loc)
	if err != nil {
		st.Close()
		return nil, err
	}
	return store.NewMirror(st, mirror), nil
}
