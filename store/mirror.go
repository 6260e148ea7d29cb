package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/book-repricer/models"
)

// Mirror copies ledger and audit appends from a primary store into a
// local CSV directory. The primary decides the outcome; mirror failures
// are only logged. Catalog reads and updates go to the primary alone.
type Mirror struct {
	primary Store
	mirror  *CSV
	mu      sync.Mutex
}

// NewMirror wraps primary so its history is also kept in mirror.
func NewMirror(primary Store, mirror *CSV) *Mirror {
	return &Mirror{primary: primary, mirror: mirror}
}

// Rows reads the primary catalog.
func (m *Mirror) Rows(ctx context.Context) ([]models.CatalogRow, error) {
	return m.primary.Rows(ctx)
}

// UpdateRow writes to the primary catalog.
func (m *Mirror) UpdateRow(ctx context.Context, rowIndex int, u models.RowUpdate) error {
	return m.primary.UpdateRow(ctx, rowIndex, u)
}

// AppendLedger appends to the primary, then to the mirror.
func (m *Mirror) AppendLedger(ctx context.Context, e models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.primary.AppendLedger(ctx, e); err != nil {
		return err
	}
	if err := m.mirror.AppendLedger(ctx, e); err != nil {
		slog.Warn("ledger mirror write failed", slog.String("isbn", e.ISBN), slog.Any("error", err))
	}
	return nil
}

// AppendSummary appends to the primary, then to the mirror.
func (m *Mirror) AppendSummary(ctx context.Context, s models.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.primary.AppendSummary(ctx, s); err != nil {
		return err
	}
	if err := m.mirror.AppendSummary(ctx, s); err != nil {
		slog.Warn("audit mirror write failed", slog.Any("error", err))
	}
	return nil
}

// Close closes both stores.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close failed: %w", err))
	}
	if err := m.mirror.Close(); err != nil {
		errs = append(errs, fmt.Errorf("mirror close failed: %w", err))
	}
	return errors.Join(errs...)
}
