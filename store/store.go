package store

import (
	"context"

	"github.com/aluiziolira/book-repricer/models"
)

// Catalog is the ISBN list the pipeline reads once and rewrites per row.
type Catalog interface {
	Rows(ctx context.Context) ([]models.CatalogRow, error)
	UpdateRow(ctx context.Context, rowIndex int, u models.RowUpdate) error
}

// Ledger is the append-only price history.
type Ledger interface {
	AppendLedger(ctx context.Context, e models.LedgerEntry) error
}

// AuditLog receives one summary per run.
type AuditLog interface {
	AppendSummary(ctx context.Context, s models.RunSummary) error
}

// Store bundles the three tables of one backend.
type Store interface {
	Catalog
	Ledger
	AuditLog
	Close() error
}

var (
	_ Store = (*Sheets)(nil)
	_ Store = (*CSV)(nil)
	_ Store = (*Mirror)(nil)
)
