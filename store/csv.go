package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/book-repricer/models"
)

// CSV keeps the three tables as files in one directory: catalog.csv,
// ledger.csv and audit.csv. Each file starts with a header row, so data
// row N of the catalog has row index N+1, matching the spreadsheet.
type CSV struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

// NewCSV prepares dir and returns a CSV-backed store.
func NewCSV(dir string, loc *time.Location) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return &CSV{dir: dir, loc: loc}, nil
}

func (c *CSV) path(name string) string {
	return filepath.Join(c.dir, name)
}

// Rows reads catalog.csv below its header row.
func (c *CSV) Rows(ctx context.Context) ([]models.CatalogRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.readCatalog()
	if err != nil {
		return nil, err
	}
	rows := make([]models.CatalogRow, 0, len(records))
	for i, record := range records {
		if i == 0 {
			continue
		}
		rows = append(rows, rowFromCells(i+1, record))
	}
	return rows, ctx.Err()
}

func (c *CSV) readCatalog() ([][]string, error) {
	f, err := os.Open(c.path("catalog.csv"))
	if err != nil {
		return nil, fmt.Errorf("open catalog csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read catalog csv: %w", err)
	}
	return records, nil
}

// UpdateRow rewrites catalog.csv with the row's changed cells.
func (c *CSV) UpdateRow(ctx context.Context, rowIndex int, u models.RowUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	records, err := c.readCatalog()
	if err != nil {
		return err
	}
	if rowIndex < 2 || rowIndex > len(records) {
		return fmt.Errorf("catalog row %d out of range", rowIndex)
	}

	record := records[rowIndex-1]
	for len(record) < len(catalogHeader) {
		record = append(record, "")
	}
	cells := updateCells(u, c.loc)
	cols := make([]int, 0, len(cells))
	for col := range cells {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	for _, col := range cols {
		record[col-1] = fmt.Sprint(cells[col])
	}
	records[rowIndex-1] = record

	return c.rewrite("catalog.csv", records)
}

func (c *CSV) rewrite(name string, records [][]string) error {
	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), c.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// AppendLedger appends one row to ledger.csv.
func (c *CSV) AppendLedger(ctx context.Context, e models.LedgerEntry) error {
	return c.appendRow(ctx, "ledger.csv", ledgerHeader, stringify(ledgerValues(e, c.loc)))
}

// AppendSummary appends one row to audit.csv.
func (c *CSV) AppendSummary(ctx context.Context, s models.RunSummary) error {
	return c.appendRow(ctx, "audit.csv", auditHeader, stringify(summaryValues(s, c.loc)))
}

func (c *CSV) appendRow(ctx context.Context, name string, header, record []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	path := c.path(name)
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	writer := csv.NewWriter(f)
	if isNew {
		if err := writer.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write %s header: %w", name, err)
		}
	}
	if err := writer.Write(record); err != nil {
		f.Close()
		return fmt.Errorf("write %s record: %w", name, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return f.Close()
}

// InitCatalog creates catalog.csv with a header and the given ISBNs when
// it does not exist yet.
func (c *CSV) InitCatalog(isbns []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.path("catalog.csv")); err == nil {
		return nil
	}
	records := [][]string{catalogHeader}
	for _, isbn := range isbns {
		record := make([]string, len(catalogHeader))
		record[ColISBN-1] = isbn
		records = append(records, record)
	}
	return c.rewrite("catalog.csv", records)
}

// Close is a no-op; files are opened per operation.
func (c *CSV) Close() error {
	return nil
}
