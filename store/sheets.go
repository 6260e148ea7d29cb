package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/book-repricer/models"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetNames names the worksheets of the spreadsheet.
type SheetNames struct {
	Catalog string
	Ledger  string
	Audit   string
}

// Sheets stores everything in one Google spreadsheet.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	names         SheetNames
	loc           *time.Location
}

// NewSheets builds a spreadsheet-backed store. Without extra options the
// service account key at credentialsFile is used.
func NewSheets(ctx context.Context, spreadsheetID, credentialsFile string, names SheetNames, loc *time.Location, opts ...option.ClientOption) (*Sheets, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id cannot be empty")
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sheets{svc: svc, spreadsheetID: spreadsheetID, names: names, loc: loc}, nil
}

// Rows reads the catalog below its header row.
func (s *Sheets) Rows(ctx context.Context) ([]models.CatalogRow, error) {
	readRange := fmt.Sprintf("%s!A1:%s", quoteSheet(s.names.Catalog), columnLetter(ColChecked))
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, readRange).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	rows := make([]models.CatalogRow, 0, len(resp.Values))
	for i, values := range resp.Values {
		if i == 0 {
			continue
		}
		cells := make([]string, len(values))
		for j, v := range values {
			cells[j] = fmt.Sprint(v)
		}
		rows = append(rows, rowFromCells(i+1, cells))
	}
	slog.Debug("catalog read", slog.String("sheet", s.names.Catalog), slog.Int("rows", len(rows)))
	return rows, nil
}

// UpdateRow writes the changed cells of one row in a single request.
func (s *Sheets) UpdateRow(ctx context.Context, rowIndex int, u models.RowUpdate) error {
	cells := updateCells(u, s.loc)
	cols := make([]int, 0, len(cells))
	for col := range cells {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	data := make([]*sheets.ValueRange, 0, len(cols))
	for _, col := range cols {
		data = append(data, &sheets.ValueRange{
			Range:  a1(s.names.Catalog, col, rowIndex),
			Values: [][]interface{}{{cells[col]}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update catalog row %d: %w", rowIndex, err)
	}
	return nil
}

// AppendLedger appends one price-history row.
func (s *Sheets) AppendLedger(ctx context.Context, e models.LedgerEntry) error {
	return s.appendRow(ctx, s.names.Ledger, ledgerValues(e, s.loc))
}

// AppendSummary appends one audit row.
func (s *Sheets) AppendSummary(ctx context.Context, summary models.RunSummary) error {
	return s.appendRow(ctx, s.names.Audit, summaryValues(summary, s.loc))
}

func (s *Sheets) appendRow(ctx context.Context, sheet string, row []interface{}) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, quoteSheet(sheet)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

// Close releases nothing; the HTTP client is shared.
func (s *Sheets) Close() error {
	return nil
}
