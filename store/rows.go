// Package store reads and writes the catalog, price history and audit
// tables, either in a Google spreadsheet or in local CSV files.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/parser"
)

// Catalog columns, 1-based as in the sheet.
const (
	ColISBN = iota + 1
	ColTitle
	ColAuthor
	ColFirstEstimate
	ColLatestEstimate
	ColUpdatedAt
	ColDelta
	ColChecked
)

// NoFailuresMarker is written in the audit log when every item succeeded.
const NoFailuresMarker = "None"

var (
	catalogHeader = []string{"ISBN", "書籍名", "著者", "初回見積価格", "最新見積価格", "価格更新日時", "価格増減", "チェック"}
	ledgerHeader  = []string{"ISBN", "書籍名", "取得日時", "買取価格", "価格増減"}
	auditHeader   = []string{"実行日時", "処理件数", "成功件数", "失敗件数", "成功率", "失敗ISBN"}
)

// rowFromCells maps raw cell text to a catalog row.
func rowFromCells(rowIndex int, cells []string) models.CatalogRow {
	cell := func(col int) string {
		if col-1 < len(cells) {
			return strings.TrimSpace(cells[col-1])
		}
		return ""
	}
	return models.CatalogRow{
		RowIndex:       rowIndex,
		ISBN:           cell(ColISBN),
		Title:          cell(ColTitle),
		Author:         cell(ColAuthor),
		FirstEstimate:  cell(ColFirstEstimate),
		LatestEstimate: cell(ColLatestEstimate),
		UpdatedAt:      cell(ColUpdatedAt),
		Delta:          cell(ColDelta),
		Checked:        cell(ColChecked),
	}
}

// updateCells lists the column/value pairs a RowUpdate rewrites.
func updateCells(u models.RowUpdate, loc *time.Location) map[int]interface{} {
	cells := map[int]interface{}{
		ColLatestEstimate: u.LatestEstimate,
		ColUpdatedAt:      parser.FormatTimestamp(u.UpdatedAt, loc),
	}
	if u.Title != nil {
		cells[ColTitle] = *u.Title
	}
	if u.FirstEstimate != nil {
		cells[ColFirstEstimate] = *u.FirstEstimate
	}
	if u.Delta != nil {
		cells[ColDelta] = *u.Delta
	}
	return cells
}

func ledgerValues(e models.LedgerEntry, loc *time.Location) []interface{} {
	return []interface{}{
		e.ISBN,
		e.Title,
		parser.FormatTimestamp(e.ObservedAt, loc),
		e.Price,
		e.Delta,
	}
}

// FormatFailedISBNs joins failed ISBNs or returns NoFailuresMarker.
func FormatFailedISBNs(isbns []string) string {
	if len(isbns) == 0 {
		return NoFailuresMarker
	}
	return strings.Join(isbns, ", ")
}

// FormatSuccessRate renders a percentage with one decimal, e.g. "66.7%".
func FormatSuccessRate(s models.RunSummary) string {
	return fmt.Sprintf("%.1f%%", s.SuccessRate())
}

func summaryValues(s models.RunSummary, loc *time.Location) []interface{} {
	return []interface{}{
		parser.FormatTimestamp(s.ExecutedAt, loc),
		s.TotalCount,
		s.SuccessCount,
		s.FailureCount,
		FormatSuccessRate(s),
		FormatFailedISBNs(s.FailedISBNs),
	}
}

func stringify(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// columnLetter converts a 1-based column index to its A1 letter.
func columnLetter(col int) string {
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}

// a1 builds a quoted A1 reference such as 'ISBNリスト'!E7.
func a1(sheet string, col, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(sheet), columnLetter(col), row)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
