package pipeline

import (
	"strings"
	"time"

	"github.com/aluiziolira/book-repricer/models"
	"github.com/aluiziolira/book-repricer/parser"
)

// SelectBatch returns, in catalog order, at most max rows that have an
// ISBN and were not updated on today's date. Rows with an empty ISBN are
// ignored entirely.
func SelectBatch(rows []models.CatalogRow, today time.Time, max int) []models.BatchEntry {
	if max <= 0 {
		return nil
	}

	batch := make([]models.BatchEntry, 0, max)
	for _, row := range rows {
		isbn := strings.TrimSpace(row.ISBN)
		if isbn == "" {
			continue
		}
		if parser.SameDay(row.UpdatedAt, today) {
			continue
		}
		batch = append(batch, models.BatchEntry{RowIndex: row.RowIndex, Row: row, ISBN: isbn})
		if len(batch) == max {
			break
		}
	}
	return batch
}
