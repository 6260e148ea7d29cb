// Package models defines the data structures shared by the repricer.
package models

import "time"

// CatalogRow is one ISBN row of the catalog sheet.
//
// Estimate and timestamp columns are kept as the raw cell text; the
// parser package turns them into numbers and dates when needed.
type CatalogRow struct {
	RowIndex       int    `csv:"-" json:"row_index"`
	ISBN           string `csv:"isbn" json:"isbn"`
	Title          string `csv:"title" json:"title"`
	Author         string `csv:"author" json:"author"`
	FirstEstimate  string `csv:"first_estimate" json:"first_estimate"`
	LatestEstimate string `csv:"latest_estimate" json:"latest_estimate"`
	UpdatedAt      string `csv:"updated_at" json:"updated_at"`
	Delta          string `csv:"delta" json:"delta"`
	Checked        string `csv:"checked" json:"checked"`
}

// QuoteStatus says how a quote was obtained.
type QuoteStatus int

const (
	// QuotePriced means the result page carried a usable price.
	QuotePriced QuoteStatus = iota
	// QuoteNotFound means the estimate service reported no matching product.
	QuoteNotFound
	// QuoteDegraded means the page loaded but no positive price was found.
	QuoteDegraded
)

func (s QuoteStatus) String() string {
	switch s {
	case QuotePriced:
		return "priced"
	case QuoteNotFound:
		return "not_found"
	case QuoteDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Quote is one buy-back estimate for an ISBN.
type Quote struct {
	ISBN       string      `json:"isbn"`
	Title      string      `json:"title"`
	Price      int         `json:"price"`
	ObservedAt time.Time   `json:"observed_at"`
	Status     QuoteStatus `json:"status"`
}

// BatchEntry is one row selected for processing in a run.
type BatchEntry struct {
	RowIndex int
	Row      CatalogRow
	ISBN     string
}

// RowUpdate lists the catalog cells to rewrite for one row. Nil fields are left untouched.
type RowUpdate struct {
	Title          *string
	FirstEstimate  *int
	LatestEstimate int
	UpdatedAt      time.Time
	Delta          *int
}

// LedgerEntry is one price-history line.
type LedgerEntry struct {
	ISBN       string    `csv:"isbn" json:"isbn"`
	Title      string    `csv:"title" json:"title"`
	ObservedAt time.Time `csv:"observed_at" json:"observed_at"`
	Price      int       `csv:"price" json:"price"`
	Delta      int       `csv:"delta" json:"delta"`
}

// RunSummary holds the audit line written once per run.
type RunSummary struct {
	RunID        string
	ExecutedAt   time.Time
	TotalCount   int
	SuccessCount int
	FailureCount int
	FailedISBNs  []string
}

// SuccessRate returns the success percentage, 0 for an empty run.
func (s RunSummary) SuccessRate() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCount) * 100
}
