package scraper

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/parser"
	"github.com/aluiziolira/book-repricer/session"
)

// Probe is one lookup strategy against a result page. It reports the
// extracted value and whether the strategy matched.
type Probe[T any] struct {
	Name  string
	Match func(doc *goquery.Document) (T, bool)
}

// Cascade tries probes in order and returns the first match.
func Cascade[T any](doc *goquery.Document, probes []Probe[T]) (T, string, bool) {
	for _, p := range probes {
		if value, ok := p.Match(doc); ok {
			return value, p.Name, true
		}
	}
	var zero T
	return zero, "", false
}

// NotFoundProbe matches a visible element under selector whose text
// contains one of phrases.
func NotFoundProbe(selector string, phrases []string) Probe[string] {
	return Probe[string]{
		Name: selector,
		Match: func(doc *goquery.Document) (string, bool) {
			var matched string
			doc.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				if !session.Visible(el) {
					return true
				}
				text := parser.NormalizeText(el.Text())
				if parser.ContainsAny(text, phrases) {
					matched = text
					return false
				}
				return true
			})
			return matched, matched != ""
		},
	}
}

// TitleProbe matches the first element under selector whose text has at
// least minLength characters.
func TitleProbe(selector string, minLength int) Probe[string] {
	return Probe[string]{
		Name: selector,
		Match: func(doc *goquery.Document) (string, bool) {
			var title string
			doc.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				text := parser.NormalizeText(el.Text())
				if text != "" && utf8.RuneCountInString(text) >= minLength {
					title = text
					return false
				}
				return true
			})
			return title, title != ""
		},
	}
}

// PriceProbe matches the first visible element under selector whose text
// carries a positive number.
func PriceProbe(selector string) Probe[int] {
	return Probe[int]{
		Name: selector,
		Match: func(doc *goquery.Document) (int, bool) {
			price := 0
			doc.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				if !session.Visible(el) {
					return true
				}
				if value, ok := parser.ExtractPrice(el.Text()); ok && value > 0 {
					price = value
					return false
				}
				return true
			})
			return price, price > 0
		},
	}
}

// Extraction is what a result page yielded.
type Extraction struct {
	NotFound     bool
	NotFoundText string
	Title        string
	TitleProbe   string
	Price        int
	PriceProbe   string
}

// Extractor reads title and price from estimate result pages.
type Extractor struct {
	notFound []Probe[string]
	title    []Probe[string]
	price    []Probe[int]
}

// NewExtractor builds the probe cascades from configured selectors.
func NewExtractor(sel config.Selectors) *Extractor {
	e := &Extractor{}
	for _, s := range sel.NotFound {
		e.notFound = append(e.notFound, NotFoundProbe(s, sel.NotFoundPhrases))
	}
	for _, s := range sel.Title {
		e.title = append(e.title, TitleProbe(s, sel.TitleMinLength))
	}
	for _, s := range sel.Price {
		e.price = append(e.price, PriceProbe(s))
	}
	return e
}

// Extract classifies a result page. A "no match" page short-circuits
// before the title and price cascades run.
func (e *Extractor) Extract(html string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse result page: %w", err)
	}

	if text, probe, ok := Cascade(doc, e.notFound); ok {
		slog.Debug("no-match message detected", slog.String("probe", probe), slog.String("text", text))
		return Extraction{NotFound: true, NotFoundText: text}, nil
	}

	var out Extraction
	if title, probe, ok := Cascade(doc, e.title); ok {
		out.Title = title
		out.TitleProbe = probe
	}
	if price, probe, ok := Cascade(doc, e.price); ok {
		out.Price = price
		out.PriceProbe = probe
	} else {
		slog.Warn("price element not found, defaulting to 0")
	}
	return out, nil
}
