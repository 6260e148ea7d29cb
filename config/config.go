package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Session and store backends.
const (
	SessionBrowser = "browser"
	SessionHTTP    = "http"

	StoreSheets = "sheets"
	StoreCSV    = "csv"
)

// ErrMissingSpreadsheetID is returned when no target spreadsheet is configured.
var ErrMissingSpreadsheetID = errors.New("SPREADSHEET_ID environment variable not set")

// Selectors holds the ordered lookup strategies used against the estimate pages.
type Selectors struct {
	Input           []string `yaml:"input"`
	NotFound        []string `yaml:"not_found"`
	NotFoundPhrases []string `yaml:"not_found_phrases"`
	Title           []string `yaml:"title"`
	Price           []string `yaml:"price"`
	TitleMinLength  int      `yaml:"title_min_length"`
}

// Config holds repricer configuration.
type Config struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
	StoreBackend    string `yaml:"store_backend"`
	CSVDir          string `yaml:"csv_dir"`
	MirrorDir       string `yaml:"mirror_dir"`
	CatalogSheet    string `yaml:"catalog_sheet"`
	LedgerSheet     string `yaml:"ledger_sheet"`
	AuditSheet      string `yaml:"audit_sheet"`

	TimeZone     string `yaml:"time_zone"`
	MaxBatchSize int    `yaml:"max_batch_size"`

	SessionBackend string `yaml:"session_backend"`
	EstimateURL    string `yaml:"estimate_url"`
	Headless       bool   `yaml:"headless"`
	UserAgent      string `yaml:"user_agent"`
	WindowWidth    int    `yaml:"window_width"`
	WindowHeight   int    `yaml:"window_height"`
	ChromePath     string `yaml:"chrome_path"`

	PageLoadSettle    time.Duration `yaml:"page_load_settle"`
	InputProbeTimeout time.Duration `yaml:"input_probe_timeout"`
	ClearPause        time.Duration `yaml:"clear_pause"`
	KeystrokeInterval time.Duration `yaml:"keystroke_interval"`
	PreSubmitPause    time.Duration `yaml:"pre_submit_pause"`
	ResultSettle      time.Duration `yaml:"result_settle"`
	ItemTimeout       time.Duration `yaml:"item_timeout"`
	ItemInterval      time.Duration `yaml:"item_interval"`
	QuoteCacheSize    int           `yaml:"quote_cache_size"`

	Selectors Selectors `yaml:"selectors"`

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogFile     string `yaml:"log_file"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultSelectors returns the built-in cascades for the estimate site.
func DefaultSelectors() Selectors {
	return Selectors{
		Input: []string{
			"input[placeholder*='気になる本']",
			"input[placeholder*='検索']",
			"input[type='search']",
			"input[id^='input-']",
			".v-autocomplete input",
			".search-input input",
			"input[type='text']",
		},
		NotFound: []string{
			".v-card__text",
			"[class*='no-result']",
			"[class*='not-found']",
		},
		NotFoundPhrases: []string{
			"該当する商品は見つかりませんでした",
			"商品は見つかりませんでした",
			"該当する商品がありません",
		},
		Title: []string{
			"h1", "h2", "h3",
			".book-title", ".title",
			"[class*='title']", "[class*='book']",
			".v-card__title",
		},
		Price: []string{
			"span.buy-price",
			".buy-price",
			"[class*='buy-price']",
		},
		TitleMinLength: 4,
	}
}

// DefaultConfig returns conservative defaults for the estimate site.
func DefaultConfig() *Config {
	return &Config{
		CredentialsFile:   "credentials.json",
		StoreBackend:      StoreSheets,
		CSVDir:            "data",
		CatalogSheet:      "ISBNリスト",
		LedgerSheet:       "価格履歴",
		AuditSheet:        "エラーログ",
		TimeZone:          "Asia/Tokyo",
		MaxBatchSize:      10,
		SessionBackend:    SessionBrowser,
		EstimateURL:       "https://www.valuebooks.jp/estimate/guide",
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:       1280,
		WindowHeight:      720,
		PageLoadSettle:    3 * time.Second,
		InputProbeTimeout: 5 * time.Second,
		ClearPause:        500 * time.Millisecond,
		KeystrokeInterval: 100 * time.Millisecond,
		PreSubmitPause:    time.Second,
		ResultSettle:      5 * time.Second,
		ItemTimeout:       2 * time.Minute,
		ItemInterval:      0,
		QuoteCacheSize:    256,
		Selectors:         DefaultSelectors(),
		ListenAddr:        ":8080",
	}
}

// LoadFile overlays a YAML file on top of cfg. Missing keys keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Files that do not exist are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate ensures all configuration values are coherent.
// A missing spreadsheet ID is reported as ErrMissingSpreadsheetID.
func (c *Config) Validate() error {
	if c.StoreBackend != StoreSheets && c.StoreBackend != StoreCSV {
		return fmt.Errorf("store backend must be %s or %s", StoreSheets, StoreCSV)
	}
	if c.StoreBackend == StoreSheets {
		if c.SpreadsheetID == "" {
			return ErrMissingSpreadsheetID
		}
		if c.CredentialsFile == "" {
			return fmt.Errorf("credentials file cannot be empty")
		}
	}
	if c.StoreBackend == StoreCSV && c.CSVDir == "" {
		return fmt.Errorf("csv dir cannot be empty")
	}
	if c.CatalogSheet == "" || c.LedgerSheet == "" || c.AuditSheet == "" {
		return fmt.Errorf("sheet names cannot be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}

	if c.SessionBackend != SessionBrowser && c.SessionBackend != SessionHTTP {
		return fmt.Errorf("session backend must be %s or %s", SessionBrowser, SessionHTTP)
	}
	if c.EstimateURL == "" {
		return fmt.Errorf("estimate URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.EstimateURL)
	if err != nil {
		return fmt.Errorf("invalid estimate URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("estimate URL must include a host")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return fmt.Errorf("window size must be positive")
	}

	for name, d := range map[string]time.Duration{
		"page load settle":   c.PageLoadSettle,
		"clear pause":        c.ClearPause,
		"keystroke interval": c.KeystrokeInterval,
		"pre-submit pause":   c.PreSubmitPause,
		"result settle":      c.ResultSettle,
		"item interval":      c.ItemInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if c.InputProbeTimeout <= 0 {
		return fmt.Errorf("input probe timeout must be positive")
	}
	if c.ItemTimeout <= 0 {
		return fmt.Errorf("item timeout must be positive")
	}
	if c.QuoteCacheSize < 0 {
		return fmt.Errorf("quote cache size cannot be negative")
	}

	s := c.Selectors
	if len(s.Input) == 0 {
		return fmt.Errorf("input selectors cannot be empty")
	}
	if len(s.Price) == 0 {
		return fmt.Errorf("price selectors cannot be empty")
	}
	if len(s.NotFound) > 0 && len(s.NotFoundPhrases) == 0 {
		return fmt.Errorf("not-found selectors need at least one phrase")
	}
	if s.TitleMinLength < 0 {
		return fmt.Errorf("title min length cannot be negative")
	}

	return nil
}
