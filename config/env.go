package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns a trimmed environment variable and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment variable.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses a Go duration environment variable such as "5s".
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses a boolean environment variable.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays environment variables on cfg.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("SPREADSHEET_ID"); ok {
		c.SpreadsheetID = v
	}

	stringVars := map[string]*string{
		"REPRICER_CREDENTIALS":   &c.CredentialsFile,
		"REPRICER_STORE":         &c.StoreBackend,
		"REPRICER_CSV_DIR":       &c.CSVDir,
		"REPRICER_MIRROR_DIR":    &c.MirrorDir,
		"REPRICER_SESSION":       &c.SessionBackend,
		"REPRICER_ESTIMATE_URL":  &c.EstimateURL,
		"REPRICER_TIME_ZONE":     &c.TimeZone,
		"REPRICER_LISTEN_ADDR":   &c.ListenAddr,
		"REPRICER_METRICS_ADDR":  &c.MetricsAddr,
		"REPRICER_LOG_FILE":      &c.LogFile,
		"REPRICER_CHROME_PATH":   &c.ChromePath,
		"REPRICER_CATALOG_SHEET": &c.CatalogSheet,
		"REPRICER_LEDGER_SHEET":  &c.LedgerSheet,
		"REPRICER_AUDIT_SHEET":   &c.AuditSheet,
	}
	for key, dst := range stringVars {
		if v, ok := EnvString(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REPRICER_MAX_BATCH":   &c.MaxBatchSize,
		"REPRICER_QUOTE_CACHE": &c.QuoteCacheSize,
	}
	for key, dst := range ints {
		v, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REPRICER_ITEM_TIMEOUT":  &c.ItemTimeout,
		"REPRICER_ITEM_INTERVAL": &c.ItemInterval,
		"REPRICER_RESULT_SETTLE": &c.ResultSettle,
	}
	for key, dst := range durations {
		v, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	if v, ok, err := EnvBool("REPRICER_HEADLESS"); err != nil {
		return err
	} else if ok {
		c.Headless = v
	}
	return nil
}
