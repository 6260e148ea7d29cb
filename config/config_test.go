package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.SpreadsheetID = "sheet-123"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.MaxBatchSize = 0
			},
			wantErr: "max batch size",
		},
		{
			name: "empty estimate url",
			mutate: func(cfg *Config) {
				cfg.EstimateURL = ""
			},
			wantErr: "estimate URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.EstimateURL = "http://"
			},
			wantErr: "estimate URL",
		},
		{
			name: "negative settle",
			mutate: func(cfg *Config) {
				cfg.ResultSettle = -1 * time.Second
			},
			wantErr: "result settle",
		},
		{
			name: "zero item timeout",
			mutate: func(cfg *Config) {
				cfg.ItemTimeout = 0
			},
			wantErr: "item timeout",
		},
		{
			name: "unknown session backend",
			mutate: func(cfg *Config) {
				cfg.SessionBackend = "lynx"
			},
			wantErr: "session backend",
		},
		{
			name: "unknown time zone",
			mutate: func(cfg *Config) {
				cfg.TimeZone = "Mars/Olympus"
			},
			wantErr: "time zone",
		},
		{
			name: "no price selectors",
			mutate: func(cfg *Config) {
				cfg.Selectors.Price = nil
			},
			wantErr: "price selectors",
		},
		{
			name: "not-found selectors without phrases",
			mutate: func(cfg *Config) {
				cfg.Selectors.NotFoundPhrases = nil
			},
			wantErr: "phrase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateMissingSpreadsheetID(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingSpreadsheetID) {
		t.Fatalf("expected ErrMissingSpreadsheetID, got %v", err)
	}

	cfg.StoreBackend = StoreCSV
	if err := cfg.Validate(); err != nil {
		t.Fatalf("csv backend does not need a spreadsheet id, got %v", err)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repricer.yaml")
	body := `
spreadsheet_id: from-file
max_batch_size: 3
result_settle: 250ms
selectors:
  price:
    - ".kaitori-price"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.SpreadsheetID != "from-file" || cfg.MaxBatchSize != 3 {
		t.Fatalf("unexpected overlay: id=%q batch=%d", cfg.SpreadsheetID, cfg.MaxBatchSize)
	}
	if cfg.ResultSettle != 250*time.Millisecond {
		t.Fatalf("result settle = %v", cfg.ResultSettle)
	}
	if len(cfg.Selectors.Price) != 1 || cfg.Selectors.Price[0] != ".kaitori-price" {
		t.Fatalf("price selectors = %v", cfg.Selectors.Price)
	}
	if len(cfg.Selectors.Input) == 0 {
		t.Fatalf("input selectors should keep defaults")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SPREADSHEET_ID", " env-sheet ")
	t.Setenv("REPRICER_MAX_BATCH", "5")
	t.Setenv("REPRICER_ITEM_INTERVAL", "2s")
	t.Setenv("REPRICER_HEADLESS", "false")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.SpreadsheetID != "env-sheet" {
		t.Fatalf("spreadsheet id = %q", cfg.SpreadsheetID)
	}
	if cfg.MaxBatchSize != 5 || cfg.ItemInterval != 2*time.Second || cfg.Headless {
		t.Fatalf("unexpected env overlay: %+v", cfg)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("REPRICER_MAX_BATCH", "ten")
	if err := DefaultConfig().ApplyEnv(); err == nil || !strings.Contains(err.Error(), "REPRICER_MAX_BATCH") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SPREADSHEET_ID=dotenv\nREPRICER_TEST_ONLY=loaded\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SPREADSHEET_ID", "already-set")
	t.Setenv("REPRICER_TEST_ONLY", "")
	os.Unsetenv("REPRICER_TEST_ONLY")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("SPREADSHEET_ID"); got != "already-set" {
		t.Fatalf("existing variable overridden: %q", got)
	}
	if got := os.Getenv("REPRICER_TEST_ONLY"); got != "loaded" {
		t.Fatalf("dotenv variable not loaded: %q", got)
	}
}
