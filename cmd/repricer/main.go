// Package main is the entry point for the repricer CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/book-repricer/config"
	"github.com/aluiziolira/book-repricer/scraper"
	"github.com/aluiziolira/book-repricer/store"
	"github.com/aluiziolira/book-repricer/trigger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	configFile string
	envFile    string
	verbose    bool
	logFile    string
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "repricer",
		Short:         "Refresh buy-back estimates for the ISBN catalog",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this rotating file")
	flags.String("store", "", "Store backend: sheets or csv")
	flags.String("session", "", "Session backend: browser or http")
	flags.String("spreadsheet-id", "", "Target spreadsheet ID")
	flags.String("credentials", "", "Service account key file")
	flags.String("csv-dir", "", "Directory of the csv store")
	flags.String("mirror-dir", "", "Mirror ledger and audit rows into csv files here")
	flags.Int("max-batch", 0, "Maximum rows processed per run")
	flags.Bool("headless", true, "Run Chrome headless")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	root.AddCommand(runCmd(opts), serveCmd(opts), initCmd(opts))
	return root
}

func runCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one repricing pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics := scraper.NewMetrics()
			shutdownMetrics := startMetricsServer(cfg.MetricsAddr, metrics)
			defer shutdownMetrics()

			outcome := trigger.New(cfg, metrics).Execute(ctx)
			printSummary(cmd.OutOrStdout(), outcome)
			if !outcome.OK() {
				return outcome.Err
			}
			return nil
		},
	}
}

func serveCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run trigger over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			if listen, _ := cmd.Flags().GetString("listen"); cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics := scraper.NewMetrics()
			server := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           trigger.NewMux(trigger.New(cfg, metrics)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("trigger server listening", slog.String("addr", cfg.ListenAddr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("trigger server: %w", err)
				}
				return nil
			case <-ctx.Done():
				slog.Info("shutdown signal received, waiting for the active run to finish")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ItemTimeout*time.Duration(cfg.MaxBatchSize+1))
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("trigger server shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Listen address for the trigger endpoint (default from config)")
	return cmd
}

func initCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init [isbn...]",
		Short: "Create the csv catalog with the given ISBNs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.StoreBackend != config.StoreCSV {
				return fmt.Errorf("init only applies to the %s store", config.StoreCSV)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			st, err := store.NewCSV(cfg.CSVDir, loc)
			if err != nil {
				return err
			}
			if err := st.InitCatalog(args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog ready in %s (%d ISBNs)\n", cfg.CSVDir, len(args))
			return nil
		},
	}
}

// setup layers configuration (defaults, YAML, .env, environment, flags)
// and installs the default logger. The returned func closes the log file.
func setup(cmd *cobra.Command, opts *options) (*config.Config, func(), error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, func() {}, err
	}

	logger, level, closeLog := newLogger(cfg.Verbose, cfg.LogFile)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	slog.Debug("configuration loaded",
		slog.String("store", cfg.StoreBackend),
		slog.String("session", cfg.SessionBackend),
		slog.Int("max_batch", cfg.MaxBatchSize),
	)
	return cfg, closeLog, nil
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		if err := cfg.LoadFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"store":          &cfg.StoreBackend,
		"session":        &cfg.SessionBackend,
		"spreadsheet-id": &cfg.SpreadsheetID,
		"credentials":    &cfg.CredentialsFile,
		"csv-dir":        &cfg.CSVDir,
		"mirror-dir":     &cfg.MirrorDir,
		"metrics-addr":   &cfg.MetricsAddr,
		"log-file":       &cfg.LogFile,
	}
	for name, target := range stringFlags {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	if flags.Changed("max-batch") {
		cfg.MaxBatchSize, _ = flags.GetInt("max-batch")
	}
	if flags.Changed("headless") {
		cfg.Headless, _ = flags.GetBool("headless")
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) func() {
	if addr == "" || metrics == nil {
		return func() {}
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, outcome trigger.Outcome) {
	separator := "--------------------------------------------------"
	s := outcome.Summary
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, outcome.Message)
	if s.RunID != "" {
		fmt.Fprintf(w, "  Run ID:        %s\n", s.RunID)
	}
	fmt.Fprintf(w, "  Processed:     %d\n", s.TotalCount)
	fmt.Fprintf(w, "  Succeeded:     %d\n", s.SuccessCount)
	fmt.Fprintf(w, "  Failed:        %d\n", s.FailureCount)
	fmt.Fprintf(w, "  Success rate:  %s\n", store.FormatSuccessRate(s))
	fmt.Fprintf(w, "  Failed ISBNs:  %s\n", store.FormatFailedISBNs(s.FailedISBNs))
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar, func()) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	closeLog := func() {}

	var handler slog.Handler
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		closeLog = func() { rotator.Close() }
		handler = slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotator), opts)
	} else if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level, closeLog
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
