package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/observability"
	"github.com/IshaanNene/marketgrab/internal/probe"
	"github.com/IshaanNene/marketgrab/internal/types"
	"github.com/IshaanNene/marketgrab/pkg/marketgrab"
)

var (
	cfgFile     string
	verbose     bool
	refDate     string
	outputPath  string
	outputType  string
	baseURL     string
	remoteURL   string
	static      bool
	stealth     bool
	maxAttempts int
	backoff     string
	skipOnFail  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marketgrab",
		Short: "Daily market price report extractor",
		Long: `marketgrab loads the daily market price report page, finds the price
table, and writes the Low, High, Last and Weight Avg columns of every row.

The report for the previous calendar day is requested by default. Blocked
pages and unreachable hosts fail fast; slow or half-rendered pages are
retried with a constant backoff.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(urlCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// fetchCmd creates the "fetch" subcommand.
func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Extract the price report and store it",
		Args:  cobra.NoArgs,
		RunE:  runFetch,
	}

	addSourceFlags(cmd)
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")
	cmd.Flags().StringVarP(&outputType, "format", "f", "", "storage: csv, json, jsonl, sqlite, mongodb (comma-separated for several)")
	cmd.Flags().StringVar(&remoteURL, "remote", "", "DevTools URL of a running browser")
	cmd.Flags().BoolVar(&static, "static", false, "fetch with plain HTTP instead of a browser")
	cmd.Flags().BoolVar(&stealth, "stealth", false, "open the browser page with stealth patches")
	cmd.Flags().IntVar(&maxAttempts, "attempts", 0, "maximum extraction attempts (0 = config)")
	cmd.Flags().StringVar(&backoff, "backoff", "", "wait between attempts, e.g. 2s (empty = config)")
	cmd.Flags().BoolVar(&skipOnFail, "skip-on-fail", false, "exit 0 with a warning when the source is blocked, unreachable or empty")

	return cmd
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&refDate, "date", "", "reference date YYYY-MM-DD; the report is for the day before (default today)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "report page URL without the date parameter")
}

// runFetch executes the fetch command.
func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := observability.NewLogger(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	ref, err := referenceTime()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(ctx)
		}()
	}

	g, err := marketgrab.New(
		marketgrab.WithConfig(cfg),
		marketgrab.WithLogger(logger),
		marketgrab.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting fetch",
		"url", g.URL(ref),
		"browser", cfg.Browser.Enabled,
		"storage", cfg.Storage.Type,
		"output", cfg.Storage.OutputPath,
	)

	report, err := g.Run(ctx, ref)
	if err != nil {
		if skipOnFail && types.Skippable(err) {
			logger.Warn("report skipped", "error", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: report skipped: %v\n", err)
			return nil
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Report %s: %d records in %s\n", report.ReportDate, len(report.Records), report.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "   Attempts:  %d\n", report.Attempts)
	fmt.Fprintf(out, "   Selector:  %s\n", report.Selector)
	fmt.Fprintf(out, "   Storage:   %s (%s)\n", report.Storage, cfg.Storage.OutputPath)
	return nil
}

// urlCmd prints the report URL without fetching it.
func urlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the report URL for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ref, err := referenceTime()
			if err != nil {
				return err
			}
			g, err := marketgrab.New(marketgrab.WithConfig(cfg), marketgrab.WithLogger(observability.Discard()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.URL(ref))
			return nil
		},
	}
	addSourceFlags(cmd)
	return cmd
}

// probeCmd checks DNS and HTTP reachability of the report host.
func probeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Check that the report host resolves and answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := observability.NewLogger(cfg.Logging, verbose)
			if err != nil {
				return err
			}
			defer closeLog.Close()

			target := cfg.Source.BaseURL
			if len(args) == 1 {
				if err := config.ValidateURL(args[0]); err != nil {
					return fmt.Errorf("invalid URL %q: %w", args[0], err)
				}
				target = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rep, err := probe.New(cfg, logger).Check(ctx, target)
			if asJSON && rep != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(rep)
			} else if rep != nil {
				printProbe(cmd.OutOrStdout(), rep)
			}
			if err != nil {
				return err
			}
			if rep.Blocked {
				return fmt.Errorf("%w: source answered with a blocked page", types.ErrAccessDenied)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the probe report as JSON")
	return cmd
}

func printProbe(w io.Writer, rep *probe.Report) {
	fmt.Fprintf(w, "Host:      %s\n", rep.Host)
	fmt.Fprintf(w, "Addresses: %s (%s)\n", strings.Join(rep.Addresses, ", "), rep.DNSDuration.Round(time.Millisecond))
	if rep.StatusCode > 0 {
		fmt.Fprintf(w, "Status:    %d (%s, %d bytes)\n", rep.StatusCode, rep.Latency.Round(time.Millisecond), rep.Size)
	}
	if rep.Blocked {
		fmt.Fprintf(w, "Blocked:   yes %s\n", rep.Marker)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marketgrab %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Source:\n")
			fmt.Fprintf(w, "  Base URL:          %s\n", cfg.Source.BaseURL)
			fmt.Fprintf(w, "  Date Param:        %s (day offset %d)\n", cfg.Source.DateParam, cfg.Source.DayOffset)
			fmt.Fprintf(w, "  Params:            %v\n", cfg.Source.Params)
			fmt.Fprintf(w, "\nExtract:\n")
			fmt.Fprintf(w, "  Columns:           low=%d high=%d last=%d weight_avg=%d\n",
				cfg.Extract.Columns.Low, cfg.Extract.Columns.High, cfg.Extract.Columns.Last, cfg.Extract.Columns.WeightAvg)
			fmt.Fprintf(w, "  Selectors:         %d candidates\n", len(cfg.Extract.Selectors))
			fmt.Fprintf(w, "  Max Attempts:      %d\n", cfg.Extract.MaxAttempts)
			fmt.Fprintf(w, "  Retry Backoff:     %s\n", cfg.Extract.RetryBackoff)
			fmt.Fprintf(w, "  Ready Timeout:     %s\n", cfg.Extract.ReadyTimeout)
			fmt.Fprintf(w, "  Nav Timeout:       %s\n", cfg.Extract.NavigationTimeout)
			fmt.Fprintf(w, "\nBrowser:\n")
			fmt.Fprintf(w, "  Enabled:           %v\n", cfg.Browser.Enabled)
			fmt.Fprintf(w, "  Remote URL:        %s\n", cfg.Browser.RemoteURL)
			fmt.Fprintf(w, "  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Fprintf(w, "  Stealth:           %v\n", cfg.Browser.Stealth)
			fmt.Fprintf(w, "\nStorage:\n")
			fmt.Fprintf(w, "  Type:              %s\n", cfg.Storage.Type)
			fmt.Fprintf(w, "  Output Path:       %s\n", cfg.Storage.OutputPath)
			fmt.Fprintf(w, "\nMetrics:\n")
			fmt.Fprintf(w, "  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Fprintf(w, "  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyCLIOverrides(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) error {
	if baseURL != "" {
		cfg.Source.BaseURL = baseURL
	}
	if outputPath != "" {
		cfg.Storage.OutputPath = outputPath
	}
	if outputType != "" {
		cfg.Storage.Type = strings.ToLower(outputType)
	}
	if remoteURL != "" {
		cfg.Browser.Enabled = true
		cfg.Browser.RemoteURL = remoteURL
	}
	if static {
		cfg.Browser.Enabled = false
	}
	if stealth {
		cfg.Browser.Stealth = true
	}
	if maxAttempts > 0 {
		cfg.Extract.MaxAttempts = maxAttempts
	}
	if backoff != "" {
		d, err := time.ParseDuration(backoff)
		if err != nil {
			return fmt.Errorf("invalid --backoff: %w", err)
		}
		cfg.Extract.RetryBackoff = d
	}
	return nil
}

// referenceTime parses --date, defaulting to now.
func referenceTime() (time.Time, error) {
	if refDate == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", refDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", refDate)
	}
	return t, nil
}

// exitCode maps a fetch failure to a process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, types.ErrCancelled):
		return 130
	default:
		return 1
	}
}
