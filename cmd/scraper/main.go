package main

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-orders/config"
	"github.com/aluiziolira/go-scrape-orders/scraper"
)

var version = "dev"

// app carries the configuration resolved before a subcommand runs.
type app struct {
	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !alreadyReported(err) {
			pterm.Error.Println(scraper.UserMessage(err))
		}
		os.Exit(1)
	}
}

func alreadyReported(err error) bool {
	var shown errReported
	return errors.As(err, &shown)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:     "orders",
		Short:   "Collect your order history from the shop's private order API",
		Version: version,
		Long: `orders pages through the order history of a logged-in shop session and
writes every order line to CSV and/or JSON.

The session is given as the Cookie header copied from a logged-in browser,
either with --cookie, --cookie-file or the ORDERS_COOKIE variable.`,
		Example: `  # Collect every order of 2023 into orders.csv
  orders fetch --cookie-file cookie.txt --year 2023 -o orders.csv

  # Let a real browser scroll the order page and keep what it loads
  orders watch --cookie-file cookie.txt -f dual

  # Show which request headers could be derived from the cookie
  orders headers --cookie-file cookie.txt`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadDotEnv()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			a.cfg = cfg
			return nil
		},
	}
	registerFlags(root)

	fetch := newFetchCmd(a)
	root.AddCommand(fetch, newWatchCmd(a), newHeadersCmd(a))
	// a bare invocation behaves like fetch
	root.RunE = fetch.RunE
	return root
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env", slog.Any("error", err))
	}
}

// serveMetrics exposes reg on addr and returns a shutdown func. An empty
// addr disables the endpoint.
func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	if addr == "" || metrics == nil {
		return func() {}
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelWarn)
	}

	// stdout belongs to the progress output
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
