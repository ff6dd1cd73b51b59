package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-orders/browser"
	"github.com/aluiziolira/go-scrape-orders/config"
	"github.com/aluiziolira/go-scrape-orders/credentials"
	"github.com/aluiziolira/go-scrape-orders/intercept"
	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/pipeline"
	"github.com/aluiziolira/go-scrape-orders/report"
	"github.com/aluiziolira/go-scrape-orders/scraper"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Page through the order API with the session's credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runFetch(cmd.Context())
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Scroll the order page in a browser and keep every page it loads",
		Long: `watch opens the order history page in Chromium with the session cookie,
scrolls it the way a reader would and keeps every order response the page
requests. It always collects all years.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd.Context())
		},
	}
}

func newHeadersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "headers",
		Short: "Show the request headers derived from the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHeaders(cmd.Context())
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current page")
	}()
	return ctx, stop
}

func (a *app) runFetch(parent context.Context) error {
	cfg := a.cfg
	ctx, stop := signalContext(parent)
	defer stop()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return errors.Wrap(err, "initialise scraper")
	}
	defer serveMetrics(cfg.MetricsAddr, s.Metrics)()

	source, cleanup, err := a.credentialSource(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return errors.Wrap(err, "create writer")
	}
	defer closeWriter(writer)

	pterm.DefaultHeader.WithFullWidth().Printf("Order history: %s", yearLabel(cfg.YearFilter))
	sess := scraper.NewSession(cfg.Cookie, source, cfg.HeaderTTL)
	sink := newProgressSink(writer)
	result, runErr := s.Collect(ctx, sess, cfg.YearFilter, scraper.Hooks{
		OnProgress: sink.Progress,
		OnLive:     sink.Live,
	})
	return finishRun(writer, result, runErr, cfg.OutputFile)
}

func (a *app) runWatch(parent context.Context) error {
	cfg := a.cfg
	ctx, stop := signalContext(parent)
	defer stop()

	if cfg.YearFilter != config.AllYears {
		pterm.Warning.Printf("watch collects every year; ignoring --year %s\n", cfg.YearFilter)
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return errors.Wrap(err, "initialise scraper")
	}
	defer serveMetrics(cfg.MetricsAddr, s.Metrics)()

	spinner, _ := pterm.DefaultSpinner.Start("Opening the order page...")
	b, page, err := a.openPage(ctx)
	if err != nil {
		if spinner != nil {
			spinner.Fail(err.Error())
		}
		return err
	}
	defer closeBrowser(b)
	defer page.Close()
	if spinner != nil {
		spinner.Success("Order page loaded")
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return errors.Wrap(err, "create writer")
	}
	defer closeWriter(writer)

	sess := scraper.NewSession(cfg.Cookie, nil, cfg.HeaderTTL)
	sink := newProgressSink(writer)
	result, runErr := s.Monitor(ctx, sess, page, scraper.Hooks{
		OnProgress: sink.Progress,
		OnLive:     sink.Live,
	})
	return finishRun(writer, result, runErr, cfg.OutputFile)
}

func (a *app) runHeaders(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	source, cleanup, err := a.credentialSource(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	extracted := credentials.Extract(ctx, source)
	printHeaders(source.Name(), extracted)
	if !extracted.Complete() {
		return errors.WithHint(scraper.ErrHeaderExtractionIncomplete,
			"Copy the Cookie header again from a logged-in order history page.")
	}
	return nil
}

// credentialSource builds the header strategy selected in the config. The
// capture strategy launches a browser that cleanup shuts down.
func (a *app) credentialSource(ctx context.Context) (credentials.Source, func(), error) {
	cfg := a.cfg
	static := credentials.Static(cfg.Cookie, credentials.PageLoader{
		URL:       cfg.PurchaseURL(),
		Cookie:    cfg.Cookie,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	}, cfg.MaxScripts)
	if cfg.CredentialStrategy != config.StrategyCapture {
		return static, func() {}, nil
	}

	b, page, err := a.openPage(ctx)
	if err != nil {
		slog.Warn("browser unavailable, using static extraction", slog.Any("error", err))
		return static, func() {}, nil
	}
	source := credentials.CaptureSource{
		LivePage:   page,
		Pattern:    cfg.OrderListPath,
		Fallback:   static,
		Timeout:    cfg.CaptureTimeout,
		Scrolls:    cfg.CaptureScrolls,
		ScrollWait: cfg.CaptureScrollWait,
		MaxScripts: cfg.MaxScripts,
	}
	return source, func() {
		page.Close()
		closeBrowser(b)
	}, nil
}

// openPage launches a browser and opens the order history page with order
// requests routed through an interceptor.
func (a *app) openPage(ctx context.Context) (*browser.Browser, *browser.Page, error) {
	cfg := a.cfg
	b, err := browser.Launch(browser.Config{
		Headless:  cfg.Headless,
		ProxyURL:  cfg.ProxyURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	page, err := b.Open(ctx, cfg.PurchaseURL(), cfg.Cookie, intercept.New(nil, cfg.OrderListPath))
	if err != nil {
		closeBrowser(b)
		return nil, nil, err
	}
	return b, page, nil
}

// finishRun writes the final result, validates the output and prints the
// summary. A run error is returned after whatever was collected is saved.
func finishRun(writer pipeline.OutputWriter, result *models.CollectionResult, runErr error, outputFile string) error {
	if result == nil {
		return runErr
	}
	if result.PageCount() > 0 {
		if err := writer.Write(result); err != nil {
			return errors.CombineErrors(runErr, errors.Wrap(err, "write output"))
		}
		if err := writer.Validate(); err != nil {
			return errors.CombineErrors(runErr, errors.Wrap(err, "output validation failed"))
		}
	}
	printSummary(result, report.Summarize(result), outputFile)
	if runErr != nil {
		// the progress sink has already shown it
		return errReported{runErr}
	}
	return nil
}

// errReported marks an error the user has already seen.
type errReported struct {
	error
}

func (e errReported) Unwrap() error {
	return e.error
}

func closeWriter(writer pipeline.OutputWriter) {
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
	}
}

func closeBrowser(b *browser.Browser) {
	if err := b.Close(); err != nil {
		slog.Debug("close browser", slog.Any("error", err))
	}
}

func yearLabel(filter string) string {
	if filter == config.AllYears {
		return "all years"
	}
	return filter
}
