// Package scraper walks the paginated order endpoint for a logged-in session
// and collects the raw pages.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-orders/config"
	"github.com/aluiziolira/go-scrape-orders/credentials"
	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/parser"
	"github.com/aluiziolira/go-scrape-orders/report"
)

// Hooks receive updates while a run is in progress. Both are optional.
type Hooks struct {
	OnProgress func(models.Progress)
	// OnLive receives a snapshot of the result after every appended page.
	OnLive func(*models.CollectionResult, report.Summary)
}

func (h Hooks) progress(p models.Progress) {
	if h.OnProgress != nil {
		h.OnProgress(p)
	}
}

func (h Hooks) live(result *models.CollectionResult) {
	if h.OnLive != nil {
		snapshot := result.Snapshot()
		h.OnLive(snapshot, report.Summarize(snapshot))
	}
}

// Scraper wraps the colly collector and retry logic for the order endpoint.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics

	// one request at a time through the shared collector
	runMu        sync.Mutex
	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	collector.WithTransport(transport)

	s := &Scraper{
		cfg:       cfg,
		collector: collector,
		Metrics:   NewMetrics(),
	}
	s.retry = newRetryManager(cfg, s.Metrics)
	return s, nil
}

// Collect pages through the order endpoint for sess until the data ends, the
// year filter walks past its year, or the page cap is reached.
//
// On failure the partial result collected so far is returned along with the
// error; pages from the failing iteration are never included.
func (s *Scraper) Collect(ctx context.Context, sess *Session, filter string, hooks Hooks) (*models.CollectionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.ValidateYearFilter(filter); err != nil {
		return nil, errors.Wrap(err, "collect")
	}
	release, err := sess.acquire()
	if err != nil {
		hooks.progress(models.Progress{Message: UserMessage(err), Severity: models.SeverityWarning})
		return nil, err
	}
	defer release()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.configureHandlers()

	result := models.NewCollectionResult(uuid.NewString(), models.MethodAuthenticatedFetch, filter)
	logger := slog.With(slog.String("run_id", result.RunID), slog.String("filter", filter))
	logger.Info("collection started", slog.Int("max_pages", s.cfg.MaxPages))

	headers := s.prepareHeaders(ctx, sess, hooks, logger)
	if err := s.collector.SetCookies(s.cfg.BaseURL, credentials.ParseCookies(sess.Cookie())); err != nil {
		logger.Warn("seed cookie jar", slog.Any("error", err))
	}

	offset := 0
	for page := 1; page <= s.cfg.MaxPages; page++ {
		// Delay is a full pause after each response, not a start-to-start rate
		if page > 1 && !s.retry.Wait(ctx, s.cfg.Delay) || ctx.Err() != nil {
			return s.fail(result, hooks, logger, ctx.Err(), offset)
		}

		body, err := s.fetchPage(ctx, headers, offset, logger)
		if err != nil {
			if cause := ctx.Err(); cause != nil {
				return s.fail(result, hooks, logger, cause, offset)
			}
			if errors.As(err, new(ErrAuthDenied)) {
				sess.Invalidate()
			}
			return s.fail(result, hooks, logger, terminalError(err, offset), offset)
		}

		raw, err := parser.DecodePage(body, offset)
		if err != nil {
			return s.fail(result, hooks, logger, terminalError(err, offset), offset)
		}

		orders := raw.Orders()
		if len(orders) == 0 {
			if result.PageCount() == 0 {
				return s.finish(result, hooks, logger, models.OutcomeNoData, models.Progress{
					Message:  NoDataMessage(filter),
					Severity: models.SeverityWarning,
					Page:     page,
					Offset:   offset,
				})
			}
			return s.finish(result, hooks, logger, models.OutcomeEndOfData, models.Progress{
				Message:  fmt.Sprintf("Reached the end of the order history after %d pages.", page-1),
				Severity: models.SeveritySuccess,
				Page:     page,
				Offset:   offset,
			})
		}

		matched := 0
		for _, order := range orders {
			if parser.MatchesYear(order, filter) {
				matched++
			}
		}

		if matched == 0 {
			if allOlder(orders, filter) {
				s.Metrics.IncPage("older")
				return s.finish(result, hooks, logger, models.OutcomeReachedOlderYear, models.Progress{
					Message:  fmt.Sprintf("Reached orders older than %s, stopping.", filter),
					Severity: models.SeveritySuccess,
					Page:     page,
					Offset:   offset,
				})
			}
			s.Metrics.IncPage("skipped")
			hooks.progress(models.Progress{
				Message:  fmt.Sprintf("Page %d: no orders from %s, skipping.", page, filter),
				Severity: models.SeverityInfo,
				Page:     page,
				Offset:   offset,
				Orders:   result.MatchedOrders,
				Pages:    result.PageCount(),
			})
			offset += s.cfg.PageSize
			continue
		}

		if err := result.Append(raw, matched); err != nil {
			logger.Warn("page not appended", slog.Int("offset", offset), slog.Any("error", err))
		} else {
			s.Metrics.IncPage("appended")
			s.Metrics.AddOrders(matched)
			hooks.progress(models.Progress{
				Message:  fmt.Sprintf("Page %d: %d of %d orders collected (%d total).", page, matched, len(orders), result.MatchedOrders),
				Severity: models.SeverityInfo,
				Page:     page,
				Offset:   offset,
				Orders:   result.MatchedOrders,
				Pages:    result.PageCount(),
			})
			hooks.live(result)
		}
		offset += s.cfg.PageSize
	}

	return s.finish(result, hooks, logger, models.OutcomePageCap, models.Progress{
		Message:  fmt.Sprintf("Stopped at the %d page limit.", s.cfg.MaxPages),
		Severity: models.SeverityWarning,
		Page:     s.cfg.MaxPages,
		Offset:   offset,
	})
}

func (s *Scraper) prepareHeaders(ctx context.Context, sess *Session, hooks Hooks, logger *slog.Logger) credentials.HeaderSet {
	extracted, cached := sess.Headers(ctx)
	if !cached {
		s.Metrics.IncHeaderExtraction(sess.Source(), extracted.Complete())
	}
	logger.Info("request headers ready",
		slog.Bool("cached", cached),
		slog.Bool("complete", extracted.Complete()),
		slog.Any("names", extracted.Names()),
	)
	if !extracted.Complete() {
		s.Metrics.IncError(errorTypeLabel(ErrHeaderExtractionIncomplete))
		hooks.progress(models.Progress{
			Message:  UserMessage(ErrHeaderExtractionIncomplete),
			Severity: models.SeverityWarning,
		})
	}
	return credentials.BaseHeaders(s.cfg.PurchaseURL(), s.cfg.UserAgent).With(extracted)
}

func (s *Scraper) finish(result *models.CollectionResult, hooks Hooks, logger *slog.Logger, outcome models.Outcome, last models.Progress) (*models.CollectionResult, error) {
	result.Finish(outcome)
	last.Orders = result.MatchedOrders
	last.Pages = result.PageCount()
	hooks.progress(last)
	logger.Info("collection finished",
		slog.String("outcome", string(outcome)),
		slog.Int("pages", result.PageCount()),
		slog.Int("orders", result.MatchedOrders),
		slog.Int("retries", s.retry.TotalRetries()),
		slog.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (s *Scraper) fail(result *models.CollectionResult, hooks Hooks, logger *slog.Logger, err error, offset int) (*models.CollectionResult, error) {
	outcome := models.OutcomeConnectivity
	switch {
	case errors.As(err, new(ErrAuthDenied)):
		outcome = models.OutcomeAuthDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !isTimeout(err):
		outcome = models.OutcomeCancelled
	}
	result.Finish(outcome)
	s.Metrics.IncError(errorTypeLabel(err))
	hooks.progress(models.Progress{
		Message:  UserMessage(err),
		Severity: models.SeverityError,
		Offset:   offset,
		Orders:   result.MatchedOrders,
		Pages:    result.PageCount(),
	})
	logger.Error("collection failed",
		slog.String("outcome", string(outcome)),
		slog.Int("offset", offset),
		slog.Int("pages", result.PageCount()),
		slog.Int("retries", s.retry.TotalRetries()),
		slog.Any("error", err),
	)
	return result, err
}

// allOlder reports whether every order resolves to a known year before filter.
func allOlder(orders []models.RawOrder, filter string) bool {
	if filter == config.AllYears || len(orders) == 0 {
		return false
	}
	for _, order := range orders {
		if !parser.OlderThan(order, filter) {
			return false
		}
	}
	return true
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
		})

		s.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put("status", r.StatusCode)
			r.Ctx.Put("body", r.Body)
			if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
			s.Metrics.IncRequest(r.StatusCode)
			if r.StatusCode >= http.StatusBadRequest {
				slog.Warn("non-success response",
					slog.Int("status", r.StatusCode),
					slog.String("url", r.Request.URL.String()),
				)
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			s.Metrics.IncRequest(0)
			u := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				u = r.Request.URL.String()
			}
			slog.Debug("request error", slog.String("url", u), slog.Any("error", err))
		})
	})
}

// fetchPage requests one window, retrying transient failures at the same
// offset with capped exponential backoff.
func (s *Scraper) fetchPage(ctx context.Context, headers credentials.HeaderSet, offset int, logger *slog.Logger) ([]byte, error) {
	target := s.cfg.OrderListURL(s.cfg.PageSize, offset)
	hdr := http.Header{}
	for name, value := range headers {
		hdr.Set(name, value)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, status, err := s.request(target, hdr)
		classified := classifyError(err, status)
		if classified == nil {
			return body, nil
		}
		if !transient(classified) || !s.retry.Allow(attempt) {
			return nil, classified
		}
		delay := s.retry.Backoff(attempt)
		logger.Warn("retrying order page",
			slog.Int("offset", offset),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("category", errorTypeLabel(classified)),
		)
		if !s.retry.Wait(ctx, delay) {
			return nil, ctx.Err()
		}
	}
}

func (s *Scraper) request(target string, hdr http.Header) ([]byte, int, error) {
	cctx := colly.NewContext()
	err := s.collector.Request(http.MethodGet, target, nil, cctx, hdr.Clone())
	status, _ := cctx.GetAny("status").(int)
	body, _ := cctx.GetAny("body").([]byte)
	if err != nil && status >= http.StatusMultipleChoices {
		// ParseHTTPErrorResponse delivers the status; the error is redundant.
		err = nil
	}
	return body, status, err
}

type retryManager struct {
	cfg     *config.Config
	metrics *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	return &retryManager{
		cfg:     cfg,
		metrics: metrics,
	}
}

// Allow reports whether another attempt may follow the given one and counts it.
func (rm *retryManager) Allow(attempt int) bool {
	if attempt > rm.cfg.MaxRetries {
		return false
	}
	rm.mu.Lock()
	rm.totalRetries++
	rm.mu.Unlock()
	rm.metrics.IncRetries()
	return true
}

func (rm *retryManager) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// Wait sleeps for d unless ctx ends first.
func (rm *retryManager) Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// TotalRetries returns the retries made since the scraper was built.
func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
