package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-orders/config"
	"github.com/aluiziolira/go-scrape-orders/intercept"
	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/parser"
	"github.com/aluiziolira/go-scrape-orders/pipeline"
)

const (
	scrollStep   = 0.7
	nudgeStep    = 0.25
	bottomEvery  = 10
	watchBuffer  = 64
	nudgeOnEvery = 2

	metricsInterval = 10 * time.Second
)

// ScrollSource is a live page whose order requests can be provoked by
// scrolling and observed as they complete.
type ScrollSource interface {
	ScrollBy(ctx context.Context, viewports float64) error
	ScrollToBottom(ctx context.Context) error
	Watch(buffer int) (<-chan intercept.Observation, func())
}

// Monitor collects pages by scrolling src the way a reader would and keeping
// every order response the page itself requests. Pages are deduplicated by
// offset and kept in arrival order.
func (s *Scraper) Monitor(ctx context.Context, sess *Session, src ScrollSource, hooks Hooks) (*models.CollectionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	release, err := sess.acquire()
	if err != nil {
		hooks.progress(models.Progress{Message: UserMessage(err), Severity: models.SeverityWarning})
		return nil, err
	}
	defer release()

	result := models.NewCollectionResult(uuid.NewString(), models.MethodNaturalScrolling, config.AllYears)
	acc, err := pipeline.NewAccumulator(result, s.cfg.DedupeMaxSize)
	if err != nil {
		return nil, err
	}
	logger := slog.With(slog.String("run_id", result.RunID), slog.String("method", result.Method))
	logger.Info("scroll collection started", slog.Int("max_attempts", s.cfg.MaxScrollAttempts))
	if s.cfg.Verbose {
		done := make(chan struct{})
		defer close(done)
		acc.StartMetricsReporting(metricsInterval, done)
	}

	observations, stop := src.Watch(watchBuffer)
	defer stop()

	drain := func() {
		for {
			select {
			case obs, ok := <-observations:
				if !ok {
					return
				}
				s.observe(acc, obs, hooks, logger)
			default:
				return
			}
		}
	}

	attempts, idle := 0, 0
	for attempts < s.cfg.MaxScrollAttempts && idle < s.cfg.MaxIdleScrolls {
		before := acc.Len()
		if err := src.ScrollBy(ctx, scrollStep); err != nil {
			logger.Debug("scroll failed", slog.Int("attempt", attempts+1), slog.Any("error", err))
		}
		if !s.pause(ctx, s.scrollWait()) {
			break
		}
		drain()

		if acc.Len() == before {
			idle++
			logger.Debug("no new pages", slog.Int("attempt", attempts+1), slog.Int("idle", idle))
			if idle%nudgeOnEvery == 0 {
				s.nudge(ctx, src, logger)
			}
		} else {
			idle = 0
		}

		attempts++
		if attempts%bottomEvery == 0 {
			if err := src.ScrollToBottom(ctx); err != nil {
				logger.Debug("scroll to bottom failed", slog.Any("error", err))
			}
			s.pause(ctx, s.cfg.BottomWait)
		}
		if ctx.Err() != nil {
			break
		}
	}
	drain()

	if err := ctx.Err(); err != nil {
		acc.Close(models.OutcomeCancelled)
		return s.fail(result, hooks, logger, err, 0)
	}

	outcome := models.OutcomeIdle
	last := models.Progress{
		Message:  fmt.Sprintf("No new orders after %d scrolls; collection finished.", idle),
		Severity: models.SeveritySuccess,
	}
	switch {
	case acc.Len() == 0:
		outcome = models.OutcomeNoData
		last = models.Progress{Message: NoDataMessage(config.AllYears), Severity: models.SeverityWarning}
	case idle < s.cfg.MaxIdleScrolls:
		outcome = models.OutcomePageCap
		last = models.Progress{
			Message:  fmt.Sprintf("Stopped after %d scroll attempts.", attempts),
			Severity: models.SeverityWarning,
		}
	}
	logger.Info("scroll collection metrics", slog.Any("accumulator", acc.GetMetrics()))
	acc.Close(outcome)
	return s.finish(result, hooks, logger, outcome, last)
}

func (s *Scraper) observe(acc *pipeline.Accumulator, obs intercept.Observation, hooks Hooks, logger *slog.Logger) {
	s.Metrics.IncRequest(obs.Status)
	if !obs.OK() {
		category := errorTypeLabel(classifyError(nil, obs.Status))
		s.Metrics.IncError(category)
		logger.Warn("page request failed", slog.Int("offset", obs.Offset), slog.Int("status", obs.Status))
		return
	}
	if acc.Seen(obs.Offset) {
		s.Metrics.IncPage("duplicate")
		return
	}
	page, err := parser.DecodePage(obs.Body, obs.Offset)
	if err != nil {
		s.Metrics.IncError("decode")
		logger.Warn("undecodable order page", slog.Int("offset", obs.Offset), slog.Any("error", err))
		return
	}
	orders := len(page.Orders())
	added, err := acc.Add(page, orders)
	if err != nil || !added {
		s.Metrics.IncPage("duplicate")
		return
	}
	s.Metrics.IncPage("appended")
	s.Metrics.AddOrders(orders)

	snapshot := acc.Snapshot()
	hooks.progress(models.Progress{
		Message:  fmt.Sprintf("Captured page at offset %d (%d orders, %d pages so far).", obs.Offset, orders, snapshot.PageCount()),
		Severity: models.SeverityInfo,
		Offset:   obs.Offset,
		Orders:   snapshot.MatchedOrders,
		Pages:    snapshot.PageCount(),
	})
	hooks.live(snapshot)
}

// nudge scrolls up a little and back down, which often re-triggers lazy loading.
func (s *Scraper) nudge(ctx context.Context, src ScrollSource, logger *slog.Logger) {
	if err := src.ScrollBy(ctx, -nudgeStep); err != nil {
		logger.Debug("nudge up failed", slog.Any("error", err))
	}
	if !s.pause(ctx, s.cfg.NudgeWait) {
		return
	}
	if err := src.ScrollBy(ctx, nudgeStep); err != nil {
		logger.Debug("nudge down failed", slog.Any("error", err))
	}
	s.pause(ctx, s.cfg.NudgeWait)
}

func (s *Scraper) scrollWait() time.Duration {
	wait := s.cfg.ScrollWait
	if s.cfg.ScrollJitter > 0 {
		wait += rand.N(s.cfg.ScrollJitter)
	}
	return wait
}

func (s *Scraper) pause(ctx context.Context, d time.Duration) bool {
	return s.retry.Wait(ctx, d)
}
