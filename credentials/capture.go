package credentials

import (
	"context"
	"log/slog"
	"time"
)

// LivePage is a live page that can observe its own order requests.
//
// Arm installs request observation for URLs containing pattern. The returned
// channel is closed when the first matching request completes successfully;
// release removes the observation and must be called exactly once.
type LivePage interface {
	Arm(pattern string) (matched <-chan struct{}, release func(), err error)
	ScrollBy(ctx context.Context, viewports float64) error
	ScrollToBottom(ctx context.Context) error
	Snapshot(ctx context.Context) (cookie string, scripts []string, err error)
}

// CaptureSource waits for the page to issue a real order request after
// synthetic scrolling and reads the headers from page state at that moment.
// When nothing matches within Timeout, Fallback runs instead.
type CaptureSource struct {
	LivePage   LivePage
	Pattern    string
	Fallback   Source
	Timeout    time.Duration
	Scrolls    int
	ScrollWait time.Duration
	MaxScripts int
}

// Name implements Source.
func (CaptureSource) Name() string { return "capture" }

// Extract implements Source.
func (s CaptureSource) Extract(ctx context.Context, into HeaderSet) {
	if s.LivePage == nil {
		s.fallback(ctx, into, "no live page")
		return
	}
	if s.capture(ctx, into) {
		return
	}
	s.fallback(ctx, into, "no order request observed")
}

func (s CaptureSource) capture(ctx context.Context, into HeaderSet) bool {
	matched, release, err := s.LivePage.Arm(s.Pattern)
	if err != nil {
		slog.Warn("arm request capture", slog.Any("error", err))
		return false
	}
	defer release()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	driven := make(chan struct{})
	go func() {
		defer close(driven)
		s.drive(captureCtx)
	}()
	defer func() {
		cancel()
		<-driven
	}()

	select {
	case <-matched:
	case <-captureCtx.Done():
		slog.Info("header capture timed out", slog.Duration("timeout", timeout))
		return false
	}

	cookie, scripts, err := s.LivePage.Snapshot(ctx)
	if err != nil {
		slog.Warn("snapshot page state", slog.Any("error", err))
		return false
	}
	before := len(into)
	CookieSource{Cookie: cookie}.Extract(ctx, into)
	ScanScripts(into, scripts, s.MaxScripts)
	slog.Info("captured headers from live request", slog.Int("added", len(into)-before))
	return len(into) > before || into.HasPrimary()
}

// drive scrolls the page to provoke an order request. It stops early once
// ctx is done, which happens on match, timeout or caller cancellation.
func (s CaptureSource) drive(ctx context.Context) {
	for i := 0; i < s.Scrolls; i++ {
		if err := s.LivePage.ScrollBy(ctx, float64(i+1)); err != nil {
			slog.Debug("capture scroll failed", slog.Int("attempt", i+1), slog.Any("error", err))
		}
		if !sleep(ctx, s.ScrollWait) {
			return
		}
	}
	if err := s.LivePage.ScrollToBottom(ctx); err != nil {
		slog.Debug("capture scroll to bottom failed", slog.Any("error", err))
	}
}

func (s CaptureSource) fallback(ctx context.Context, into HeaderSet, reason string) {
	if s.Fallback == nil {
		return
	}
	slog.Info("falling back to static header extraction",
		slog.String("reason", reason),
		slog.String("source", s.Fallback.Name()),
	)
	s.Fallback.Extract(ctx, into)
}

func sleep(ctx context.Context, d time.Duration) bool {
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
