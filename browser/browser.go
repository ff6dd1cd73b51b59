// Package browser drives a real Chromium page with go-rod so order requests
// can be provoked by scrolling and observed on their way back.
package browser

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/aluiziolira/go-scrape-orders/credentials"
	"github.com/aluiziolira/go-scrape-orders/intercept"
)

// Config controls the launched browser.
type Config struct {
	Headless  bool
	ProxyURL  string
	UserAgent string
	Timeout   time.Duration
}

// Browser wraps a launched rod.Browser instance.
type Browser struct {
	cfg      Config
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// Launch starts a browser process and connects to it.
func Launch(cfg Config) (*Browser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.Wrap(err, "launch browser")
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, errors.Wrap(err, "connect to browser")
	}

	slog.Debug("browser launched", slog.Bool("headless", cfg.Headless), slog.Bool("proxy", cfg.ProxyURL != ""))
	return &Browser{cfg: cfg, browser: b, launcher: l}, nil
}

// Open creates a page carrying the session cookies, routes order-endpoint
// requests through it, and navigates to target.
func (b *Browser) Open(ctx context.Context, target, cookie string, it *intercept.Interceptor) (*Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.Wrap(err, "create page")
	}
	p := &Page{
		page:        page,
		interceptor: it,
		target:      target,
		cookie:      cookie,
		timeout:     b.cfg.Timeout,
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}

	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			slog.Debug("set user agent", slog.Any("error", err))
		}
	}
	_, _ = page.EvalOnNewDocument(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`)

	if params := cookieParams(cookie, target); len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "seed session cookies")
		}
	}

	if it != nil {
		if err := p.hijack(); err != nil {
			p.Close()
			return nil, err
		}
	}

	if err := page.Context(ctx).Timeout(p.timeout).Navigate(target); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "navigate to %s", target)
	}
	if err := page.Context(ctx).Timeout(p.timeout).WaitLoad(); err != nil {
		slog.Warn("page did not finish loading", slog.String("url", target), slog.Any("error", err))
	}
	return p, nil
}

// Close shuts the browser down and kills the process.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

// Page is one navigated tab. It satisfies credentials.LivePage and the scroll
// source used by the interception collector.
type Page struct {
	page        *rod.Page
	router      *rod.HijackRouter
	interceptor *intercept.Interceptor
	target      string
	cookie      string
	timeout     time.Duration
}

func (p *Page) hijack() error {
	client := &http.Client{Transport: p.interceptor, Timeout: p.timeout}
	router := p.page.HijackRequests()
	pattern := "*" + p.interceptor.Match() + "*"
	err := router.Add(pattern, "", func(h *rod.Hijack) {
		req := h.Request.Req()
		if req.Header.Get("Cookie") == "" && p.cookie != "" {
			req.Header.Set("Cookie", p.cookie)
		}
		if err := h.LoadResponse(client, true); err != nil {
			slog.Warn("hijacked order request failed", slog.String("url", req.URL.String()), slog.Any("error", err))
			h.Response.Fail(proto.NetworkErrorReasonFailed)
		}
	})
	if err != nil {
		return errors.Wrap(err, "route order endpoint")
	}
	go router.Run()
	p.router = router
	return nil
}

// Arm implements credentials.LivePage.
func (p *Page) Arm(pattern string) (<-chan struct{}, func(), error) {
	if p.interceptor == nil {
		return nil, nil, errors.New("page has no interceptor")
	}
	matched, release := armWatcher(p.interceptor, pattern)
	return matched, release, nil
}

// armWatcher closes matched on the first successful observation whose path
// contains pattern. release stops watching and waits for the reader to exit.
func armWatcher(it *intercept.Interceptor, pattern string) (<-chan struct{}, func()) {
	observations, stop := it.Watch(16)
	matched := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		fired := false
		for obs := range observations {
			if fired || !obs.OK() || !strings.Contains(obs.URL.Path, pattern) {
				continue
			}
			fired = true
			close(matched)
		}
	}()
	return matched, func() {
		stop()
		<-done
	}
}

// Watch exposes the interceptor's observations for the page.
func (p *Page) Watch(buffer int) (<-chan intercept.Observation, func()) {
	return p.interceptor.Watch(buffer)
}

// ScrollBy scrolls by a fraction of the viewport height; negative scrolls up.
func (p *Page) ScrollBy(ctx context.Context, viewports float64) error {
	_, err := p.page.Context(ctx).Timeout(5*time.Second).Eval(
		`(v) => window.scrollBy(0, Math.round(window.innerHeight * v))`, viewports)
	return errors.Wrap(err, "scroll page")
}

// ScrollToBottom jumps to the end of the document.
func (p *Page) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Timeout(5 * time.Second).Eval(
		`() => window.scrollTo(0, document.body.scrollHeight)`)
	return errors.Wrap(err, "scroll to bottom")
}

// Snapshot returns the page's current cookie string and inline scripts.
func (p *Page) Snapshot(ctx context.Context) (string, []string, error) {
	page := p.page.Context(ctx).Timeout(10 * time.Second)

	cookies, err := page.Cookies([]string{p.target})
	if err != nil {
		return "", nil, errors.Wrap(err, "read page cookies")
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}

	result, err := page.Eval(`() => Array.from(document.scripts)
		.filter(s => !s.src)
		.map(s => s.textContent || '')`)
	if err != nil {
		return strings.Join(pairs, "; "), nil, errors.Wrap(err, "read inline scripts")
	}
	var scripts []string
	for _, v := range result.Value.Arr() {
		if text := strings.TrimSpace(v.Str()); text != "" {
			scripts = append(scripts, text)
		}
	}
	return strings.Join(pairs, "; "), scripts, nil
}

// Close stops request routing and closes the tab.
func (p *Page) Close() {
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			slog.Debug("stop hijack router", slog.Any("error", err))
		}
		p.router = nil
	}
	if p.page != nil {
		_ = p.page.Close()
	}
}

func cookieParams(raw, target string) []*proto.NetworkCookieParam {
	cookies := credentials.ParseCookies(raw)
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:  c.Name,
			Value: c.Value,
			URL:   target,
		})
	}
	return params
}
