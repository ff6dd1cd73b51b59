package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-orders/config"
	"github.com/aluiziolira/go-scrape-orders/credentials"
	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/report"
)

const (
	testBase   = "http://shop.test"
	testCookie = "csrftoken=tok; shopee_webUnique_ccd=dat%3Dx%7Cy"

	year2024 = "1710000000"
	year2023 = "1700000000"
	year2022 = "1650000000"
)

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.Delay = 0
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func newTestScraper(t *testing.T, transport http.RoundTripper, mutate func(*config.Config)) *Scraper {
	t.Helper()
	s, err := NewScraper(testConfig(mutate))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)
	return s
}

// pageBody builds an order page; each prefix becomes one order with a single item.
func pageBody(prefixes ...string) string {
	orders := make([]string, 0, len(prefixes))
	for i, prefix := range prefixes {
		orders = append(orders, fmt.Sprintf(`{"info_card":{"order_id":"%s%06d","final_total":500000,
			"order_list_cards":[{"shop_info":{"shop_id":1,"shop_name":"Shop"},
			"product_info":{"item_groups":[{"items":[{"name":"Item","amount":2,"item_price":250000,"order_price":500000}]}]}}]}}`, prefix, i))
	}
	return `{"data":{"order_data":{"details_list":[` + strings.Join(orders, ",") + `]}}}`
}

// endpoint serves bodies by offset and records every requested offset.
type endpoint struct {
	mu      sync.Mutex
	offsets []int
	headers []http.Header
	pages   map[int]string
	status  map[int][]int
}

func newEndpoint(pages map[int]string) *endpoint {
	return &endpoint{pages: pages, status: make(map[int][]int)}
}

func (e *endpoint) responder(req *http.Request) (*http.Response, error) {
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	e.mu.Lock()
	e.offsets = append(e.offsets, offset)
	e.headers = append(e.headers, req.Header.Clone())
	status := http.StatusOK
	if queued := e.status[offset]; len(queued) > 0 {
		status = queued[0]
		e.status[offset] = queued[1:]
	}
	body, ok := e.pages[offset]
	e.mu.Unlock()

	if status != http.StatusOK {
		return httpmock.NewStringResponse(status, `{"error":1}`), nil
	}
	if !ok {
		body = pageBody()
	}
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func (e *endpoint) transport() *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBase+"/api/v4/order/get_all_order_and_checkout_list", e.responder)
	return transport
}

func (e *endpoint) requested() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.offsets...)
}

type progressLog struct {
	mu     sync.Mutex
	events []models.Progress
}

func (p *progressLog) add(ev models.Progress) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *progressLog) last() models.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return models.Progress{}
	}
	return p.events[len(p.events)-1]
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectYearFilterSequencing(t *testing.T) {
	ep := newEndpoint(map[int]string{
		0:  pageBody(year2024, year2024),
		5:  pageBody(year2023, year2024),
		10: pageBody(year2023),
		15: pageBody(year2022, year2022),
	})
	s := newTestScraper(t, ep.transport(), nil)
	progress := &progressLog{}

	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), "2023", Hooks{OnProgress: progress.add})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := ep.requested(); !equalInts(got, []int{0, 5, 10, 15}) {
		t.Fatalf("offsets = %v, want [0 5 10 15]", got)
	}
	if result.PageCount() != 2 {
		t.Fatalf("pages = %d, want 2 (skipped and older pages are not appended)", result.PageCount())
	}
	if result.Pages[0].Offset != 5 || result.Pages[1].Offset != 10 {
		t.Fatalf("unexpected page offsets %d, %d", result.Pages[0].Offset, result.Pages[1].Offset)
	}
	if result.MatchedOrders != 2 {
		t.Fatalf("matched = %d, want 2", result.MatchedOrders)
	}
	if result.Outcome != models.OutcomeReachedOlderYear {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.Method != models.MethodAuthenticatedFetch || result.YearFilter != "2023" || result.RunID == "" {
		t.Fatalf("unexpected result metadata: %+v", result)
	}
	if last := progress.last(); last.Severity != models.SeveritySuccess || !strings.Contains(last.Message, "older than 2023") {
		t.Fatalf("unexpected final progress: %+v", last)
	}
	// one event per skipped or appended page plus the terminal one
	if got := len(progress.events); got != 4 {
		t.Fatalf("progress events = %d, want 4", got)
	}
}

func TestCollectSendsCredentials(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024)})
	s := newTestScraper(t, ep.transport(), nil)

	if _, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{}); err != nil {
		t.Fatalf("collect: %v", err)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	hdr := ep.headers[0]
	if hdr.Get("X-Csrftoken") != "tok" {
		t.Fatalf("csrf header = %q", hdr.Get("X-Csrftoken"))
	}
	if hdr.Get("Af-Ac-Enc-Dat") != "dat" {
		t.Fatalf("enc-dat header = %q", hdr.Get("Af-Ac-Enc-Dat"))
	}
	if hdr.Get("Referer") != testBase+"/user/purchase" {
		t.Fatalf("referer = %q", hdr.Get("Referer"))
	}
	if !strings.Contains(hdr.Get("Cookie"), "csrftoken=tok") {
		t.Fatalf("cookie header = %q", hdr.Get("Cookie"))
	}
}

func TestCollectEmptyPageEndsRun(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024), 5: pageBody()})
	s := newTestScraper(t, ep.transport(), nil)

	var lives []report.Summary
	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{
		OnLive: func(_ *models.CollectionResult, summary report.Summary) { lives = append(lives, summary) },
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Outcome != models.OutcomeEndOfData || result.PageCount() != 1 {
		t.Fatalf("outcome=%s pages=%d", result.Outcome, result.PageCount())
	}
	if len(lives) != 1 || lives[0].Orders != 1 || lives[0].Items != 2 {
		t.Fatalf("unexpected live summaries: %+v", lives)
	}
}

func TestCollectNoData(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody()})
	s := newTestScraper(t, ep.transport(), nil)
	progress := &progressLog{}

	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), "2023", Hooks{OnProgress: progress.add})
	if err != nil {
		t.Fatalf("no data is not an error: %v", err)
	}
	if result.Outcome != models.OutcomeNoData || result.PageCount() != 0 {
		t.Fatalf("outcome=%s pages=%d", result.Outcome, result.PageCount())
	}
	if last := progress.last(); last.Severity != models.SeverityWarning || !strings.Contains(last.Message, "No orders found for 2023") {
		t.Fatalf("unexpected progress: %+v", last)
	}
}

func TestCollectAuthDeniedOnFirstPage(t *testing.T) {
	ep := newEndpoint(nil)
	ep.status[0] = []int{http.StatusForbidden}
	s := newTestScraper(t, ep.transport(), nil)
	progress := &progressLog{}
	sess := NewSession(testCookie, nil, 0)

	result, err := s.Collect(context.Background(), sess, config.AllYears, Hooks{OnProgress: progress.add})

	var denied ErrAuthDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrAuthDenied, got %v", err)
	}
	if result == nil || result.PageCount() != 0 || result.Outcome != models.OutcomeAuthDenied {
		t.Fatalf("expected empty well-formed result, got %+v", result)
	}
	if got := ep.requested(); len(got) != 1 {
		t.Fatalf("403 must not be retried, requests = %v", got)
	}
	last := progress.last()
	if last.Severity != models.SeverityError || !strings.Contains(last.Message, "Log in") {
		t.Fatalf("unexpected progress: %+v", last)
	}
	if _, cached := sess.Headers(context.Background()); cached {
		t.Fatalf("auth failure should invalidate cached headers")
	}
}

func TestCollectServerErrorRetriesThenFails(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024)})
	ep.status[5] = []int{500, 500, 500}
	s := newTestScraper(t, ep.transport(), nil)

	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{})

	var connectivity ErrConnectivity
	if !errors.As(err, &connectivity) || connectivity.Offset != 5 {
		t.Fatalf("expected ErrConnectivity at offset 5, got %v", err)
	}
	if !equalInts(ep.requested(), []int{0, 5, 5, 5}) {
		t.Fatalf("offsets = %v, want [0 5 5 5]", ep.requested())
	}
	if result.PageCount() != 1 || result.Outcome != models.OutcomeConnectivity {
		t.Fatalf("partial result should keep earlier pages: pages=%d outcome=%s", result.PageCount(), result.Outcome)
	}
	if got := s.retry.TotalRetries(); got != 2 {
		t.Fatalf("retries = %d, want 2", got)
	}
}

func TestCollectTransientErrorRecovers(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024)})
	ep.status[0] = []int{http.StatusServiceUnavailable}
	s := newTestScraper(t, ep.transport(), nil)

	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !equalInts(ep.requested(), []int{0, 0, 5}) {
		t.Fatalf("offsets = %v, want [0 0 5]", ep.requested())
	}
	if result.PageCount() != 1 {
		t.Fatalf("pages = %d, want 1", result.PageCount())
	}
}

func TestCollectClientErrorIsNotRetried(t *testing.T) {
	ep := newEndpoint(nil)
	ep.status[0] = []int{http.StatusNotFound}
	s := newTestScraper(t, ep.transport(), nil)

	_, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{})
	var connectivity ErrConnectivity
	if !errors.As(err, &connectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if len(ep.requested()) != 1 {
		t.Fatalf("requests = %v, want one", ep.requested())
	}
}

func TestCollectUndecodableBody(t *testing.T) {
	ep := newEndpoint(map[int]string{0: "<html>login</html>"})
	s := newTestScraper(t, ep.transport(), nil)

	_, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{})
	var connectivity ErrConnectivity
	if !errors.As(err, &connectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
}

func TestCollectPageCap(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024), 5: pageBody(year2024), 10: pageBody(year2024), 15: pageBody(year2024)})
	s := newTestScraper(t, ep.transport(), func(cfg *config.Config) { cfg.MaxPages = 3 })

	result, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Outcome != models.OutcomePageCap || result.PageCount() != 3 {
		t.Fatalf("outcome=%s pages=%d", result.Outcome, result.PageCount())
	}
	if !equalInts(ep.requested(), []int{0, 5, 10}) {
		t.Fatalf("offsets = %v", ep.requested())
	}
}

func TestCollectPausesDelayAfterEachResponse(t *testing.T) {
	const latency, delay = 30 * time.Millisecond, 40 * time.Millisecond
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBase+"/api/v4/order/get_all_order_and_checkout_list",
		func(*http.Request) (*http.Response, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			time.Sleep(latency)
			return httpmock.NewStringResponse(http.StatusOK, pageBody(year2024)), nil
		})
	s := newTestScraper(t, transport, func(cfg *config.Config) {
		cfg.Delay = delay
		cfg.MaxPages = 3
	})

	if _, err := s.Collect(context.Background(), NewSession(testCookie, nil, 0), config.AllYears, Hooks{}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 3 {
		t.Fatalf("requests = %d, want 3", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < latency+delay {
			t.Fatalf("request %d started %v after the previous one, want at least %v", i, gap, latency+delay)
		}
	}
}

func TestCollectCancelled(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024)})
	s := newTestScraper(t, ep.transport(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Collect(ctx, NewSession(testCookie, nil, 0), config.AllYears, Hooks{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Outcome != models.OutcomeCancelled || len(ep.requested()) != 0 {
		t.Fatalf("outcome=%s requests=%v", result.Outcome, ep.requested())
	}
}

func TestCollectRejectsConcurrentRun(t *testing.T) {
	s := newTestScraper(t, newEndpoint(nil).transport(), nil)
	sess := NewSession(testCookie, nil, 0)
	release, err := sess.acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := s.Collect(context.Background(), sess, config.AllYears, Hooks{}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestCollectRejectsBadFilter(t *testing.T) {
	s := newTestScraper(t, newEndpoint(nil).transport(), nil)
	if _, err := s.Collect(context.Background(), NewSession("", nil, 0), "23", Hooks{}); err == nil {
		t.Fatalf("expected error for malformed filter")
	}
}

func TestCollectWarnsOnIncompleteHeaders(t *testing.T) {
	ep := newEndpoint(map[int]string{0: pageBody(year2024)})
	s := newTestScraper(t, ep.transport(), nil)
	progress := &progressLog{}

	if _, err := s.Collect(context.Background(), NewSession("SPC_EC=x", nil, 0), config.AllYears, Hooks{OnProgress: progress.add}); err != nil {
		t.Fatalf("incomplete headers are not fatal: %v", err)
	}
	first := progress.events[0]
	if first.Severity != models.SeverityWarning || !strings.Contains(first.Message, "security tokens") {
		t.Fatalf("unexpected first progress: %+v", first)
	}
}

type countingSource struct {
	calls  int
	values credentials.HeaderSet
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) Extract(_ context.Context, into credentials.HeaderSet) {
	c.calls++
	for k, v := range c.values {
		into.SetMissing(k, v)
	}
}

func TestSessionCachesOnlyPrimaryToken(t *testing.T) {
	primary := &countingSource{values: credentials.HeaderSet{credentials.HeaderEncDat: "d"}}
	sess := NewSession("", primary, 0)
	sess.Headers(context.Background())
	h, cached := sess.Headers(context.Background())
	if !cached || primary.calls != 1 || h[credentials.HeaderEncDat] != "d" {
		t.Fatalf("cached=%v calls=%d", cached, primary.calls)
	}
	h[credentials.HeaderEncDat] = "mutated"
	if again, _ := sess.Headers(context.Background()); again[credentials.HeaderEncDat] != "d" {
		t.Fatalf("cached set must not be shared with callers")
	}

	partial := &countingSource{values: credentials.HeaderSet{credentials.HeaderCSRF: "c"}}
	sess = NewSession("", partial, 0)
	sess.Headers(context.Background())
	if _, cached := sess.Headers(context.Background()); cached || partial.calls != 2 {
		t.Fatalf("set without primary token must not be cached (calls=%d)", partial.calls)
	}
}

func TestSessionHeaderTTL(t *testing.T) {
	src := &countingSource{values: credentials.HeaderSet{credentials.HeaderEncDat: "d"}}
	sess := NewSession("", src, 20*time.Millisecond)
	sess.Headers(context.Background())
	time.Sleep(40 * time.Millisecond)
	if _, cached := sess.Headers(context.Background()); cached {
		t.Fatalf("expired entry should be re-extracted")
	}
}

func TestRetryManagerAllowRespectsLimit(t *testing.T) {
	cfg := testConfig(func(cfg *config.Config) { cfg.MaxRetries = 2 })
	rm := newRetryManager(cfg, NewMetrics())

	if !rm.Allow(1) || !rm.Allow(2) {
		t.Fatalf("first two retries should be allowed")
	}
	if rm.Allow(3) {
		t.Fatalf("third retry should not be allowed")
	}
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
}

func TestRetryManagerBackoffCapped(t *testing.T) {
	cfg := testConfig(func(cfg *config.Config) {
		cfg.RetryBackoff = 200 * time.Millisecond
		cfg.RetryBackoffMax = 500 * time.Millisecond
	})
	rm := newRetryManager(cfg, NewMetrics())

	if got := rm.Backoff(2); got != 400*time.Millisecond {
		t.Fatalf("backoff(2) = %v, want 400ms", got)
	}
	if got := rm.Backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4) = %v, want cap %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
		transient  bool
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "ok", err: nil, statusCode: http.StatusOK, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout", transient: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout", transient: true},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection", transient: true},
		{name: "forbidden", statusCode: http.StatusForbidden, expected: "auth_denied"},
		{name: "not found", statusCode: http.StatusNotFound, expected: "other"},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: "rate_limited", transient: true},
		{name: "server", statusCode: http.StatusBadGateway, expected: "server", transient: true},
		{name: "cancelled", err: context.Canceled, expected: "cancelled"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.statusCode)
			if got := errorTypeLabel(classified); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
			if got := transient(classified); got != tt.transient {
				t.Fatalf("transient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestUserMessagesAreDistinct(t *testing.T) {
	messages := map[string]string{
		"auth":       UserMessage(terminalError(classifyError(nil, http.StatusForbidden), 0)),
		"server":     UserMessage(terminalError(classifyError(nil, http.StatusBadGateway), 5)),
		"client":     UserMessage(terminalError(classifyError(nil, http.StatusNotFound), 5)),
		"cancelled":  UserMessage(context.Canceled),
		"running":    UserMessage(ErrRunInProgress),
		"headers":    UserMessage(ErrHeaderExtractionIncomplete),
		"no data":    NoDataMessage(config.AllYears),
		"no data yr": NoDataMessage("2021"),
	}
	seen := make(map[string]string)
	for name, msg := range messages {
		if msg == "" {
			t.Fatalf("%s: empty message", name)
		}
		if other, ok := seen[msg]; ok {
			t.Fatalf("%s and %s share message %q", name, other, msg)
		}
		seen[msg] = name
	}
	if !strings.Contains(messages["auth"], "Log in") {
		t.Fatalf("auth message should point at logging in: %q", messages["auth"])
	}
	if !strings.Contains(messages["server"], "offset 5") {
		t.Fatalf("connectivity message should name the offset: %q", messages["server"])
	}
}
