// Package intercept observes order-endpoint responses flowing through an
// http.RoundTripper without disturbing the caller that issued them.
package intercept

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const dropLogInterval = 5 * time.Second

// Observation is one completed response whose URL matched the endpoint.
type Observation struct {
	URL    *url.URL
	Offset int
	Status int
	Body   []byte
}

// OK reports whether the response had a 2xx status.
func (o Observation) OK() bool {
	return o.Status >= 200 && o.Status < 300
}

// Interceptor is an http.RoundTripper decorator. Responses whose path
// contains Match are buffered, handed to every active watcher and returned to
// the caller with an intact body.
type Interceptor struct {
	base  http.RoundTripper
	match string

	mu       sync.Mutex
	nextID   int
	watchers map[int]chan Observation
	dropped  int
	dropLog  rate.Sometimes
}

// New wraps base; a nil base uses http.DefaultTransport.
func New(base http.RoundTripper, match string) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Interceptor{
		base:     base,
		match:    match,
		watchers: make(map[int]chan Observation),
		dropLog:  rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
}

// Match returns the path fragment being observed.
func (i *Interceptor) Match() string {
	return i.match
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.base.RoundTrip(req)
	if err != nil || resp == nil || !i.matches(req.URL) {
		return resp, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return resp, errors.Wrap(readErr, "buffer intercepted response")
	}

	i.publish(Observation{
		URL:    req.URL,
		Offset: OffsetFromURL(req.URL),
		Status: resp.StatusCode,
		Body:   body,
	})
	return resp, nil
}

// Watch registers a watcher. The returned release func unregisters it and
// closes the channel; it is safe to call more than once.
func (i *Interceptor) Watch(buffer int) (<-chan Observation, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Observation, buffer)

	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.watchers[id] = ch
	i.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.watchers, id)
			i.mu.Unlock()
			close(ch)
		})
	}
	return ch, release
}

// Watchers returns the number of active watchers.
func (i *Interceptor) Watchers() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.watchers)
}

// Dropped returns how many observations were discarded because a watcher was full.
func (i *Interceptor) Dropped() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dropped
}

func (i *Interceptor) publish(obs Observation) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, ch := range i.watchers {
		select {
		case ch <- obs:
		default:
			i.dropped++
			dropped := i.dropped
			i.dropLog.Do(func() {
				slog.Warn("intercept watcher full, dropping observation",
					slog.Int("watcher", id),
					slog.Int("offset", obs.Offset),
					slog.Int("dropped", dropped),
				)
			})
		}
	}
}

func (i *Interceptor) matches(u *url.URL) bool {
	return u != nil && i.match != "" && strings.Contains(u.Path, i.match)
}

// OffsetFromURL reads the offset query parameter, defaulting to 0.
func OffsetFromURL(u *url.URL) int {
	if u == nil {
		return 0
	}
	offset, err := strconv.Atoi(u.Query().Get("offset"))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
