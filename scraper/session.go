package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aluiziolira/go-scrape-orders/credentials"
)

const headerCacheKey = "headers"

// Session is the caller-owned state shared by consecutive runs: the opaque
// cookie blob, the credential source, the cached headers and the single-run
// guard.
type Session struct {
	cookie string
	source credentials.Source
	cache  *cache.Cache

	running sync.Mutex
}

// NewSession builds a session. A nil source falls back to cookie-only
// extraction; ttl <= 0 keeps cached headers until Invalidate.
func NewSession(cookie string, source credentials.Source, ttl time.Duration) *Session {
	if source == nil {
		source = credentials.CookieSource{Cookie: cookie}
	}
	expiration := ttl
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	return &Session{
		cookie: cookie,
		source: source,
		cache:  cache.New(expiration, time.Minute),
	}
}

// Cookie returns the raw credential blob.
func (s *Session) Cookie() string {
	return s.cookie
}

// Source returns the credential source name.
func (s *Session) Source() string {
	return s.source.Name()
}

// Headers returns the cached header set or extracts a fresh one. Only sets
// holding the primary token are cached. The second result reports a cache hit.
func (s *Session) Headers(ctx context.Context) (credentials.HeaderSet, bool) {
	if cached, ok := s.cache.Get(headerCacheKey); ok {
		return cached.(credentials.HeaderSet).Clone(), true
	}

	headers := credentials.Extract(ctx, s.source)
	if headers.HasPrimary() {
		s.cache.SetDefault(headerCacheKey, headers.Clone())
	} else {
		slog.Debug("header set not cached", slog.Any("missing", headers.Missing()))
	}
	return headers, false
}

// Invalidate drops the cached headers, e.g. after an auth failure.
func (s *Session) Invalidate() {
	s.cache.Delete(headerCacheKey)
}

// acquire claims the session for one run.
func (s *Session) acquire() (func(), error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	return s.running.Unlock, nil
}
