package credentials

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Cookie names read by CookieSource.
const (
	CookieCSRF      = "csrftoken"
	CookieComposite = "shopee_webUnique_ccd"
)

// CookieSource derives headers from a raw Cookie header value.
type CookieSource struct {
	Cookie string
}

// Name implements Source.
func (CookieSource) Name() string { return "cookie" }

// Extract implements Source.
func (s CookieSource) Extract(_ context.Context, into HeaderSet) {
	if csrf, ok := CookieValue(s.Cookie, CookieCSRF); ok {
		into.SetMissing(HeaderCSRF, csrf)
	}

	composite, ok := CookieValue(s.Cookie, CookieComposite)
	if !ok {
		return
	}
	szToken, encDat, ok := SplitComposite(composite)
	if !ok {
		slog.Debug("composite cookie did not split", slog.String("cookie", CookieComposite))
		return
	}
	into.SetMissing(HeaderEncSzToken, szToken)
	into.SetMissing(HeaderEncDat, encDat)
}

// CookieValue returns the value of name in a "k=v; k2=v2" cookie string.
func CookieValue(raw, name string) (string, bool) {
	for _, part := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || strings.TrimSpace(key) != name {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

// ParseCookies splits a "k=v; k2=v2" blob into cookies, skipping malformed
// or empty pairs. Values are kept as given.
func ParseCookies(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: key, Value: strings.TrimSpace(value)})
	}
	return cookies
}

// SplitComposite derives the two security tokens from the composite cookie.
//
// The full decoded value becomes the size token; the segment of the first
// "|"-separated part before any "=" becomes the data token. This is the
// derivation the site accepted when observed, nothing more.
func SplitComposite(value string) (szToken, encDat string, ok bool) {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		decoded = value
	}
	parts := strings.Split(decoded, "|")
	if len(parts) < 2 {
		return "", "", false
	}
	szToken = decoded
	if parts[0] != "" {
		encDat, _, _ = strings.Cut(parts[0], "=")
		if encDat == "" {
			encDat = parts[0]
		}
	}
	return szToken, encDat, true
}
