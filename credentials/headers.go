// Package credentials derives the request headers the private order API
// expects from a logged-in session.
//
// Every strategy here is best-effort. The token derivations mirror what the
// site happened to accept when they were written; none of them is guaranteed
// to satisfy the remote validation, so an incomplete HeaderSet is a normal
// result rather than an error.
package credentials

import (
	"context"
	"sort"
)

// Header names understood by the order endpoint.
const (
	HeaderCSRF       = "x-csrftoken"
	HeaderEncDat     = "af-ac-enc-dat"
	HeaderEncSzToken = "af-ac-enc-sz-token"
	HeaderSapRi      = "x-sap-ri"
	HeaderSapSec     = "x-sap-sec"
	HeaderSDKVersion = "x-sz-sdk-version"
)

// HeaderSet maps lower-case header names to values.
type HeaderSet map[string]string

// Clone returns an independent copy.
func (h HeaderSet) Clone() HeaderSet {
	out := make(HeaderSet, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// SetMissing stores value under name unless a non-empty value is already present.
func (h HeaderSet) SetMissing(name, value string) bool {
	if value == "" || h[name] != "" {
		return false
	}
	h[name] = value
	return true
}

// With returns a copy of h overlaid with other; other wins on conflicts.
func (h HeaderSet) With(other HeaderSet) HeaderSet {
	out := h.Clone()
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// HasPrimary reports whether the derived security token is present.
func (h HeaderSet) HasPrimary() bool {
	return h[HeaderEncDat] != ""
}

// Complete reports whether both the CSRF token and the security token are present.
func (h HeaderSet) Complete() bool {
	return h[HeaderCSRF] != "" && h.HasPrimary()
}

// Missing lists the required headers that are absent.
func (h HeaderSet) Missing() []string {
	var missing []string
	for _, name := range []string{HeaderCSRF, HeaderEncDat} {
		if h[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Names returns the header names in sorted order.
func (h HeaderSet) Names() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BaseHeaders returns the anonymous headers a browser sends with the XHR.
func BaseHeaders(referer, userAgent string) HeaderSet {
	h := HeaderSet{
		"accept":             "application/json",
		"accept-language":    "en-US,en;q=0.9",
		"cache-control":      "no-cache",
		"pragma":             "no-cache",
		"sec-ch-ua":          `"Not_A Brand";v="8", "Chromium";v="120"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
		"sec-fetch-dest":     "empty",
		"sec-fetch-mode":     "cors",
		"sec-fetch-site":     "same-origin",
		"x-requested-with":   "XMLHttpRequest",
		"x-api-source":       "pc",
		"x-shopee-language":  "en",
	}
	if referer != "" {
		h["referer"] = referer
	}
	if userAgent != "" {
		h["user-agent"] = userAgent
	}
	return h
}

// Source is one strategy for discovering headers. Extract only fills keys
// that are still missing in into and never fails.
type Source interface {
	Name() string
	Extract(ctx context.Context, into HeaderSet)
}

// Chain runs sources in order.
type Chain []Source

// Name implements Source.
func (c Chain) Name() string {
	name := "chain"
	for _, src := range c {
		name += ":" + src.Name()
	}
	return name
}

// Extract implements Source.
func (c Chain) Extract(ctx context.Context, into HeaderSet) {
	for _, src := range c {
		if ctx.Err() != nil {
			return
		}
		src.Extract(ctx, into)
	}
}

// Extract runs src against an empty set and returns the result.
func Extract(ctx context.Context, src Source) HeaderSet {
	h := HeaderSet{}
	if src != nil {
		src.Extract(ctx, h)
	}
	return h
}

// Static is the cookie-then-script extraction used when no browser is available.
func Static(cookie string, loader ScriptLoader, maxScripts int) Source {
	return Chain{
		CookieSource{Cookie: cookie},
		ScriptSource{Loader: loader, MaxScripts: maxScripts},
	}
}
