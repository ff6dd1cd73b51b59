package credentials

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocolly/colly/v2"
)

// PageLoader fetches the purchase page with the session cookie and returns
// its inline scripts.
type PageLoader struct {
	URL       string
	Cookie    string
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Scripts implements ScriptLoader.
func (l PageLoader) Scripts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(l.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse purchase page url")
	}
	if parsed.Host == "" {
		return nil, errors.Newf("purchase page url %q has no host", l.URL)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.AllowURLRevisit(),
	)
	if l.UserAgent != "" {
		collector.UserAgent = l.UserAgent
	}
	if l.Timeout > 0 {
		collector.SetRequestTimeout(l.Timeout)
	}
	if l.Transport != nil {
		collector.WithTransport(l.Transport)
	}

	var scripts []string
	collector.OnHTML("script", func(e *colly.HTMLElement) {
		if e.Attr("src") != "" {
			return
		}
		if text := strings.TrimSpace(e.Text); text != "" {
			scripts = append(scripts, text)
		}
	})

	hdr := http.Header{}
	if l.Cookie != "" {
		hdr.Set("Cookie", l.Cookie)
	}
	if err := collector.Request(http.MethodGet, l.URL, nil, nil, hdr); err != nil {
		return nil, errors.Wrap(err, "fetch purchase page")
	}
	return scripts, nil
}
