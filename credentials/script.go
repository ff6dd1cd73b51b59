package credentials

import (
	"context"
	"log/slog"
	"regexp"
)

// ScanLimit stops script scanning once the set holds more headers than this.
const ScanLimit = 5

// ScriptLoader returns the inline script bodies of the purchase page.
type ScriptLoader interface {
	Scripts(ctx context.Context) ([]string, error)
}

// StaticScripts is a ScriptLoader over an already captured list.
type StaticScripts []string

// Scripts implements ScriptLoader.
func (s StaticScripts) Scripts(context.Context) ([]string, error) {
	return s, nil
}

type tokenPattern struct {
	name    string
	pattern *regexp.Regexp
}

var tokenPatterns = []tokenPattern{
	{name: HeaderSapRi, pattern: namedToken(HeaderSapRi)},
	{name: HeaderSapSec, pattern: namedToken(HeaderSapSec)},
	{name: HeaderEncDat, pattern: namedToken(HeaderEncDat)},
	{name: HeaderEncSzToken, pattern: namedToken(HeaderEncSzToken)},
	{name: HeaderSDKVersion, pattern: namedToken(HeaderSDKVersion)},
}

func namedToken(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)["']` + regexp.QuoteMeta(name) + `["']\s*:\s*["']([^"']+)["']`)
}

// ScriptSource scans inline scripts for "name": "value" token literals.
type ScriptSource struct {
	Loader     ScriptLoader
	MaxScripts int
}

// Name implements Source.
func (ScriptSource) Name() string { return "script" }

// Extract implements Source.
func (s ScriptSource) Extract(ctx context.Context, into HeaderSet) {
	if s.Loader == nil {
		return
	}
	scripts, err := s.Loader.Scripts(ctx)
	if err != nil {
		slog.Warn("load page scripts", slog.Any("error", err))
		return
	}
	found := ScanScripts(into, scripts, s.MaxScripts)
	slog.Debug("scanned page scripts",
		slog.Int("scripts", len(scripts)),
		slog.Int("found", found),
	)
}

// ScanScripts fills missing tokens in into from at most maxScripts scripts and
// returns how many headers it added. Scanning stops once into holds more than
// ScanLimit headers.
func ScanScripts(into HeaderSet, scripts []string, maxScripts int) int {
	added := 0
	for i, content := range scripts {
		if maxScripts > 0 && i >= maxScripts {
			break
		}
		for _, tp := range tokenPatterns {
			if into[tp.name] != "" {
				continue
			}
			if match := tp.pattern.FindStringSubmatch(content); len(match) > 1 {
				if into.SetMissing(tp.name, match[1]) {
					added++
				}
			}
		}
		if len(into) > ScanLimit {
			break
		}
	}
	return added
}
