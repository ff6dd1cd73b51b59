package main

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-scrape-orders/config"
)

const envPrefix = "ORDERS"

func registerFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	f := cmd.PersistentFlags()

	f.String("config", "", "Optional config file (yaml, toml or json)")
	f.String("base-url", d.BaseURL, "Shop base URL")
	f.String("cookie", "", "Cookie header of a logged-in browser session")
	f.String("cookie-file", "", "File holding the Cookie header")
	f.String("year", d.YearFilter, `Year to collect, "all" or YYYY`)
	f.String("strategy", d.CredentialStrategy, "Header strategy: static or capture")
	f.Duration("header-ttl", d.HeaderTTL, "How long derived headers are reused (0 keeps them until denied)")
	f.Int("max-scripts", d.MaxScripts, "Inline scripts scanned for tokens")

	f.Int("page-size", d.PageSize, "Orders requested per page")
	f.Int("max-pages", d.MaxPages, "Maximum pages to request")
	f.Duration("delay", d.Delay, "Minimum spacing between page requests")
	f.Duration("timeout", d.Timeout, "Request timeout")
	f.Int("max-retries", d.MaxRetries, "Retries per page for transient failures")
	f.Duration("retry-backoff", d.RetryBackoff, "Initial retry backoff")
	f.Duration("retry-backoff-max", d.RetryBackoffMax, "Maximum retry backoff")

	f.Duration("capture-timeout", d.CaptureTimeout, "How long to wait for a real order request")
	f.Int("capture-scrolls", d.CaptureScrolls, "Scrolls issued while waiting for a real order request")
	f.Duration("capture-scroll-wait", d.CaptureScrollWait, "Pause between capture scrolls")

	f.Int("max-scroll-attempts", d.MaxScrollAttempts, "Scroll attempts before watch gives up")
	f.Int("max-idle-scrolls", d.MaxIdleScrolls, "Consecutive scrolls without new pages before watch stops")
	f.Duration("scroll-wait", d.ScrollWait, "Pause after each scroll")
	f.Duration("scroll-jitter", d.ScrollJitter, "Random extra pause after each scroll")
	f.Duration("nudge-wait", d.NudgeWait, "Pause around the up/down nudge")
	f.Duration("bottom-wait", d.BottomWait, "Pause after jumping to the bottom")
	f.Int("dedupe-max-size", d.DedupeMaxSize, "Offsets remembered for deduplication")

	f.StringP("output", "o", d.OutputFile, "Output file path")
	f.StringP("format", "f", d.OutputFormat, "Output format: csv, json, or dual")
	f.String("user-agent", d.UserAgent, "User agent sent with every request")
	f.Bool("headless", d.Headless, "Run the browser headless")
	f.String("proxy", "", "Proxy URL for requests and the browser")
	f.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	f.BoolP("verbose", "v", d.Verbose, "Enable debug logging")
}

// newViper layers explicit flags over ORDERS_* variables, the optional config
// file and the flag defaults.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return v, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}
	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = v.GetString("base-url")
	cfg.YearFilter = v.GetString("year")
	cfg.CredentialStrategy = strings.ToLower(v.GetString("strategy"))
	cfg.HeaderTTL = v.GetDuration("header-ttl")
	cfg.MaxScripts = v.GetInt("max-scripts")

	cfg.PageSize = v.GetInt("page-size")
	cfg.MaxPages = v.GetInt("max-pages")
	cfg.Delay = v.GetDuration("delay")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.MaxRetries = v.GetInt("max-retries")
	cfg.RetryBackoff = v.GetDuration("retry-backoff")
	cfg.RetryBackoffMax = v.GetDuration("retry-backoff-max")

	cfg.CaptureTimeout = v.GetDuration("capture-timeout")
	cfg.CaptureScrolls = v.GetInt("capture-scrolls")
	cfg.CaptureScrollWait = v.GetDuration("capture-scroll-wait")

	cfg.MaxScrollAttempts = v.GetInt("max-scroll-attempts")
	cfg.MaxIdleScrolls = v.GetInt("max-idle-scrolls")
	cfg.ScrollWait = v.GetDuration("scroll-wait")
	cfg.ScrollJitter = v.GetDuration("scroll-jitter")
	cfg.NudgeWait = v.GetDuration("nudge-wait")
	cfg.BottomWait = v.GetDuration("bottom-wait")
	cfg.DedupeMaxSize = v.GetInt("dedupe-max-size")

	cfg.OutputFile = v.GetString("output")
	cfg.OutputFormat = strings.ToLower(v.GetString("format"))
	cfg.UserAgent = v.GetString("user-agent")
	cfg.Headless = v.GetBool("headless")
	cfg.ProxyURL = v.GetString("proxy")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.Verbose = v.GetBool("verbose")

	cookie := strings.TrimSpace(v.GetString("cookie"))
	if cookie == "" {
		if path := v.GetString("cookie-file"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrap(err, "read cookie file")
			}
			cookie = strings.TrimSpace(string(data))
		}
	}
	cfg.Cookie = cookie

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "Run with --help to see the accepted values.")
	}
	return cfg, nil
}
