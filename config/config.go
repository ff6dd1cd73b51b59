package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AllYears disables the year filter.
const AllYears = "all"

// Credential strategies accepted by CredentialStrategy.
const (
	StrategyStatic  = "static"
	StrategyCapture = "capture"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL       string
	OrderListPath string
	PurchasePath  string

	PageSize        int
	MaxPages        int
	Delay           time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	YearFilter      string

	// Cookie is the raw Cookie header of a logged-in browser session.
	Cookie             string
	CredentialStrategy string
	HeaderTTL          time.Duration
	MaxScripts         int

	CaptureTimeout    time.Duration
	CaptureScrolls    int
	CaptureScrollWait time.Duration

	MaxScrollAttempts int
	MaxIdleScrolls    int
	ScrollWait        time.Duration
	ScrollJitter      time.Duration
	NudgeWait         time.Duration
	BottomWait        time.Duration
	DedupeMaxSize     int

	OutputFile   string
	OutputFormat string // csv, json, or dual
	UserAgent    string
	Headless     bool
	ProxyURL     string
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults for the order history endpoint.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://shopee.com.my",
		OrderListPath:      "/api/v4/order/get_all_order_and_checkout_list",
		PurchasePath:       "/user/purchase",
		PageSize:           5,
		MaxPages:           200,
		Delay:              1500 * time.Millisecond,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    5 * time.Second,
		YearFilter:         AllYears,
		CredentialStrategy: StrategyStatic,
		HeaderTTL:          0,
		MaxScripts:         200,
		CaptureTimeout:     15 * time.Second,
		CaptureScrolls:     3,
		CaptureScrollWait:  2 * time.Second,
		MaxScrollAttempts:  100,
		MaxIdleScrolls:     8,
		ScrollWait:         3 * time.Second,
		ScrollJitter:       2 * time.Second,
		NudgeWait:          1500 * time.Millisecond,
		BottomWait:         4 * time.Second,
		DedupeMaxSize:      4096,
		OutputFile:         "output/orders.csv",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headless:           true,
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if !strings.HasPrefix(c.OrderListPath, "/") {
		return fmt.Errorf("order list path must start with /")
	}
	if !strings.HasPrefix(c.PurchasePath, "/") {
		return fmt.Errorf("purchase path must start with /")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if err := ValidateYearFilter(c.YearFilter); err != nil {
		return err
	}
	if c.CredentialStrategy != StrategyStatic && c.CredentialStrategy != StrategyCapture {
		return fmt.Errorf("credential strategy must be static or capture")
	}
	if c.HeaderTTL < 0 {
		return fmt.Errorf("header ttl cannot be negative")
	}
	if c.MaxScripts <= 0 {
		return fmt.Errorf("max scripts must be positive")
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("capture timeout must be positive")
	}
	if c.CaptureScrolls < 0 {
		return fmt.Errorf("capture scrolls cannot be negative")
	}
	if c.MaxScrollAttempts <= 0 {
		return fmt.Errorf("max scroll attempts must be positive")
	}
	if c.MaxIdleScrolls <= 0 {
		return fmt.Errorf("max idle scrolls must be positive")
	}
	if c.ScrollWait < 0 || c.ScrollJitter < 0 || c.NudgeWait < 0 || c.BottomWait < 0 {
		return fmt.Errorf("scroll wait cannot be negative")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// OrderListURL returns the absolute endpoint URL for one limit/offset window.
func (c *Config) OrderListURL(limit, offset int) string {
	return fmt.Sprintf("%s%s?limit=%d&offset=%d", strings.TrimSuffix(c.BaseURL, "/"), c.OrderListPath, limit, offset)
}

// PurchaseURL returns the absolute URL of the order history page.
func (c *Config) PurchaseURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + c.PurchasePath
}

// ValidateYearFilter accepts "all" or a four digit year.
func ValidateYearFilter(filter string) error {
	if filter == AllYears {
		return nil
	}
	if len(filter) != 4 {
		return fmt.Errorf("year filter must be %q or a four digit year, got %q", AllYears, filter)
	}
	if _, err := strconv.Atoi(filter); err != nil {
		return fmt.Errorf("year filter must be %q or a four digit year, got %q", AllYears, filter)
	}
	return nil
}
