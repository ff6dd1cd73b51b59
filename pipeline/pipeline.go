// Package pipeline accumulates intercepted order pages and writes finished
// collection results.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-orders/models"
)

var (
	// ErrPipelineClosed is returned when Add is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for report output.
type OutputWriter interface {
	Write(result *models.CollectionResult) error
	Close() error
	Validate() error
}

// Accumulator collects pages in arrival order, keeping at most one page per
// offset. It is safe for concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	result *models.CollectionResult
	seen   *lru.Cache[int, struct{}]
	closed bool

	metrics metrics
}

// NewAccumulator wraps result. maxSeen bounds the remembered offsets.
func NewAccumulator(result *models.CollectionResult, maxSeen int) (*Accumulator, error) {
	if result == nil {
		return nil, fmt.Errorf("accumulator needs a result")
	}
	if maxSeen <= 0 {
		maxSeen = 4096
	}
	seen, err := lru.New[int, struct{}](maxSeen)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	return &Accumulator{
		result:  result,
		seen:    seen,
		metrics: newMetrics(),
	}, nil
}

// Add appends page unless its offset was already collected or it carries no
// order list. It reports whether the page was appended.
func (a *Accumulator) Add(page *models.RawPage, matched int) (bool, error) {
	if page == nil {
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false, ErrPipelineClosed
	}

	if _, ok := page.Payload.Orders(); !ok {
		a.metrics.addValidation("missing_orders")
		return false, nil
	}
	if a.seen.Contains(page.Offset) {
		a.metrics.addValidation("duplicate_offset")
		return false, nil
	}
	if err := a.result.Append(page, matched); err != nil {
		a.metrics.addValidation("duplicate_offset")
		slog.Debug("page rejected by result", slog.Int("offset", page.Offset), slog.Any("error", err))
		return false, nil
	}
	a.seen.Add(page.Offset, struct{}{})
	a.metrics.incrementProcessed()
	return true, nil
}

// Len returns the number of accumulated pages.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result.PageCount()
}

// Snapshot returns a copy of the result safe to hand to observers.
func (a *Accumulator) Snapshot() *models.CollectionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result.Snapshot()
}

// Seen reports whether offset is among the recently collected offsets. It
// lets callers skip decoding a page that is already held.
func (a *Accumulator) Seen(offset int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen.Contains(offset)
}

// Close stops accepting pages and stamps the outcome.
func (a *Accumulator) Close(outcome models.Outcome) *models.CollectionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		a.result.Finish(outcome)
	}
	return a.result
}

// GetMetrics returns a snapshot of the internal counters.
func (a *Accumulator) GetMetrics() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until done is closed.
func (a *Accumulator) StartMetricsReporting(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := a.GetMetrics()
				slog.Info("accumulator progress",
					slog.Int64("pages", m["processed_pages"].(int64)),
					slog.Any("validation_errors", m["validation_errors"]),
				)
			case <-done:
				return
			}
		}
	}()
}

type metrics struct {
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.processed++
}

func (m *metrics) addValidation(kind string) {
	m.validation[kind]++
}

func (m *metrics) snapshot() map[string]interface{} {
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_pages":   m.processed,
		"validation_errors": copyValidation,
	}
}
