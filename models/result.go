package models

import (
	"fmt"
	"time"
)

// Collection methods recorded in the export document.
const (
	MethodAuthenticatedFetch = "authenticated_fetch"
	MethodNaturalScrolling   = "natural_scrolling"
)

// Outcome describes how a collection run ended.
type Outcome string

const (
	OutcomeRunning          Outcome = "running"
	OutcomeEndOfData        Outcome = "end_of_data"
	OutcomeReachedOlderYear Outcome = "reached_older_year"
	OutcomePageCap          Outcome = "page_cap"
	OutcomeIdle             Outcome = "idle"
	OutcomeNoData           Outcome = "no_data"
	OutcomeAuthDenied       Outcome = "auth_denied"
	OutcomeConnectivity     Outcome = "connectivity"
	OutcomeCancelled        Outcome = "cancelled"
)

// Failed reports whether the outcome is a terminal failure.
func (o Outcome) Failed() bool {
	return o == OutcomeAuthDenied || o == OutcomeConnectivity || o == OutcomeCancelled
}

// CollectionResult accumulates the pages of one run in fetch order.
type CollectionResult struct {
	RunID         string
	Method        string
	YearFilter    string
	Pages         []*RawPage
	MatchedOrders int
	Outcome       Outcome
	StartedAt     time.Time
	FinishedAt    time.Time

	offsets map[int]struct{}
}

// NewCollectionResult builds an empty result for a run.
func NewCollectionResult(runID, method, yearFilter string) *CollectionResult {
	return &CollectionResult{
		RunID:      runID,
		Method:     method,
		YearFilter: yearFilter,
		Outcome:    OutcomeRunning,
		StartedAt:  time.Now(),
		offsets:    make(map[int]struct{}),
	}
}

// Append adds a page; two pages may never share an offset.
func (r *CollectionResult) Append(page *RawPage, matched int) error {
	if page == nil {
		return fmt.Errorf("append nil page")
	}
	if r.offsets == nil {
		r.offsets = make(map[int]struct{})
	}
	if _, ok := r.offsets[page.Offset]; ok {
		return fmt.Errorf("page at offset %d already collected", page.Offset)
	}
	r.offsets[page.Offset] = struct{}{}
	r.Pages = append(r.Pages, page)
	r.MatchedOrders += matched
	return nil
}

// Finish stamps the terminal outcome.
func (r *CollectionResult) Finish(outcome Outcome) {
	r.Outcome = outcome
	r.FinishedAt = time.Now()
}

// PageCount returns the number of collected pages.
func (r *CollectionResult) PageCount() int {
	if r == nil {
		return 0
	}
	return len(r.Pages)
}

// Snapshot returns a shallow copy safe to hand to live observers.
func (r *CollectionResult) Snapshot() *CollectionResult {
	out := *r
	out.Pages = make([]*RawPage, len(r.Pages))
	copy(out.Pages, r.Pages)
	out.offsets = nil
	return &out
}

// Export is the JSON document produced for a finished run.
type Export struct {
	TotalPages       int        `json:"total_pages"`
	TotalOrders      int        `json:"total_orders"`
	CollectedAt      string     `json:"collected_at"`
	CollectionMethod string     `json:"collection_method"`
	FilterYear       string     `json:"filter_year"`
	AllData          []*RawPage `json:"all_data"`
}
