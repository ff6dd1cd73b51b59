// Package report turns a collection result into summaries, a flat table and
// the JSON export document.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/parser"
)

// Header is the fixed column order of the tabular export.
var Header = []string{
	"Order ID",
	"Order Date",
	"Order Status",
	"Shop Name",
	"Shop ID",
	"Item Name",
	"Model/Variant",
	"Quantity",
	"Item Price",
	"Item Total",
	"Order Subtotal",
	"Order Final Total",
	"Item ID",
	"Tracking Info",
}

// TimestampLayout is the ISO-8601 form used for collected_at.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Summary totals every order on every collected page.
type Summary struct {
	Orders int
	Items  int
	Amount int64 // minor units
}

// AmountDisplay formats Amount in major units.
func (s Summary) AmountDisplay() string {
	return parser.FormatAmount(s.Amount)
}

// Summarize recomputes the totals from scratch. Items is the sum of line
// quantities (missing quantity counts as 1).
func Summarize(result *models.CollectionResult) Summary {
	var s Summary
	if result == nil {
		return s
	}
	for _, page := range result.Pages {
		for _, order := range page.Orders() {
			s.Orders++
			s.Items += parser.CountItems(order)
			s.Amount += order.InfoCard.FinalTotal.Int64()
		}
	}
	return s
}

// Rows flattens every order of every page in collection order.
func Rows(result *models.CollectionResult) []models.FlatRecord {
	if result == nil {
		return nil
	}
	var rows []models.FlatRecord
	for _, page := range result.Pages {
		for _, order := range parser.Normalize(page) {
			rows = append(rows, parser.Flatten(order)...)
		}
	}
	return rows
}

// Table returns the header followed by one string slice per row.
func Table(result *models.CollectionResult) [][]string {
	rows := Rows(result)
	table := make([][]string, 0, len(rows)+1)
	table = append(table, append([]string(nil), Header...))
	for _, r := range rows {
		table = append(table, record(r))
	}
	return table
}

func record(r models.FlatRecord) []string {
	return []string{
		r.OrderID,
		r.OrderDate,
		r.OrderStatus,
		r.ShopName,
		r.ShopID,
		r.ItemName,
		r.Model,
		strconv.Itoa(r.Quantity),
		r.ItemPrice,
		r.ItemTotal,
		r.OrderSubtotal,
		r.OrderFinalTotal,
		r.ItemID,
		r.TrackingInfo,
	}
}

// WriteCSV writes Table(result) with standard CSV quoting.
func WriteCSV(w io.Writer, result *models.CollectionResult) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Table(result)); err != nil {
		return errors.Wrap(err, "write csv table")
	}
	return nil
}

// NewExport builds the JSON export document. TotalOrders counts the orders
// that matched the year filter.
func NewExport(result *models.CollectionResult, collectedAt time.Time) models.Export {
	export := models.Export{
		CollectedAt: collectedAt.UTC().Format(TimestampLayout),
		AllData:     []*models.RawPage{},
	}
	if result == nil {
		return export
	}
	export.TotalPages = len(result.Pages)
	export.TotalOrders = result.MatchedOrders
	export.CollectionMethod = result.Method
	export.FilterYear = result.YearFilter
	if len(result.Pages) > 0 {
		export.AllData = result.Pages
	}
	return export
}
