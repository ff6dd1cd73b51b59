package parser

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/aluiziolira/go-scrape-orders/models"
)

const (
	minOrderYear = 2015
	maxOrderYear = 2030

	// Order IDs at least this long are assumed to start with an epoch timestamp.
	minTimestampIDLength = 15

	dateLayout = "2006-01-02"
)

// DecodePage parses one endpoint response. The raw bytes are kept verbatim.
func DecodePage(body []byte, offset int) (*models.RawPage, error) {
	var payload models.PagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrapf(err, "decode order page at offset %d", offset)
	}
	raw := make(json.RawMessage, len(body))
	copy(raw, body)
	return &models.RawPage{Offset: offset, Raw: raw, Payload: payload}, nil
}

// ResolveDate returns the order date as 2006-01-02, or models.UnknownDate.
//
// The tracking ctime wins when present. Otherwise long order IDs are read as
// a seconds timestamp (first 10 digits), then as a milliseconds timestamp
// (first 13 digits); either is accepted only inside [2015, 2030].
func ResolveDate(order models.RawOrder) string {
	if ctime := order.Shipping.TrackingInfo.CTime.Int64(); ctime > 0 {
		return time.Unix(ctime, 0).UTC().Format(dateLayout)
	}

	id := strings.TrimSpace(order.InfoCard.OrderID.String())
	if len(id) < minTimestampIDLength {
		return models.UnknownDate
	}
	if secs, err := strconv.ParseInt(id[:10], 10, 64); err == nil {
		if t := time.Unix(secs, 0).UTC(); plausibleYear(t) {
			return t.Format(dateLayout)
		}
	}
	if millis, err := strconv.ParseInt(id[:13], 10, 64); err == nil {
		if t := time.UnixMilli(millis).UTC(); plausibleYear(t) {
			return t.Format(dateLayout)
		}
	}
	return models.UnknownDate
}

// OrderYear returns the four digit year of the order, or models.UnknownDate.
func OrderYear(order models.RawOrder) string {
	return yearOf(ResolveDate(order))
}

func yearOf(date string) string {
	if date == models.UnknownDate || len(date) < 4 {
		return models.UnknownDate
	}
	return date[:4]
}

func plausibleYear(t time.Time) bool {
	return t.Year() >= minOrderYear && t.Year() <= maxOrderYear
}

// MatchesYear reports whether the order passes the year filter.
func MatchesYear(order models.RawOrder, filter string) bool {
	if filter == "" || filter == "all" {
		return true
	}
	return OrderYear(order) == filter
}

// OlderThan reports whether the order resolves to a known year strictly before filter.
func OlderThan(order models.RawOrder, filter string) bool {
	want, err := strconv.Atoi(filter)
	if err != nil {
		return false
	}
	year := OrderYear(order)
	if year == models.UnknownDate {
		return false
	}
	got, err := strconv.Atoi(year)
	if err != nil {
		return false
	}
	return got < want
}

// Normalize classifies every order of a page. It never fails; missing fields
// degrade to sentinel values.
func Normalize(page *models.RawPage) []models.NormalizedOrder {
	orders := page.Orders()
	out := make([]models.NormalizedOrder, 0, len(orders))
	for _, order := range orders {
		out = append(out, NormalizeOrder(order))
	}
	return out
}

// NormalizeOrder builds the flattened view of one order.
func NormalizeOrder(order models.RawOrder) models.NormalizedOrder {
	date := ResolveDate(order)
	normalized := models.NormalizedOrder{
		OrderID:    orNA(order.InfoCard.OrderID.String()),
		Date:       date,
		Year:       yearOf(date),
		Status:     orNA(order.Status.ListViewStatusLabel.Text),
		Subtotal:   order.InfoCard.Subtotal.Int64(),
		FinalTotal: order.InfoCard.FinalTotal.Int64(),
		Tracking:   orNA(order.Shipping.TrackingInfo.Description),
	}
	for _, card := range order.InfoCard.OrderListCards {
		for _, group := range card.ProductInfo.ItemGroups {
			for _, item := range group.Items {
				normalized.Lines = append(normalized.Lines, models.OrderLine{
					ShopName: orNA(card.ShopInfo.ShopName),
					ShopID:   orNA(card.ShopInfo.ShopID.String()),
					Item:     item,
				})
			}
		}
	}
	return normalized
}

// Flatten fans one order out to a flat record per (shop, item) pair.
func Flatten(order models.NormalizedOrder) []models.FlatRecord {
	records := make([]models.FlatRecord, 0, len(order.Lines))
	date := order.Date
	if date == models.UnknownDate {
		date = models.NotAvailable
	}
	for _, line := range order.Lines {
		records = append(records, models.FlatRecord{
			OrderID:         order.OrderID,
			OrderDate:       date,
			OrderStatus:     order.Status,
			ShopName:        line.ShopName,
			ShopID:          line.ShopID,
			ItemName:        orNA(line.Item.Name),
			Model:           orNA(line.Item.ModelName),
			Quantity:        line.Item.Quantity(),
			ItemPrice:       FormatAmount(line.Item.ItemPrice.Int64()),
			ItemTotal:       FormatAmount(line.Item.OrderPrice.Int64()),
			OrderSubtotal:   FormatAmount(order.Subtotal),
			OrderFinalTotal: FormatAmount(order.FinalTotal),
			ItemID:          orNA(line.Item.ItemID.String()),
			TrackingInfo:    order.Tracking,
		})
	}
	return records
}

// CountItems sums item quantities of an order.
func CountItems(order models.RawOrder) int {
	total := 0
	for _, card := range order.InfoCard.OrderListCards {
		for _, group := range card.ProductInfo.ItemGroups {
			for _, item := range group.Items {
				total += item.Quantity()
			}
		}
	}
	return total
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return models.NotAvailable
	}
	return value
}
