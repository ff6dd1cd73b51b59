package parser

import (
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-orders/models"
)

func orderWith(id string, ctime int64) models.RawOrder {
	var order models.RawOrder
	order.InfoCard.OrderID = models.FlexString(id)
	order.Shipping.TrackingInfo.CTime = models.FlexInt(ctime)
	return order
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		name  string
		order models.RawOrder
		date  string
		year  string
	}{
		{
			name:  "seconds prefix of long id",
			order: orderWith("1700000000123456", 0),
			date:  "2023-11-14",
			year:  "2023",
		},
		{
			name:  "ctime wins over id",
			order: orderWith("1700000000123456", 1600000000),
			date:  "2020-09-13",
			year:  "2020",
		},
		{
			name:  "short id is unknown",
			order: orderWith("12345", 0),
			date:  models.UnknownDate,
			year:  models.UnknownDate,
		},
		{
			name:  "implausible prefix",
			order: orderWith("0001700000000999", 0),
			date:  models.UnknownDate,
			year:  models.UnknownDate,
		},
		{
			name:  "far future prefix",
			order: orderWith("9999999999999000", 0),
			date:  models.UnknownDate,
			year:  models.UnknownDate,
		},
		{
			name:  "non numeric id",
			order: orderWith("ABCDEFGHIJKLMNOP", 0),
			date:  models.UnknownDate,
			year:  models.UnknownDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveDate(tt.order); got != tt.date {
				t.Fatalf("ResolveDate = %q, want %q", got, tt.date)
			}
			if got := OrderYear(tt.order); got != tt.year {
				t.Fatalf("OrderYear = %q, want %q", got, tt.year)
			}
		})
	}
}

func TestResolveDateRequiresLongID(t *testing.T) {
	for _, id := range []string{"1700000000000", "17000000001234", "0170000000000123"} {
		if got := ResolveDate(orderWith(id, 0)); got != models.UnknownDate {
			t.Fatalf("ResolveDate(%q) = %q, want unknown", id, got)
		}
	}
}

func TestOlderThan(t *testing.T) {
	old := orderWith("", 1600000000)
	if !OlderThan(old, "2023") {
		t.Fatalf("2020 order should be older than 2023")
	}
	if OlderThan(old, "2020") {
		t.Fatalf("2020 order is not older than 2020")
	}
	unknown := orderWith("42", 0)
	if OlderThan(unknown, "2023") {
		t.Fatalf("unknown year can never be older")
	}
	if OlderThan(old, "all") {
		t.Fatalf("all filter has no older orders")
	}
}

func TestDecodePageKeepsRaw(t *testing.T) {
	body := []byte(`{"data":{"order_data":{"details_list":[{"info_card":{"order_id":1700000000123456,"final_total":1234500000}}]}},"extra":true}`)
	page, err := DecodePage(body, 10)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Offset != 10 {
		t.Fatalf("offset = %d, want 10", page.Offset)
	}
	orders := page.Orders()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].InfoCard.OrderID != "1700000000123456" {
		t.Fatalf("order id = %q", orders[0].InfoCard.OrderID)
	}
	if string(page.Raw) != string(body) {
		t.Fatalf("raw payload was not preserved")
	}
	if _, err := DecodePage([]byte("<html>"), 0); err == nil {
		t.Fatalf("expected decode error for html body")
	}
}

func TestNormalizeAndFlatten(t *testing.T) {
	body := `{"data":{"order_data":{"details_list":[
		{"info_card":{"order_id":"1700000000123456","subtotal":2000000,"final_total":2150000,
		  "order_list_cards":[
		    {"shop_info":{"shop_id":77,"shop_name":"Gadget Hub"},
		     "product_info":{"item_groups":[{"items":[
		        {"name":"Cable","model_name":"1m","amount":2,"item_price":500000,"order_price":1000000,"item_id":9001},
		        {"name":"Plug","amount":0,"item_price":1000000,"order_price":1000000,"item_id":"9002"}]}]}},
		    {"shop_info":{"shop_name":"Books"},
		     "product_info":{"item_groups":[{"items":[{"name":"Novel","amount":1}]}]}}]},
		 "status":{"list_view_status_label":{"text":"Completed"}},
		 "shipping":{"tracking_info":{"description":"Delivered"}}}]}}}`

	page, err := DecodePage([]byte(body), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	normalized := Normalize(page)
	if len(normalized) != 1 {
		t.Fatalf("normalized = %d, want 1", len(normalized))
	}
	order := normalized[0]
	if order.Status != "Completed" || order.Date != "2023-11-14" || order.Year != "2023" {
		t.Fatalf("unexpected order header: %+v", order)
	}

	rows := Flatten(order)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	first := rows[0]
	if first.ShopName != "Gadget Hub" || first.ShopID != "77" || first.Quantity != 2 {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.ItemPrice != "5.00" || first.ItemTotal != "10.00" || first.OrderFinalTotal != "21.50" {
		t.Fatalf("unexpected amounts: %+v", first)
	}
	if rows[1].Model != models.NotAvailable || rows[1].Quantity != 1 || rows[1].ItemID != "9002" {
		t.Fatalf("unexpected defaults: %+v", rows[1])
	}
	if rows[2].ShopID != models.NotAvailable || rows[2].TrackingInfo != "Delivered" {
		t.Fatalf("unexpected third row: %+v", rows[2])
	}
	if got := CountItems(page.Orders()[0]); got != 4 {
		t.Fatalf("CountItems = %d, want 4", got)
	}
}

func TestDecodePageToleratesNumericDrift(t *testing.T) {
	body := `{"data":{"order_data":{"details_list":[
		{"info_card":{"order_id":"1700000000123456","subtotal":"2000000","final_total":true,
		  "order_list_cards":[{"shop_info":{"shop_name":"Gadget Hub"},
		    "product_info":{"item_groups":[{"items":[
		      {"name":"Cable","amount":"3","item_price":"500000","order_price":{"v":1}}]}]}}]},
		 "shipping":{"tracking_info":{"ctime":"1600000000"}}}]}}}`

	page, err := DecodePage([]byte(body), 10)
	if err != nil {
		t.Fatalf("drifted numeric fields should not fail the page: %v", err)
	}
	order := NormalizeOrder(page.Orders()[0])
	if order.Date != "2020-09-13" {
		t.Fatalf("ctime given as string should still win, got %s", order.Date)
	}
	rows := Flatten(order)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Quantity != 3 || row.ItemPrice != "5.00" || row.OrderSubtotal != "20.00" {
		t.Fatalf("numeric strings should decode: %+v", row)
	}
	if row.ItemTotal != "0.00" || row.OrderFinalTotal != "0.00" {
		t.Fatalf("non-numeric values should degrade to zero: %+v", row)
	}
}

func TestFlattenUnknownDate(t *testing.T) {
	order := NormalizeOrder(orderWith("", 0))
	if order.OrderID != models.NotAvailable || order.Date != models.UnknownDate {
		t.Fatalf("unexpected sentinel values: %+v", order)
	}
	if rows := Flatten(order); len(rows) != 0 {
		t.Fatalf("order without items should not produce rows")
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 100000, 1234500000, 99999, 150, 123456789} {
		display := FormatAmount(minor)
		parsed, err := ParseAmount(display)
		if err != nil {
			t.Fatalf("parse %q: %v", display, err)
		}
		if FormatAmount(parsed) != display {
			t.Fatalf("round trip %d -> %q -> %d changed value", minor, display, parsed)
		}
		if diff := parsed - minor; diff > 500 || diff < -500 {
			t.Fatalf("round trip %d drifted beyond two decimals: %d", minor, parsed)
		}
	}
	for _, display := range []string{"1,234.50", "RM 1,234.50", "$1,234.50", " € 1234.50"} {
		if got, err := ParseAmount(display); err != nil || got != 123450000 {
			t.Fatalf("ParseAmount(%q) = %d, %v", display, got, err)
		}
	}
	if got, _ := ParseAmount("USD -2.00"); got != -200000 {
		t.Fatalf("ParseAmount negative = %d", got)
	}
	if _, err := ParseAmount("abc"); err == nil || !strings.Contains(err.Error(), "parse amount") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
