// Package models defines data structures for the order collector.
package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexString decodes a JSON string or number into its textual form.
// Order, shop and item identifiers arrive as either depending on the endpoint.
type FlexString string

// UnmarshalJSON accepts strings, numbers and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the identifier text.
func (f FlexString) String() string {
	return string(f)
}

// FlexInt decodes a JSON number or numeric string into an integer. Values
// that are neither decode as zero so one drifted field does not fail a page.
type FlexInt int64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		*f = FlexInt(v)
	}
	return nil
}

// Int64 returns the value as int64.
func (f FlexInt) Int64() int64 {
	return int64(f)
}

// PagePayload mirrors the envelope returned by the order list endpoint.
type PagePayload struct {
	Data *struct {
		OrderData *struct {
			DetailsList []RawOrder `json:"details_list"`
		} `json:"order_data"`
	} `json:"data"`
}

// Orders returns the orders of the page and whether the details list was present.
func (p PagePayload) Orders() ([]RawOrder, bool) {
	if p.Data == nil || p.Data.OrderData == nil || p.Data.OrderData.DetailsList == nil {
		return nil, false
	}
	return p.Data.OrderData.DetailsList, true
}

// RawOrder is one entry of details_list.
type RawOrder struct {
	InfoCard InfoCard    `json:"info_card"`
	Status   OrderStatus `json:"status"`
	Shipping Shipping    `json:"shipping"`
}

// InfoCard carries the order identifier, totals and shop cards.
type InfoCard struct {
	OrderID        FlexString `json:"order_id"`
	Subtotal       FlexInt    `json:"subtotal"`
	FinalTotal     FlexInt    `json:"final_total"`
	OrderListCards []ShopCard `json:"order_list_cards"`
}

// OrderStatus holds the label shown in the list view.
type OrderStatus struct {
	ListViewStatusLabel struct {
		Text string `json:"text"`
	} `json:"list_view_status_label"`
}

// Shipping holds the tracking block.
type Shipping struct {
	TrackingInfo struct {
		Description string  `json:"description"`
		CTime       FlexInt `json:"ctime"`
	} `json:"tracking_info"`
}

// ShopCard groups the items bought from one shop.
type ShopCard struct {
	ShopInfo struct {
		ShopID   FlexString `json:"shop_id"`
		ShopName string     `json:"shop_name"`
	} `json:"shop_info"`
	ProductInfo struct {
		ItemGroups []ItemGroup `json:"item_groups"`
	} `json:"product_info"`
}

// ItemGroup is a bundle of line items inside a shop card.
type ItemGroup struct {
	Items []LineItem `json:"items"`
}

// LineItem is a single purchased product. Prices are minor units scaled by 100000.
type LineItem struct {
	Name       string     `json:"name"`
	ModelName  string     `json:"model_name"`
	Amount     FlexInt    `json:"amount"`
	ItemPrice  FlexInt    `json:"item_price"`
	OrderPrice FlexInt    `json:"order_price"`
	ItemID     FlexString `json:"item_id"`
}

// Quantity returns the purchased amount, defaulting to one.
func (l LineItem) Quantity() int {
	if l.Amount <= 0 {
		return 1
	}
	return int(l.Amount)
}

// RawPage is one API response for a limit/offset window.
// Raw keeps the payload byte-for-byte; Payload is its decoded view.
type RawPage struct {
	Offset  int
	Raw     json.RawMessage
	Payload PagePayload
}

// Orders returns the decoded orders of the page.
func (p *RawPage) Orders() []RawOrder {
	if p == nil {
		return nil
	}
	orders, _ := p.Payload.Orders()
	return orders
}

// MarshalJSON emits the remote payload unchanged.
func (p *RawPage) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return json.Marshal(p.Payload)
	}
	return p.Raw, nil
}

// String helps when logging pages.
func (p *RawPage) String() string {
	return "offset=" + strconv.Itoa(p.Offset) + " orders=" + strconv.Itoa(len(p.Orders()))
}
