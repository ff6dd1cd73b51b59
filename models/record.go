package models

// UnknownDate marks an order whose date could not be resolved.
const UnknownDate = "unknown"

// NotAvailable fills missing textual fields in the flat export.
const NotAvailable = "N/A"

// NormalizedOrder is the classifier's view of a RawOrder.
type NormalizedOrder struct {
	OrderID    string
	Date       string // 2006-01-02 or UnknownDate
	Year       string // four digit year or UnknownDate
	Status     string
	Subtotal   int64
	FinalTotal int64
	Tracking   string
	Lines      []OrderLine
}

// OrderLine is one (shop, item) pair of an order.
type OrderLine struct {
	ShopName string
	ShopID   string
	Item     LineItem
}

// FlatRecord is one row of the tabular export.
type FlatRecord struct {
	OrderID         string `csv:"Order ID" json:"order_id"`
	OrderDate       string `csv:"Order Date" json:"order_date"`
	OrderStatus     string `csv:"Order Status" json:"order_status"`
	ShopName        string `csv:"Shop Name" json:"shop_name"`
	ShopID          string `csv:"Shop ID" json:"shop_id"`
	ItemName        string `csv:"Item Name" json:"item_name"`
	Model           string `csv:"Model/Variant" json:"model"`
	Quantity        int    `csv:"Quantity" json:"quantity"`
	ItemPrice       string `csv:"Item Price" json:"item_price"`
	ItemTotal       string `csv:"Item Total" json:"item_total"`
	OrderSubtotal   string `csv:"Order Subtotal" json:"order_subtotal"`
	OrderFinalTotal string `csv:"Order Final Total" json:"order_final_total"`
	ItemID          string `csv:"Item ID" json:"item_id"`
	TrackingInfo    string `csv:"Tracking Info" json:"tracking_info"`
}

// Severity classifies a progress message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Progress is a human readable update pushed to the host while collecting.
type Progress struct {
	Message  string
	Severity Severity
	Page     int
	Offset   int
	Orders   int
	Pages    int
}
