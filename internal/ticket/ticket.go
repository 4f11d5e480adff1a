package ticket

import (
	"github.com/shopspring/decimal"
)

// Ticket represents one scanned purchase receipt
type Ticket struct {
	ID        string          `json:"id"`
	Merchant  string          `json:"merchant"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	ImageURI  string          `json:"image_uri"`
	LineItems []LineItem      `json:"line_items"`
	Total     decimal.Decimal `json:"total"`
}

// LineItem represents one purchased product entry within a ticket
type LineItem struct {
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// RecomputeTotal derives Total from the line item subtotals. It is applied on
// every store read and before every store write; a total arriving from an
// external source is never trusted as-is.
func (t *Ticket) RecomputeTotal() {
	total := decimal.Zero
	for _, item := range t.LineItems {
		total = total.Add(item.Subtotal)
	}
	t.Total = total
}
