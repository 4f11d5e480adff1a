package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// ParsedItem is one purchased product entry extracted from a receipt
type ParsedItem struct {
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ParseResult contains the structured information extracted from a receipt
// image. Date and time are passed through in the backend's own format.
type ParseResult struct {
	Merchant  string       `json:"merchant"`
	Date      string       `json:"date"`
	Time      string       `json:"time"`
	LineItems []ParsedItem `json:"line_items"`
}

// Parser defines the interface for receipt parsing backends
type Parser interface {
	// ParseReceipt analyzes a receipt image/PDF and extracts its contents
	ParseReceipt(ctx context.Context, imageData []byte, contentType string) (*ParseResult, error)
	// Close closes the parser and releases resources
	Close() error
}
