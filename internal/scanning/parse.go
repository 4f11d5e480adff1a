package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseResultJSON extracts a ParseResult from an LLM text response. The
// response may wrap the JSON object in markdown fences or surrounding prose.
func parseResultJSON(text string) (*ParseResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var result ParseResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	normalizeResult(&result)
	return &result, nil
}

// normalizeResult cleans up a decoded parse result: trims text fields,
// defaults a missing merchant, drops empty items and backfills missing
// subtotals from quantity and unit price.
func normalizeResult(result *ParseResult) {
	result.Merchant = strings.TrimSpace(result.Merchant)
	if result.Merchant == "" {
		result.Merchant = "Unknown Merchant"
	}
	result.Date = strings.TrimSpace(result.Date)
	result.Time = strings.TrimSpace(result.Time)

	items := make([]ParsedItem, 0, len(result.LineItems))
	for _, item := range result.LineItems {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" && item.Subtotal.IsZero() && item.UnitPrice.IsZero() {
			continue
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if item.Subtotal.IsZero() && !item.UnitPrice.IsZero() {
			item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}
		items = append(items, item)
	}
	result.LineItems = items
}
