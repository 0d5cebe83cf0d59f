package invoicing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrItemsCorrupt is returned when a stored items blob is neither JSON nor a legacy literal.
var ErrItemsCorrupt = errors.New("invoicing: stored invoice items are unreadable")

// storedItem is the on-disk shape. Money is written as JSON numbers.
type storedItem struct {
	ProductID   string      `json:"product_id"`
	SKU         string      `json:"sku,omitempty"`
	ProductName string      `json:"product_name"`
	Quantity    json.Number `json:"quantity"`
	Price       json.Number `json:"price"`
	Total       json.Number `json:"total"`
}

// EncodeItems serialises line items for the invoices.items column.
func EncodeItems(items []LineItem) (string, error) {
	out := make([]storedItem, 0, len(items))
	for _, it := range items {
		out = append(out, storedItem{
			ProductID:   it.ProductID,
			SKU:         it.SKU,
			ProductName: it.ProductName,
			Quantity:    json.Number(fmt.Sprint(it.Quantity)),
			Price:       json.Number(it.Price.String()),
			Total:       json.Number(it.Total.String()),
		})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("invoicing: encode items: %w", err)
	}
	return string(raw), nil
}

// DecodeItems reads an items blob: JSON first, then the legacy literal format.
// A blank blob decodes to no items. Anything else that fails both readers is ErrItemsCorrupt.
func DecodeItems(raw string) ([]LineItem, error) {
	if strings.TrimSpace(raw) == "" {
		return []LineItem{}, nil
	}
	var stored []storedItem
	jsonErr := json.Unmarshal([]byte(raw), &stored)
	if jsonErr == nil {
		return fromStored(stored)
	}
	value, legacyErr := parseLegacyLiteral(raw)
	if legacyErr != nil {
		return nil, fmt.Errorf("%w: json: %v; legacy: %v", ErrItemsCorrupt, jsonErr, legacyErr)
	}
	items, err := fromLegacy(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrItemsCorrupt, err)
	}
	return items, nil
}

func fromStored(stored []storedItem) ([]LineItem, error) {
	items := make([]LineItem, 0, len(stored))
	for i, s := range stored {
		qty, err := quantityOf(string(s.Quantity))
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrItemsCorrupt, i, err)
		}
		price, err := moneyOf(string(s.Price))
		if err != nil {
			return nil, fmt.Errorf("%w: item %d price: %v", ErrItemsCorrupt, i, err)
		}
		total, err := moneyOf(string(s.Total))
		if err != nil {
			return nil, fmt.Errorf("%w: item %d total: %v", ErrItemsCorrupt, i, err)
		}
		items = append(items, LineItem{
			ProductID:   s.ProductID,
			SKU:         s.SKU,
			ProductName: s.ProductName,
			Quantity:    qty,
			Price:       price,
			Total:       total,
		})
	}
	return items, nil
}

func fromLegacy(value any) ([]LineItem, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("legacy items must be a list, got %T", value)
	}
	items := make([]LineItem, 0, len(list))
	for i, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("legacy item %d must be a dict, got %T", i, el)
		}
		var it LineItem
		var err error
		it.ProductID, _ = m["product_id"].(string)
		it.SKU, _ = m["sku"].(string)
		it.ProductName, _ = m["product_name"].(string)
		if it.Quantity, err = quantityOf(numberText(m["quantity"])); err != nil {
			return nil, fmt.Errorf("legacy item %d: %v", i, err)
		}
		if it.Price, err = moneyOf(numberText(m["price"])); err != nil {
			return nil, fmt.Errorf("legacy item %d price: %v", i, err)
		}
		if it.Total, err = moneyOf(numberText(m["total"])); err != nil {
			return nil, fmt.Errorf("legacy item %d total: %v", i, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func numberText(v any) string {
	switch n := v.(type) {
	case pyNumber:
		return string(n)
	case string:
		return n
	case nil:
		return ""
	default:
		return fmt.Sprint(n)
	}
}

func quantityOf(text string) (int, error) {
	if text == "" {
		return 0, errors.New("quantity missing")
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("quantity %s is not whole", text)
	}
	return int(d.IntPart()), nil
}

func moneyOf(text string) (decimal.Decimal, error) {
	if text == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(text)
}
