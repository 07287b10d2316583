package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// Product is one sellable catalog record. It is never mutated after ingestion.
type Product struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// SameProduct reports whether two records share an identity (case-insensitive name).
func SameProduct(a, b Product) bool {
	return NameKey(a.Name) == NameKey(b.Name)
}

// NameKey is the identity key for a product name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Document renders the record in the colon-delimited line format used for
// indexing and for search results.
func (p Product) Document() string {
	return fmt.Sprintf("%s: %s\n%s: %s\n%s: %s\n%s: %s",
		FieldCategory, p.Category,
		FieldProduct, p.Name,
		FieldPrice, p.Price,
		FieldDescription, p.Description,
	)
}

// ParsePrice converts currency text such as "$1,299.99" into a decimal amount.
func ParsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty price", contractx.ErrPriceError)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a currency amount", contractx.ErrPriceError, raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", contractx.ErrPriceError, raw)
	}
	return amount, nil
}

// FormatCurrency renders an amount as "$699.00".
func FormatCurrency(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}
