package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
)

// AddResult reports what Add did with a product.
type AddResult int

const (
	Added AddResult = iota + 1
	AlreadyPresent
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Cart is the ordered list of products a session has selected.
// Product names are unique, compared case-insensitively.
type Cart struct {
	Items []catalog.Product `json:"items,omitempty"`
}

// Add appends p unless a product with the same name is already present.
func (c *Cart) Add(p catalog.Product) AddResult {
	for _, item := range c.Items {
		if catalog.SameProduct(item, p) {
			return AlreadyPresent
		}
	}
	c.Items = append(c.Items, p)
	return Added
}

// List returns a copy of the cart contents in insertion order.
func (c *Cart) List() []catalog.Product {
	if c == nil || len(c.Items) == 0 {
		return nil
	}
	out := make([]catalog.Product, len(c.Items))
	copy(out, c.Items)
	return out
}

func (c *Cart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

func (c *Cart) IsEmpty() bool {
	return c.Len() == 0
}

// Total sums the item prices. An unparseable price fails the whole total.
func (c *Cart) Total() (decimal.Decimal, error) {
	total := decimal.Zero
	if c == nil {
		return total, nil
	}
	for _, item := range c.Items {
		price, err := catalog.ParsePrice(item.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", item.Name, err)
		}
		total = total.Add(price)
	}
	return total, nil
}

func (c *Cart) Clear() {
	c.Items = nil
}
