package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "Cash"
	PaymentCreditCard PaymentMethod = "Credit card"
)

// ParsePaymentMethod accepts "cash" or "credit card" in any case or spacing.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	key = strings.ReplaceAll(key, "-", " ")
	switch key {
	case "cash":
		return PaymentCash, nil
	case "credit card", "creditcard", "card":
		return PaymentCreditCard, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", contractx.ErrInvalidInput, raw)
	}
}

// Line is one product as it was priced when the order was placed.
type Line struct {
	Product string `json:"product"`
	Price   string `json:"price"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     string          `json:"session_id"`
	Lines         []Line          `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	Address       string          `json:"address"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LinesFrom snapshots cart products into order lines.
func LinesFrom(products []catalog.Product) []Line {
	lines := make([]Line, 0, len(products))
	for _, p := range products {
		lines = append(lines, Line{Product: p.Name, Price: p.Price})
	}
	return lines
}

// Summary renders the order summary shown to the shopper before checkout.
func Summary(products []catalog.Product, total decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("Your order contains the following products:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s (Price: %s)\n", p.Name, p.Price)
	}
	fmt.Fprintf(&b, "\nTotal price: %s", catalog.FormatCurrency(total))
	return b.String()
}

// Confirmation is the closing message once an order has been placed.
func (o Order) Confirmation() string {
	return fmt.Sprintf("Your order price is %s. It will be delivered to %s. Thank you for your order!",
		catalog.FormatCurrency(o.Total), o.Address)
}
