package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/cart"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

const (
	DefaultSearchTopK = 2
	MaxSearchTopK     = 2
)

const (
	msgInvalidQuery  = "Please provide a valid product name to search for."
	msgEmptyCart     = "Your cart is empty, please add some products to your cart and come back again."
	msgNoCheckout    = "There is no order in progress. Please ask me to make an order first."
	msgNeedAddress   = "Please provide your shipping address first."
	msgInvalidMethod = "Sorry, we only accept Cash or Credit card."
)

// ClampTopK keeps the search result count within 1..MaxSearchTopK.
func ClampTopK(k int) int {
	switch {
	case k < 1:
		return DefaultSearchTopK
	case k > MaxSearchTopK:
		return MaxSearchTopK
	default:
		return k
	}
}

var _ contractx.ToolExecutor = (*Toolset)(nil)

// Toolset runs the commerce tools against one session. It is built per turn
// and mutates the session it was given.
type Toolset struct {
	searcher index.Searcher
	session  *statex.SessionState
	orders   *order.Service
	searchK  int
	now      func() time.Time
	fallback contractx.ToolExecutor
}

type Option func(*Toolset)

func WithSearchTopK(k int) Option {
	return func(t *Toolset) {
		t.searchK = ClampTopK(k)
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Toolset) {
		if now != nil {
			t.now = now
		}
	}
}

func New(searcher index.Searcher, session *statex.SessionState, orders *order.Service, opts ...Option) *Toolset {
	if orders == nil {
		orders = order.NewService(nil)
	}
	t := &Toolset{
		searcher: searcher,
		session:  session,
		orders:   orders,
		searchK:  DefaultSearchTopK,
		now:      time.Now,
		fallback: DefaultExecutor(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *Toolset) Execute(ctx context.Context, req contractx.ToolRequest) contractx.ToolResult {
	input := decodeInput(req.Kind, req.Input)
	logger := log.With().Str("tool", req.Kind.String()).Str("session_id", t.sessionID()).Logger()
	logger.Debug().Str("input", input).Msg("executing tool")

	var res contractx.ToolResult
	switch req.Kind {
	case contractx.ToolSearch:
		res = t.search(ctx, input)
	case contractx.ToolAddToCart:
		res = t.addToCart(ctx, input)
	case contractx.ToolTotal:
		res = t.total()
	case contractx.ToolMakeOrder:
		res = t.makeOrder()
	case contractx.ToolSetShippingAddress:
		res = t.setShippingAddress(input)
	case contractx.ToolChoosePaymentMethod:
		res = t.choosePaymentMethod(ctx, input)
	default:
		return t.fallback.Execute(ctx, req)
	}
	res.Tool = req.Kind.String()

	if res.Failed() {
		logger.Info().Str("code", res.Code).Str("error", res.Error).Msg("tool reported failure")
	}
	return res
}

func (t *Toolset) search(ctx context.Context, query string) contractx.ToolResult {
	if query == "" {
		return failure(contractx.CodeInvalidInput, msgInvalidQuery)
	}
	products, err := t.searcher.Search(ctx, query, t.searchK)
	if err != nil {
		return searchFailure(err)
	}
	if len(products) == 0 {
		return contractx.ToolResult{Output: fmt.Sprintf("No products matched '%s'.", query)}
	}

	docs := make([]string, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}
	return contractx.ToolResult{Output: strings.Join(docs, "\n\n")}
}

// addToCart trusts the top search hit for the shopper's wording.
func (t *Toolset) addToCart(ctx context.Context, name string) contractx.ToolResult {
	if name == "" {
		return failure(contractx.CodeInvalidInput, msgInvalidQuery)
	}
	products, err := t.searcher.Search(ctx, name, 1)
	if err != nil {
		return searchFailure(err)
	}
	if len(products) == 0 {
		return failure(contractx.CodeNotFound, fmt.Sprintf("Sorry, I couldn't find '%s'.", name))
	}

	p := products[0]
	if t.session.Cart.Add(p) == cart.AlreadyPresent {
		return contractx.ToolResult{Output: fmt.Sprintf("%s is already in your cart.", p.Name)}
	}
	return contractx.ToolResult{Output: fmt.Sprintf("%s has been added to your cart.", p.Name)}
}

func (t *Toolset) total() contractx.ToolResult {
	total, err := t.session.Cart.Total()
	if err != nil {
		return priceFailure(err)
	}
	s := total.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return contractx.ToolResult{Output: s}
}

func (t *Toolset) makeOrder() contractx.ToolResult {
	if t.session.Cart.IsEmpty() {
		return contractx.ToolResult{Output: msgEmptyCart}
	}
	total, err := t.session.Cart.Total()
	if err != nil {
		return priceFailure(err)
	}

	t.session.Checkout.Start(t.now())
	summary := order.Summary(t.session.Cart.List(), total)
	return contractx.ToolResult{Output: summary + "\n\n" + t.session.Checkout.NextQuestion}
}

func (t *Toolset) setShippingAddress(address string) contractx.ToolResult {
	if !t.session.Checkout.Active() {
		return failure(contractx.CodeCheckoutState, msgNoCheckout)
	}
	if err := t.session.Checkout.SetAddress(address, t.now()); err != nil {
		if errors.Is(err, contractx.ErrInvalidInput) {
			return failure(contractx.CodeInvalidInput, "Please provide a valid shipping address.")
		}
		return failure(contractx.CodeCheckoutState, msgNoCheckout)
	}
	return contractx.ToolResult{Output: fmt.Sprintf("Your order will be shipped to %s. %s",
		t.session.Checkout.Address, t.session.Checkout.NextQuestion)}
}

func (t *Toolset) choosePaymentMethod(ctx context.Context, raw string) contractx.ToolResult {
	if err := t.session.Checkout.ReadyForPayment(); err != nil {
		if errors.Is(err, statex.ErrCheckoutNotStarted) {
			return failure(contractx.CodeCheckoutState, msgNoCheckout)
		}
		return failure(contractx.CodeCheckoutState, msgNeedAddress)
	}
	method, err := order.ParsePaymentMethod(raw)
	if err != nil {
		return failure(contractx.CodeInvalidInput, msgInvalidMethod)
	}
	if t.session.Cart.IsEmpty() {
		t.session.Checkout.Reset()
		return contractx.ToolResult{Output: msgEmptyCart}
	}

	// Sessions saved before checkout IDs existed fall back to a fresh ID.
	checkoutID, _ := uuid.Parse(t.session.Checkout.ID)
	placed, err := t.orders.Place(ctx, order.PlaceRequest{
		CheckoutID:    checkoutID,
		SessionID:     t.sessionID(),
		Products:      t.session.Cart.List(),
		Address:       t.session.Checkout.Address,
		PaymentMethod: method,
	})
	if err != nil {
		if errors.Is(err, contractx.ErrPriceError) {
			return priceFailure(err)
		}
		log.Error().Err(err).Str("session_id", t.sessionID()).Msg("place order failed")
		return failure(contractx.CodeOrderFailed, "Sorry, I couldn't place your order right now. Please try again.")
	}

	t.session.Cart.Clear()
	t.session.Checkout.Reset()
	t.session.Touch(t.now())
	return contractx.ToolResult{Output: placed.Confirmation()}
}

func (t *Toolset) sessionID() string {
	if t.session == nil {
		return ""
	}
	return t.session.SessionID
}

// DefaultExecutor answers tool kinds this build does not implement.
func DefaultExecutor() contractx.ToolExecutor {
	return unavailableExecutor{}
}

type unavailableExecutor struct{}

func (unavailableExecutor) Execute(_ context.Context, req contractx.ToolRequest) contractx.ToolResult {
	return contractx.ToolResult{
		Tool:  req.Kind.String(),
		Error: fmt.Sprintf("tool=%s is unavailable", req.Kind),
		Code:  contractx.CodeUnknownTool,
	}
}

var inputParams = map[contractx.ToolKind]string{
	contractx.ToolSearch:              "query",
	contractx.ToolAddToCart:           "product",
	contractx.ToolSetShippingAddress:  "address",
	contractx.ToolChoosePaymentMethod: "method",
}

// decodeInput accepts either plain text or a JSON object keyed by the tool's
// parameter name, and strips the quoting and "None" placeholders the
// reasoning engine tends to emit around Action Input.
func decodeInput(kind contractx.ToolKind, raw string) string {
	if !kind.TakesInput() {
		return ""
	}
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(s), &args); err == nil {
			if v, ok := args[inputParams[kind]].(string); ok {
				s = v
			}
		}
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func failure(code, msg string) contractx.ToolResult {
	return contractx.ToolResult{Error: msg, Code: code}
}

func searchFailure(err error) contractx.ToolResult {
	if errors.Is(err, contractx.ErrInvalidInput) {
		return failure(contractx.CodeInvalidInput, msgInvalidQuery)
	}
	return failure(contractx.CodeSearchUnavailable,
		fmt.Sprintf("An unexpected error occurred during the search: %v", err))
}

func priceFailure(err error) contractx.ToolResult {
	return failure(contractx.CodePriceError,
		fmt.Sprintf("Error: Invalid price format or missing data in the cart. %v", err))
}

// Infos describes the commerce tools for the reasoning prompt.
func Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: contractx.ToolSearch.String(),
			Desc: "Search the electronics catalog and return matching products with category, price and description.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "Product name or description to search for", Required: true},
			}),
		},
		{
			Name: contractx.ToolAddToCart.String(),
			Desc: "Add a product to the cart after searching for it.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product": {Type: schema.String, Desc: "Name of the product to add", Required: true},
			}),
		},
		{
			Name: contractx.ToolTotal.String(),
			Desc: "Calculate the total price of items in the cart. Takes no input.",
		},
		{
			Name: contractx.ToolMakeOrder.String(),
			Desc: "Create an order summary with the products in the cart and the total price, then ask for the shipping address. Takes no input.",
		},
		{
			Name: contractx.ToolSetShippingAddress.String(),
			Desc: "Record the shipping address for the order in progress.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"address": {Type: schema.String, Desc: "Full shipping address", Required: true},
			}),
		},
		{
			Name: contractx.ToolChoosePaymentMethod.String(),
			Desc: "Choose Cash or Credit card for the order in progress and place the order.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"method": {Type: schema.String, Desc: "Cash or Credit card", Required: true, Enum: []string{"Cash", "Credit card"}},
			}),
		},
	}
}

// Describe renders tool infos as "name: description" lines.
func Describe(infos []*schema.ToolInfo) string {
	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", info.Name, info.Desc))
	}
	return strings.Join(lines, "\n")
}

// Names returns the tool names in prompt order.
func Names(infos []*schema.ToolInfo) []string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			names = append(names, info.Name)
		}
	}
	return names
}
