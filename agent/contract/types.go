package contract

import (
	"strings"
	"unicode"
)

// ToolKind enumerates the commerce tools the dispatcher may invoke.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolSearch
	ToolAddToCart
	ToolTotal
	ToolMakeOrder
	ToolSetShippingAddress
	ToolChoosePaymentMethod
)

var toolNames = map[ToolKind]string{
	ToolSearch:              "search_products",
	ToolAddToCart:           "add_to_cart",
	ToolTotal:               "calculate_total",
	ToolMakeOrder:           "make_order",
	ToolSetShippingAddress:  "set_shipping_address",
	ToolChoosePaymentMethod: "choose_payment_method",
}

// toolAliases maps normalized names (lowercase, letters and digits only) to kinds.
// The reasoning engine tends to echo human-readable names from the prompt.
var toolAliases = map[string]ToolKind{
	"searchproducts":              ToolSearch,
	"search":                      ToolSearch,
	"searchforelectronicproducts": ToolSearch,
	"addtocart":                   ToolAddToCart,
	"calculatetotal":              ToolTotal,
	"calculatetotalprice":         ToolTotal,
	"total":                       ToolTotal,
	"getcarttotal":                ToolTotal,
	"carttotal":                   ToolTotal,
	"makeorder":                   ToolMakeOrder,
	"makeanorder":                 ToolMakeOrder,
	"setshippingaddress":          ToolSetShippingAddress,
	"shippingaddress":             ToolSetShippingAddress,
	"choosepaymentmethod":         ToolChoosePaymentMethod,
	"paymentmethod":               ToolChoosePaymentMethod,
}

func (k ToolKind) String() string {
	if name, ok := toolNames[k]; ok {
		return name
	}
	return "unknown"
}

// TakesInput reports whether the tool consumes its Action Input.
func (k ToolKind) TakesInput() bool {
	switch k {
	case ToolSearch, ToolAddToCart, ToolSetShippingAddress, ToolChoosePaymentMethod:
		return true
	default:
		return false
	}
}

// ToolKinds returns every known tool kind in declaration order.
func ToolKinds() []ToolKind {
	return []ToolKind{
		ToolSearch,
		ToolAddToCart,
		ToolTotal,
		ToolMakeOrder,
		ToolSetShippingAddress,
		ToolChoosePaymentMethod,
	}
}

// ParseToolKind resolves a tool name as written by the reasoning engine.
func ParseToolKind(name string) (ToolKind, bool) {
	key := normalizeToolName(name)
	if key == "" {
		return ToolUnknown, false
	}
	kind, ok := toolAliases[key]
	return kind, ok
}

func normalizeToolName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToolRequest is a single tool call with its raw textual input.
type ToolRequest struct {
	Kind  ToolKind `json:"kind"`
	Input string   `json:"input,omitempty"`
}

// ToolResult carries either an output or a user-facing error message, never both.
type ToolResult struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Text is what the dispatcher relays as the observation.
func (r ToolResult) Text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Output
}

func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Failure codes attached to ToolResult.Code.
const (
	CodeInvalidInput      = "invalid_input"
	CodeNotFound          = "not_found"
	CodePriceError        = "price_error"
	CodeSearchUnavailable = "search_unavailable"
	CodeCheckoutState     = "checkout_state"
	CodeOrderFailed       = "order_failed"
	CodeUnknownTool       = "unknown_tool"
)

// ToolInvocation records one tool call made during a turn.
type ToolInvocation struct {
	Tool   string     `json:"tool"`
	Input  string     `json:"input,omitempty"`
	Result ToolResult `json:"result"`
}

// DispatchState is a state of the per-turn dispatcher machine.
type DispatchState string

const (
	StateIdle           DispatchState = "idle"
	StateReceivedInput  DispatchState = "received_input"
	StateReasoning      DispatchState = "reasoning"
	StateToolInvocation DispatchState = "tool_invocation"
	StateFinalAnswer    DispatchState = "final_answer"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeParseError      Outcome = "parse_error"
	OutcomeLoopExceeded    Outcome = "loop_exceeded"
	OutcomeReasoningFailed Outcome = "reasoning_failed"
)

// ReasonRequest is everything the reasoning engine sees for one step.
type ReasonRequest struct {
	Input      string
	History    []Turn
	Scratchpad string
	Pending    string
}

// Turn is one transcript entry as handed to the reasoning engine.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
