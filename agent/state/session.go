package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/cart"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// SessionState is everything one shopper's conversation owns: the cart,
// the checkout progress and the transcript.
type SessionState struct {
	SessionID string `json:"session_id"`

	Cart       cart.Cart `json:"cart"`
	Checkout   Checkout  `json:"checkout"`
	Transcript []Message `json:"transcript,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckoutStage string

const (
	CheckoutIdle                  CheckoutStage = ""
	CheckoutAwaitingAddress       CheckoutStage = "awaiting_address"
	CheckoutAwaitingPaymentMethod CheckoutStage = "awaiting_payment_method"
)

// Slots the checkout can be blocked on.
const (
	SlotShippingAddress = "shipping_address"
	SlotPaymentMethod   = "payment_method"
)

const (
	AskShippingAddress = "Could you please provide your shipping address to proceed with the order?"
	AskPaymentMethod   = "How would you like to pay? (Cash/Credit card)"
)

// Checkout tracks an order between MakeOrder and payment method choice.
// A non-idle checkout is blocked on Missing and asks NextQuestion.
type Checkout struct {
	// ID names the order this checkout places. It is kept across retries of
	// the same checkout so a repeated payment choice cannot place twice.
	ID            string        `json:"id,omitempty"`
	Stage         CheckoutStage `json:"stage,omitempty"`
	Address       string        `json:"address,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	Missing       []string      `json:"missing,omitempty"`
	NextQuestion  string        `json:"next_question,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}

var (
	ErrCheckoutNotStarted = errors.New("no checkout in progress")
	ErrAddressRequired    = errors.New("shipping address is required")
	ErrInvalidTransition  = errors.New("invalid checkout transition")
)

func (c *Checkout) Active() bool {
	return c != nil && c.Stage != CheckoutIdle
}

func (c *Checkout) SetMissing(missing []string, nextQuestion string) {
	c.Missing = missing
	if len(missing) == 0 {
		c.NextQuestion = ""
		return
	}
	c.NextQuestion = nextQuestion
}

// Start (re)opens checkout and asks for the shipping address. A previously
// collected address is dropped so the shopper confirms it for this order.
// A checkout that is already open keeps its ID.
func (c *Checkout) Start(now time.Time) {
	if !c.Active() || c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Stage = CheckoutAwaitingAddress
	c.Address = ""
	c.PaymentMethod = ""
	c.SetMissing([]string{SlotShippingAddress}, AskShippingAddress)
	c.UpdatedAt = now.UTC()
}

func (c *Checkout) SetAddress(address string, now time.Time) error {
	if !c.Active() {
		return ErrCheckoutNotStarted
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: %w", contractx.ErrInvalidInput, ErrAddressRequired)
	}
	c.Address = address
	c.Stage = CheckoutAwaitingPaymentMethod
	c.SetMissing([]string{SlotPaymentMethod}, AskPaymentMethod)
	c.UpdatedAt = now.UTC()
	return nil
}

// ReadyForPayment reports whether a payment method may be chosen.
func (c *Checkout) ReadyForPayment() error {
	switch {
	case !c.Active():
		return ErrCheckoutNotStarted
	case c.Stage != CheckoutAwaitingPaymentMethod || c.Address == "":
		return ErrAddressRequired
	default:
		return nil
	}
}

func (c *Checkout) Reset() {
	*c = Checkout{}
}

// Pending describes a blocked checkout for the reasoning engine, or "" when idle.
func (c *Checkout) Pending() string {
	switch c.Stage {
	case CheckoutAwaitingAddress:
		return "Checkout is waiting for the customer's shipping address. " +
			"If the customer provides one, call set_shipping_address with it."
	case CheckoutAwaitingPaymentMethod:
		return fmt.Sprintf("Checkout will ship to %q and is waiting for a payment method (Cash or Credit card). "+
			"If the customer chooses one, call choose_payment_method with it.", c.Address)
	default:
		return ""
	}
}

func (c *Checkout) Validate() error {
	switch c.Stage {
	case CheckoutIdle:
		return nil
	case CheckoutAwaitingAddress:
	case CheckoutAwaitingPaymentMethod:
		if strings.TrimSpace(c.Address) == "" {
			return fmt.Errorf("%w: stage %s without address", ErrInvalidTransition, c.Stage)
		}
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, c.Stage)
	}
	if len(c.Missing) == 0 || c.NextQuestion == "" {
		return fmt.Errorf("checkout stage %s must have missing and next_question", c.Stage)
	}
	return nil
}

/* -------------------------- SessionState helpers ------------------------- */

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *SessionState) AppendMessage(role, content string, now time.Time) {
	s.Transcript = append(s.Transcript, Message{
		Role:      role,
		Content:   content,
		Timestamp: now.UTC(),
	})
	s.Touch(now)
}

// TrimTranscript drops the oldest messages beyond limit. A limit < 1 keeps everything.
func (s *SessionState) TrimTranscript(limit int) {
	if limit < 1 || len(s.Transcript) <= limit {
		return
	}
	s.Transcript = append([]Message(nil), s.Transcript[len(s.Transcript)-limit:]...)
}

// History returns the last window transcript messages as reasoning turns.
// window <= 0 returns the whole transcript.
func (s *SessionState) History(window int) []contractx.Turn {
	msgs := s.Transcript
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	turns := make([]contractx.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, contractx.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func (s *SessionState) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	for i, m := range s.Transcript {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("transcript[%d] has unknown role %q", i, m.Role)
		}
	}
	return s.Checkout.Validate()
}
