package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/dispatcher"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

type scriptedReasoner struct {
	mu       sync.Mutex
	outputs  []string
	requests []contractx.ReasonRequest
}

func (s *scriptedReasoner) Reason(ctx context.Context, req contractx.ReasonRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.outputs) == 0 {
		return "", errors.New("script exhausted")
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return out, nil
}

type echoReasoner struct{}

func (echoReasoner) Reason(ctx context.Context, req contractx.ReasonRequest) (string, error) {
	return "Thought: Do I need to use a tool? No\nFinal Answer: echo " + req.Input, nil
}

type failingSaveStore struct {
	*statex.MemoryStore
	err error
}

func (f *failingSaveStore) Save(ctx context.Context, st *statex.SessionState) error {
	return f.err
}

// flakySaveStore fails the next Save once armed, then recovers.
type flakySaveStore struct {
	*statex.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (f *flakySaveStore) failNextSave() {
	f.mu.Lock()
	f.failing = true
	f.mu.Unlock()
}

func (f *flakySaveStore) Save(ctx context.Context, st *statex.SessionState) error {
	f.mu.Lock()
	failing := f.failing
	f.failing = false
	f.mu.Unlock()
	if failing {
		return statex.ErrStoreUnavailable
	}
	return f.MemoryStore.Save(ctx, st)
}

var testCatalog = []catalog.Product{
	{Category: "Smartphones", Name: "Pixel 9", Price: "$699", Description: "Google phone with Tensor G4 chip"},
	{Category: "Laptops", Name: "MacBook Air", Price: "$1,099.00", Description: "Apple laptop with M3 chip"},
	{Category: "Audio", Name: "AirPods Pro", Price: "$249", Description: "Apple wireless earbuds with noise cancellation"},
}

func newTestOrchestrator(
	t *testing.T,
	store statex.Store,
	reasoner contractx.Reasoner,
	repo order.Repository,
) *Orchestrator {
	t.Helper()

	ix, err := index.Build(context.Background(), index.NewHashEmbedder(0), testCatalog)
	if err != nil {
		t.Fatalf("index.Build() error = %v", err)
	}
	d, err := dispatcher.New(reasoner)
	if err != nil {
		t.Fatalf("dispatcher.New() error = %v", err)
	}

	o, err := New(store, d, ix, order.NewService(repo), Config{SearchTopK: 2, HistoryWindow: 10})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }
	return o
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	d, err := dispatcher.New(echoReasoner{})
	if err != nil {
		t.Fatalf("dispatcher.New() error = %v", err)
	}
	ix := index.New(index.NewHashEmbedder(0))

	if _, err := New(nil, d, ix, nil, Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(statex.NewMemoryStore(), nil, ix, nil, Config{}); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
	if _, err := New(statex.NewMemoryStore(), d, nil, nil, Config{}); err == nil {
		t.Fatal("expected error for nil searcher")
	}
}

func TestHandleMessageInvalidInput(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, statex.NewMemoryStore(), echoReasoner{}, nil)

	_, err := o.HandleMessage(context.Background(), "   ", "hello")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}

	_, err = o.HandleMessage(context.Background(), "s1", "    ")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestHandleMessagePersistsCartAcrossTurns(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	reasoner := &scriptedReasoner{outputs: []string{
		"Thought: Do I need to use a tool? Yes\nAction: add_to_cart\nAction Input: Pixel 9",
		"Thought: Do I need to use a tool? No\nFinal Answer: Pixel 9 is now in your cart.",
		"Thought: Do I need to use a tool? Yes\nAction: calculate_total\nAction Input: None",
		"Thought: Do I need to use a tool? No\nFinal Answer: Your total is $699.",
	}}
	o := newTestOrchestrator(t, store, reasoner, nil)
	ctx := context.Background()

	reply, err := o.HandleMessage(ctx, "session-1", "add pixel 9 to my cart")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Pixel 9 is now in your cart." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	out, err := o.HandleTurn(ctx, "session-1", "what's my total?")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != "Your total is $699." {
		t.Fatalf("unexpected reply: %q", out.Reply)
	}
	if len(out.Result.Invocations) != 1 || out.Result.Invocations[0].Result.Output != "699.0" {
		t.Fatalf("unexpected invocations: %+v", out.Result.Invocations)
	}

	saved, err := store.Load(ctx, "session-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.Cart.Len() != 1 || saved.Cart.Items[0].Name != "Pixel 9" {
		t.Fatalf("unexpected cart: %+v", saved.Cart.Items)
	}
	if len(saved.Transcript) != 4 {
		t.Fatalf("expected 4 transcript messages, got %d", len(saved.Transcript))
	}
	if saved.Transcript[0].Role != statex.RoleUser || saved.Transcript[1].Role != statex.RoleAssistant {
		t.Fatalf("unexpected transcript roles: %+v", saved.Transcript)
	}

	// The third reasoning call opens turn two and sees turn one as history.
	history := reasoner.requests[2].History
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	if history[0].Content != "add pixel 9 to my cart" || history[1].Content != "Pixel 9 is now in your cart." {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHandleMessageCheckoutFlow(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	repo := order.NewMemoryRepository()
	reasoner := &scriptedReasoner{outputs: []string{
		"Thought: Do I need to use a tool? Yes\nAction: add_to_cart\nAction Input: AirPods Pro",
		"Thought: Do I need to use a tool? Yes\nAction: make_order\nAction Input: None",
		"Thought: Do I need to use a tool? No\nFinal Answer: Where should we ship it?",
		"Thought: Do I need to use a tool? Yes\nAction: set_shipping_address\nAction Input: 1 Main St",
		"Thought: Do I need to use a tool? No\nFinal Answer: Cash or Credit card?",
		"Thought: Do I need to use a tool? Yes\nAction: choose_payment_method\nAction Input: cash",
		"Thought: Do I need to use a tool? No\nFinal Answer: Thank you for your order!",
	}}
	o := newTestOrchestrator(t, store, reasoner, repo)
	ctx := context.Background()

	for _, msg := range []string{"buy airpods pro", "1 Main St", "cash"} {
		if _, err := o.HandleMessage(ctx, "session-2", msg); err != nil {
			t.Fatalf("HandleMessage(%q) error = %v", msg, err)
		}
	}

	if !strings.Contains(reasoner.requests[3].Pending, "shipping address") {
		t.Fatalf("expected pending address prompt, got %q", reasoner.requests[3].Pending)
	}
	if !strings.Contains(reasoner.requests[5].Pending, "payment method") {
		t.Fatalf("expected pending payment prompt, got %q", reasoner.requests[5].Pending)
	}

	saved, err := store.Load(ctx, "session-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !saved.Cart.IsEmpty() {
		t.Fatalf("expected cart cleared after order, got %+v", saved.Cart.Items)
	}
	if saved.Checkout.Active() {
		t.Fatalf("expected checkout reset, got %+v", saved.Checkout)
	}

	orders, err := repo.ListBySession(ctx, "session-2")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if orders[0].Address != "1 Main St" || orders[0].PaymentMethod != order.PaymentCash {
		t.Fatalf("unexpected order: %+v", orders[0])
	}

	listed, err := o.Orders(ctx, "session-2")
	if err != nil {
		t.Fatalf("Orders() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != orders[0].ID {
		t.Fatalf("Orders() = %+v, want the placed order", listed)
	}
	none, err := o.Orders(ctx, "session-unknown")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("Orders(unknown) = %#v, %v; want empty list", none, err)
	}
	if _, err := o.Orders(ctx, " "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Orders(blank) error = %v, want ErrInvalidSession", err)
	}
}

func TestHandleMessageSaveFailure(t *testing.T) {
	t.Parallel()

	saveErr := errors.New("redis down")
	store := &failingSaveStore{MemoryStore: statex.NewMemoryStore(), err: saveErr}
	o := newTestOrchestrator(t, store, echoReasoner{}, nil)

	_, err := o.HandleMessage(context.Background(), "session-3", "hello")
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
}

func TestHandleMessageRetriedPaymentPlacesOneOrder(t *testing.T) {
	t.Parallel()

	store := &flakySaveStore{MemoryStore: statex.NewMemoryStore()}
	repo := order.NewMemoryRepository()
	reasoner := &scriptedReasoner{outputs: []string{
		"Thought: Do I need to use a tool? Yes\nAction: add_to_cart\nAction Input: AirPods Pro",
		"Thought: Do I need to use a tool? Yes\nAction: make_order\nAction Input: None",
		"Thought: Do I need to use a tool? No\nFinal Answer: Where should we ship it?",
		"Thought: Do I need to use a tool? Yes\nAction: set_shipping_address\nAction Input: 1 Main St",
		"Thought: Do I need to use a tool? No\nFinal Answer: Cash or Credit card?",
		"Thought: Do I need to use a tool? Yes\nAction: choose_payment_method\nAction Input: cash",
		"Thought: Do I need to use a tool? No\nFinal Answer: Thank you for your order!",
		"Thought: Do I need to use a tool? Yes\nAction: choose_payment_method\nAction Input: cash",
		"Thought: Do I need to use a tool? No\nFinal Answer: Thank you for your order!",
	}}
	o := newTestOrchestrator(t, store, reasoner, repo)
	ctx := context.Background()

	for _, msg := range []string{"buy airpods pro", "1 Main St"} {
		if _, err := o.HandleMessage(ctx, "session-7", msg); err != nil {
			t.Fatalf("HandleMessage(%q) error = %v", msg, err)
		}
	}

	store.failNextSave()
	if _, err := o.HandleMessage(ctx, "session-7", "cash"); !errors.Is(err, statex.ErrStoreUnavailable) {
		t.Fatalf("expected store error on payment turn, got %v", err)
	}
	saved, err := store.Load(ctx, "session-7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.Checkout.Stage != statex.CheckoutAwaitingPaymentMethod {
		t.Fatalf("expected checkout still awaiting payment, got %+v", saved.Checkout)
	}

	if _, err := o.HandleMessage(ctx, "session-7", "cash"); err != nil {
		t.Fatalf("retried payment error = %v", err)
	}

	orders, err := repo.ListBySession(ctx, "session-7")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order after retry, got %d", len(orders))
	}
	if orders[0].ID.String() != saved.Checkout.ID {
		t.Fatalf("order id %s does not match checkout id %s", orders[0].ID, saved.Checkout.ID)
	}

	saved, err = store.Load(ctx, "session-7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !saved.Cart.IsEmpty() || saved.Checkout.Active() {
		t.Fatalf("expected cart cleared and checkout reset, got %+v %+v", saved.Cart.Items, saved.Checkout)
	}
}

func TestResetAndTranscript(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, statex.NewMemoryStore(), echoReasoner{}, nil)
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "session-4", "hi"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	transcript, err := o.Transcript(ctx, "session-4")
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(transcript) != 2 || transcript[1].Content != "echo hi" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}

	if err := o.Reset(ctx, "session-4"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	transcript, err = o.Transcript(ctx, "session-4")
	if err != nil {
		t.Fatalf("Transcript() after reset error = %v", err)
	}
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript after reset, got %+v", transcript)
	}

	if err := o.Reset(ctx, " "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestHandleMessageSerializesSameSession(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	o := newTestOrchestrator(t, store, echoReasoner{}, nil)
	ctx := context.Background()

	const turns = 8
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := o.HandleMessage(ctx, "shared", fmt.Sprintf("msg %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	saved, err := store.Load(ctx, "shared")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(saved.Transcript) != 2*turns {
		t.Fatalf("expected %d transcript messages, got %d", 2*turns, len(saved.Transcript))
	}
	if len(o.locks.locks) != 0 {
		t.Fatalf("expected session locks released, got %d", len(o.locks.locks))
	}
}
