package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/dispatcher"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

var testNow = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	loadState *statex.SessionState
	loadErr   error
	saveErr   error
	saved     []*statex.SessionState
}

func (f *fakeStore) Load(ctx context.Context, sessionID string) (*statex.SessionState, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.loadState == nil {
		return nil, statex.ErrStateNotFound
	}
	return f.loadState, nil
}

func (f *fakeStore) Save(ctx context.Context, st *statex.SessionState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, st)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	return nil
}

type fakeDispatcher struct {
	reply string
	reqs  []dispatcher.Request
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result {
	f.reqs = append(f.reqs, req)
	return dispatcher.Result{Reply: f.reply, Outcome: contractx.OutcomeAnswered}
}

type emptySearcher struct{}

func (emptySearcher) Search(ctx context.Context, query string, k int) ([]catalog.Product, error) {
	return nil, nil
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	now := func() time.Time { return testNow }
	if _, err := ValidateRequest(GraphInput{SessionID: " ", Text: "hi"}, now); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := ValidateRequest(GraphInput{SessionID: "s1", Text: "\n"}, now); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	st, err := ValidateRequest(GraphInput{SessionID: " s1 ", Text: " hi "}, now)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.SessionID != "s1" || st.Text != "hi" || !st.Now.Equal(testNow) {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestLoadOrCreateState(t *testing.T) {
	t.Parallel()

	st, err := LoadOrCreateState(context.Background(), &GraphState{SessionID: "s1", Now: testNow}, &fakeStore{})
	if err != nil {
		t.Fatalf("LoadOrCreateState() error = %v", err)
	}
	if st.Session == nil || st.Session.SessionID != "s1" || !st.Session.Cart.IsEmpty() {
		t.Fatalf("expected fresh session, got %+v", st.Session)
	}

	boom := errors.New("boom")
	_, err = LoadOrCreateState(context.Background(), &GraphState{SessionID: "s1"}, &fakeStore{loadErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestTurnNodes(t *testing.T) {
	t.Parallel()

	session := statex.NewSessionState("s1", testNow)
	session.AppendMessage(statex.RoleUser, "earlier question", testNow)
	session.AppendMessage(statex.RoleAssistant, "earlier answer", testNow)

	in := &GraphState{SessionID: "s1", Text: "find a phone", Now: testNow, Session: session}
	in, err := RecordUserTurn(in, 10)
	if err != nil {
		t.Fatalf("RecordUserTurn() error = %v", err)
	}
	if len(in.History) != 2 {
		t.Fatalf("history must exclude the current message, got %+v", in.History)
	}

	d := &fakeDispatcher{reply: "  Here is a phone.  "}
	in, err = DispatchTurn(context.Background(), in, TurnDeps{Dispatcher: d, Searcher: emptySearcher{}})
	if err != nil {
		t.Fatalf("DispatchTurn() error = %v", err)
	}
	if in.Reply != "Here is a phone." {
		t.Fatalf("unexpected reply: %q", in.Reply)
	}
	if len(d.reqs) != 1 || d.reqs[0].Input != "find a phone" || d.reqs[0].Tools == nil {
		t.Fatalf("unexpected dispatch request: %+v", d.reqs)
	}
	if got := d.reqs[0].Pending(); got != "" {
		t.Fatalf("expected no pending checkout, got %q", got)
	}

	in, err = RecordAssistantTurn(in)
	if err != nil {
		t.Fatalf("RecordAssistantTurn() error = %v", err)
	}
	if n := len(in.Session.Transcript); n != 4 {
		t.Fatalf("expected 4 transcript messages, got %d", n)
	}

	store := &fakeStore{}
	if _, err := ValidateAndSaveState(context.Background(), in, store, 0); err != nil {
		t.Fatalf("ValidateAndSaveState() error = %v", err)
	}
	if len(store.saved) != 1 || !store.saved[0].UpdatedAt.Equal(testNow) {
		t.Fatalf("unexpected saves: %+v", store.saved)
	}

	out, err := FinalizeReply(in)
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if out.Reply != "Here is a phone." || out.SessionID != "s1" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestFinalizeReplyEmpty(t *testing.T) {
	t.Parallel()

	_, err := FinalizeReply(&GraphState{SessionID: "s1"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNodesRejectNilSession(t *testing.T) {
	t.Parallel()

	if _, err := RecordUserTurn(&GraphState{}, 10); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("RecordUserTurn: expected ErrValidation, got %v", err)
	}
	if _, err := DispatchTurn(context.Background(), &GraphState{}, TurnDeps{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("DispatchTurn: expected ErrValidation, got %v", err)
	}
	if _, err := ValidateAndSaveState(context.Background(), nil, &fakeStore{}, 0); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("ValidateAndSaveState: expected ErrValidation, got %v", err)
	}
}

func TestValidateAndSaveStateTrimsTranscript(t *testing.T) {
	t.Parallel()

	session := statex.NewSessionState("s1", testNow)
	for i := 0; i < 5; i++ {
		session.AppendMessage(statex.RoleUser, "q", testNow)
		session.AppendMessage(statex.RoleAssistant, "a", testNow)
	}

	store := &fakeStore{}
	in := &GraphState{SessionID: "s1", Now: testNow, Session: session}
	if _, err := ValidateAndSaveState(context.Background(), in, store, 4); err != nil {
		t.Fatalf("ValidateAndSaveState() error = %v", err)
	}
	if n := len(store.saved[0].Transcript); n != 4 {
		t.Fatalf("expected 4 stored messages, got %d", n)
	}

	boom := errors.New("boom")
	if _, err := ValidateAndSaveState(context.Background(), in, &fakeStore{saveErr: boom}, 4); !errors.Is(err, boom) {
		t.Fatalf("expected save error, got %v", err)
	}
}
