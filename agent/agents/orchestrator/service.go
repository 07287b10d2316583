package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
	nodex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/nodes"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
	toolx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/tool"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

const (
	DefaultHistoryWindow   = 10
	DefaultTranscriptLimit = 200
)

type Config struct {
	SearchTopK    int
	HistoryWindow int
	// TranscriptLimit caps stored messages per session; 0 uses the default, < 0 keeps all.
	TranscriptLimit int
}

// Orchestrator runs one conversational turn per call. Turns for the same
// session are serialized; different sessions run concurrently.
type Orchestrator struct {
	store    statex.Store
	turnDeps nodex.TurnDeps

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	historyWindow   int
	transcriptLimit int
	locks           *sessionLocks

	now func() time.Time
}

func New(
	store statex.Store,
	dispatcher nodex.TurnDispatcher,
	searcher index.Searcher,
	orders *order.Service,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if searcher == nil {
		return nil, errors.New("catalog searcher is required")
	}
	if orders == nil {
		orders = order.NewService(nil)
	}

	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	limit := cfg.TranscriptLimit
	if limit == 0 {
		limit = DefaultTranscriptLimit
	}

	o := &Orchestrator{
		store: store,
		turnDeps: nodex.TurnDeps{
			Dispatcher: dispatcher,
			Searcher:   searcher,
			Orders:     orders,
			SearchTopK: toolx.ClampTopK(cfg.SearchTopK),
		},
		historyWindow:   window,
		transcriptLimit: limit,
		locks:           newSessionLocks(),
		now:             time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (string, error) {
	out, err := o.HandleTurn(ctx, sessionID, text)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// HandleTurn is HandleMessage with the dispatcher trace attached.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID string, text string) (nodex.GraphOutput, error) {
	unlock := o.locks.lock(strings.TrimSpace(sessionID))
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return nodex.GraphOutput{}, err
	}

	log.Debug().
		Str("session_id", out.SessionID).
		Str("outcome", string(out.Result.Outcome)).
		Int("iterations", out.Result.Iterations).
		Int("tool_calls", len(out.Result.Invocations)).
		Msg("turn handled")
	return out, nil
}

// Reset drops the session so the next message starts with an empty cart.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}

	unlock := o.locks.lock(sessionID)
	defer unlock()

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	return nil
}

// Transcript returns the stored conversation; unknown sessions have none.
func (o *Orchestrator) Transcript(ctx context.Context, sessionID string) ([]statex.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	st, err := o.store.Load(ctx, sessionID)
	if errors.Is(err, statex.ErrStateNotFound) {
		return []statex.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return st.Transcript, nil
}

// Orders lists the orders the session has placed, oldest first.
func (o *Orchestrator) Orders(ctx context.Context, sessionID string) ([]order.Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	orders, err := o.turnDeps.Orders.Orders(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", sessionID, err)
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return orders, nil
}

type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
