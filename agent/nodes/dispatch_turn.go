package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/dispatcher"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	toolx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/tool"
)

// TurnDispatcher runs the reasoning loop for one turn.
type TurnDispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

var _ TurnDispatcher = (*dispatcher.Dispatcher)(nil)

// TurnDeps are the collaborators the commerce tools need for one turn.
type TurnDeps struct {
	Dispatcher TurnDispatcher
	Searcher   index.Searcher
	Orders     *order.Service
	SearchTopK int
}

func DispatchTurn(ctx context.Context, in *GraphState, deps TurnDeps) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	session := in.Session
	tools := toolx.New(deps.Searcher, session, deps.Orders,
		toolx.WithSearchTopK(deps.SearchTopK),
		toolx.WithClock(func() time.Time { return in.Now }),
	)

	in.Result = deps.Dispatcher.Dispatch(ctx, dispatcher.Request{
		SessionID: in.SessionID,
		Input:     in.Text,
		History:   in.History,
		Tools:     tools,
		Pending:   session.Checkout.Pending,
	})
	in.Reply = strings.TrimSpace(in.Result.Reply)
	return in, nil
}
