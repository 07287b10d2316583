package nodes

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

// RecordUserTurn snapshots the history window, then appends the user message.
func RecordUserTurn(in *GraphState, historyWindow int) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.History = in.Session.History(historyWindow)
	in.Session.AppendMessage(statex.RoleUser, in.Text, in.Now)
	return in, nil
}

func RecordAssistantTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Session.AppendMessage(statex.RoleAssistant, in.Reply, in.Now)
	return in, nil
}
