package nodes

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: dispatcher returned empty reply", contractx.ErrValidation)
	}
	return GraphOutput{
		SessionID: in.SessionID,
		Reply:     in.Reply,
		Result:    in.Result,
	}, nil
}
