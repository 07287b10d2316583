package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

var (
	//go:embed template/react.txt
	reactRaw string
)

// Template variables filled on every reasoning step.
const (
	VarTools       = "tools"
	VarToolNames   = "tool_names"
	VarPending     = "pending"
	VarInput       = "input"
	VarScratchpad  = "agent_scratchpad"
	VarChatHistory = "chat_history"
)

// UserTemplate is the per-step user message.
const UserTemplate = "Question: {input}\n{agent_scratchpad}"

// PromptSet holds loaded prompt content.
type PromptSet struct {
	React string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() (PromptSet, error) {
	set := PromptSet{
		React: strings.TrimSpace(reactRaw),
	}
	if set.React == "" {
		return PromptSet{}, fmt.Errorf("%w: react", contractx.ErrPromptMissing)
	}
	return set, nil
}
