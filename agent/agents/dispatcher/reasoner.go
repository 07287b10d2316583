package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	promptx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/prompt"
	toolx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/tool"
)

const (
	defaultReasonTimeout = 30 * time.Second
	retryBackoff         = 250 * time.Millisecond
	noPendingCheckout    = "No checkout in progress."
)

// StopSequences keep the model from writing its own Observation.
var StopSequences = []string{"\nObservation:", "\n\tObservation:"}

var _ contractx.Reasoner = (*LLMReasoner)(nil)

// LLMReasoner renders the ReAct prompt and asks the chat model for the next step.
type LLMReasoner struct {
	runner    compose.Runnable[map[string]any, *schema.Message]
	tools     string
	toolNames string
	timeout   time.Duration
	attempts  int
	backoff   time.Duration
}

type ReasonerOption func(*LLMReasoner)

// WithRetry sets the per-attempt timeout and how many times a failed call is retried.
func WithRetry(timeout time.Duration, retries int) ReasonerOption {
	return func(r *LLMReasoner) {
		if timeout > 0 {
			r.timeout = timeout
		}
		if retries >= 0 {
			r.attempts = retries + 1
		}
	}
}

func withBackoff(d time.Duration) ReasonerOption {
	return func(r *LLMReasoner) {
		r.backoff = d
	}
}

func NewLLMReasoner(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	prompts promptx.PromptSet,
	infos []*schema.ToolInfo,
	opts ...ReasonerOption,
) (*LLMReasoner, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(prompts.React) == "" {
		return nil, fmt.Errorf("%w: react", contractx.ErrPromptMissing)
	}

	runner, err := compileReasonerGraph(ctx, chatModel, prompts.React)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	r := &LLMReasoner{
		runner:    runner,
		tools:     toolx.Describe(infos),
		toolNames: strings.Join(toolx.Names(infos), ", "),
		timeout:   defaultReasonTimeout,
		attempts:  1,
		backoff:   retryBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *LLMReasoner) Reason(ctx context.Context, req contractx.ReasonRequest) (string, error) {
	pending := strings.TrimSpace(req.Pending)
	if pending == "" {
		pending = noPendingCheckout
	}
	vars := map[string]any{
		promptx.VarTools:       r.tools,
		promptx.VarToolNames:   r.toolNames,
		promptx.VarPending:     pending,
		promptx.VarInput:       req.Input,
		promptx.VarScratchpad:  req.Scratchpad,
		promptx.VarChatHistory: historyMessages(req.History),
	}

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", contractx.ErrReasoningUnavailable, ctx.Err())
			case <-time.After(r.backoff * time.Duration(attempt-1)):
			}
		}

		out, err := r.invoke(ctx, vars)
		if err == nil {
			return out.Content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("attempts", r.attempts).Msg("reasoning attempt failed")
	}
	return "", fmt.Errorf("%w: %v", contractx.ErrReasoningUnavailable, lastErr)
}

func (r *LLMReasoner) invoke(ctx context.Context, vars map[string]any) (*schema.Message, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.runner.Invoke(attemptCtx, vars,
		compose.WithChatModelOption(einomodel.WithStop(StopSequences)),
	)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("model returned no message")
	}
	return out, nil
}

func historyMessages(turns []contractx.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return msgs
}
