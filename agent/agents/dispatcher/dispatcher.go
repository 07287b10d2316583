package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const DefaultMaxIterations = 5

const (
	replyLoopExceeded    = "Sorry, I couldn't complete your request. Please try asking for one thing at a time."
	replyReasoningFailed = "Sorry, I'm having trouble answering right now. Please try again in a moment."
	observationNoAction  = "No tool was used. If no tool is needed, reply with a Final Answer."
)

// Request is one user turn handed to the dispatcher.
type Request struct {
	SessionID string
	Input     string
	History   []contractx.Turn
	Tools     contractx.ToolExecutor
	// Pending is re-read before every reasoning step because tools can
	// change checkout progress mid-turn.
	Pending func() string
}

// Result is the outcome of one turn. Reply is always set.
type Result struct {
	Reply       string                     `json:"reply"`
	Outcome     contractx.Outcome          `json:"outcome"`
	Trace       []contractx.DispatchState  `json:"trace"`
	Invocations []contractx.ToolInvocation `json:"invocations,omitempty"`
	Iterations  int                        `json:"iterations"`
	Err         error                      `json:"-"`
}

type Dispatcher struct {
	reasoner      contractx.Reasoner
	maxIterations int
	toolNames     []string
}

type Option func(*Dispatcher)

func WithMaxIterations(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxIterations = n
		}
	}
}

// WithToolNames sets the names suggested when the reasoning engine picks an unknown tool.
func WithToolNames(names []string) Option {
	return func(d *Dispatcher) {
		d.toolNames = append([]string(nil), names...)
	}
}

func New(reasoner contractx.Reasoner, opts ...Option) (*Dispatcher, error) {
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	d := &Dispatcher{
		reasoner:      reasoner,
		maxIterations: DefaultMaxIterations,
	}
	for _, kind := range contractx.ToolKinds() {
		d.toolNames = append(d.toolNames, kind.String())
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Dispatch runs Reasoning and ToolInvocation until a final answer, a parse
// error, a reasoning failure or the iteration bound. It never fails: every
// ending produces a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	res := Result{Trace: []contractx.DispatchState{contractx.StateIdle, contractx.StateReceivedInput}}
	logger := log.With().Str("session_id", req.SessionID).Logger()

	var scratchpad strings.Builder
	for res.Iterations < d.maxIterations {
		res.Iterations++
		res.Trace = append(res.Trace, contractx.StateReasoning)

		pending := ""
		if req.Pending != nil {
			pending = req.Pending()
		}
		text, err := d.reasoner.Reason(ctx, contractx.ReasonRequest{
			Input:      req.Input,
			History:    req.History,
			Scratchpad: scratchpad.String(),
			Pending:    pending,
		})
		if err != nil {
			logger.Error().Err(err).Int("iteration", res.Iterations).Msg("reasoning failed")
			return d.finish(res, replyReasoningFailed, contractx.OutcomeReasoningFailed, err)
		}

		step, err := ParseStep(text)
		if err != nil {
			logger.Warn().Err(err).Int("iteration", res.Iterations).Msg("unparseable reasoning output")
			return d.finish(res, "Parsing error encountered: "+err.Error(), contractx.OutcomeParseError, err)
		}

		switch step.Kind {
		case StepFinal:
			return d.finish(res, step.Answer, contractx.OutcomeAnswered, nil)
		case StepNoop:
			appendObservation(&scratchpad, step.Log, observationNoAction)
			continue
		}

		res.Trace = append(res.Trace, contractx.StateToolInvocation)
		inv := d.invoke(ctx, req.Tools, step)
		res.Invocations = append(res.Invocations, inv)
		logger.Info().
			Int("iteration", res.Iterations).
			Str("tool", inv.Tool).
			Bool("failed", inv.Result.Failed()).
			Msg("tool invoked")

		appendObservation(&scratchpad, step.Log, inv.Result.Text())
	}

	logger.Warn().Int("max_iterations", d.maxIterations).Msg("tool loop bound reached")
	return d.finish(res, replyLoopExceeded, contractx.OutcomeLoopExceeded,
		fmt.Errorf("%w: %d iterations", contractx.ErrToolLoopExceeded, d.maxIterations))
}

func (d *Dispatcher) invoke(ctx context.Context, tools contractx.ToolExecutor, step Step) contractx.ToolInvocation {
	kind, ok := contractx.ParseToolKind(step.Action)
	if !ok || tools == nil {
		return contractx.ToolInvocation{
			Tool:  step.Action,
			Input: step.Input,
			Result: contractx.ToolResult{
				Tool:  step.Action,
				Error: fmt.Sprintf("%s is not a valid tool, try one of [%s].", step.Action, strings.Join(d.toolNames, ", ")),
				Code:  contractx.CodeUnknownTool,
			},
		}
	}

	result := tools.Execute(ctx, contractx.ToolRequest{Kind: kind, Input: step.Input})
	return contractx.ToolInvocation{
		Tool:   kind.String(),
		Input:  step.Input,
		Result: result,
	}
}

func (d *Dispatcher) finish(res Result, reply string, outcome contractx.Outcome, err error) Result {
	res.Reply = reply
	res.Outcome = outcome
	res.Err = err
	res.Trace = append(res.Trace, contractx.StateFinalAnswer, contractx.StateIdle)
	return res
}

func appendObservation(b *strings.Builder, stepLog, observation string) {
	b.WriteString(stepLog)
	b.WriteString("\nObservation: ")
	b.WriteString(observation)
	b.WriteString("\nThought: ")
}
