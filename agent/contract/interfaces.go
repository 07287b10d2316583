package contract

import "context"

// Reasoner produces raw Thought/Action/Final Answer text for one reasoning step.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) (string, error)
}

// ToolExecutor runs one tool call. Failures are reported in the result, not as errors.
type ToolExecutor interface {
	Execute(ctx context.Context, req ToolRequest) ToolResult
}
