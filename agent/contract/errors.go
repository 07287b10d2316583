package contract

import "errors"

var (
	ErrModelInvoke      = errors.New("model invoke failed")
	ErrValidation       = errors.New("validation failed")
	ErrPromptMissing    = errors.New("required prompt is missing")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrPriceError       = errors.New("invalid price")
	ErrParse            = errors.New("could not parse reasoning output")
	ErrToolLoopExceeded = errors.New("tool call limit exceeded")

	ErrSearchUnavailable    = errors.New("search unavailable")
	ErrReasoningUnavailable = errors.New("reasoning engine unavailable")
)
