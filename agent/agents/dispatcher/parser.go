package dispatcher

import (
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

type StepKind int

const (
	// StepFinal ends the turn with Answer.
	StepFinal StepKind = iota + 1
	// StepAction invokes Action with Input.
	StepAction
	// StepNoop names no tool and gives no answer ("Action: None").
	StepNoop
)

// Step is one parsed reasoning output.
type Step struct {
	Kind    StepKind
	Thought string
	Action  string
	Input   string
	Answer  string
	// Log is the text kept for the scratchpad, cut before any Observation.
	Log string
}

var (
	observationRe = regexp.MustCompile(`(?im)^[ \t]*Observation[ \t]*:`)
	finalAnswerRe = regexp.MustCompile(`(?is)Final[ \t]*Answer[ \t]*:[ \t]*(.*)`)
	actionRe      = regexp.MustCompile(`(?im)^[ \t]*Action[ \t]*\d*[ \t]*:[ \t]*(.*?)[ \t]*$`)
	actionInputRe = regexp.MustCompile(`(?is)Action[ \t]*\d*[ \t]*Input[ \t]*\d*[ \t]*:[ \t]*(.*)`)
	thoughtRe     = regexp.MustCompile(`(?im)^[ \t]*Thought[ \t]*:[ \t]*(.*?)[ \t]*$`)
)

// ParseStep reads Thought / Action / Action Input / Final Answer text.
// Anything the model wrote from the first Observation on is its own guess
// and is ignored, except that a Final Answer there still ends a turn that
// named no tool.
func ParseStep(text string) (Step, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Step{}, fmt.Errorf("%w: empty output", contractx.ErrParse)
	}

	head := text
	if loc := observationRe.FindStringIndex(text); loc != nil {
		head = strings.TrimSpace(text[:loc[0]])
	}

	step := Step{Log: head}
	if m := thoughtRe.FindStringSubmatch(head); m != nil {
		step.Thought = m[1]
	}

	action, hasAction := parseAction(head)
	finalInHead := finalAnswerRe.FindStringSubmatch(head)

	switch {
	case hasAction && finalInHead != nil:
		return Step{}, fmt.Errorf("%w: output has both Action %q and a Final Answer", contractx.ErrParse, action)
	case hasAction:
		step.Kind = StepAction
		step.Action = action
		if m := actionInputRe.FindStringSubmatch(head); m != nil {
			step.Input = strings.TrimSpace(m[1])
		}
		if isNone(step.Input) {
			step.Input = ""
		}
		return step, nil
	}

	if m := finalAnswerRe.FindStringSubmatch(text); m != nil {
		answer := strings.TrimSpace(m[1])
		if answer == "" {
			return Step{}, fmt.Errorf("%w: Final Answer is empty", contractx.ErrParse)
		}
		step.Kind = StepFinal
		step.Answer = answer
		return step, nil
	}

	if actionRe.MatchString(head) {
		step.Kind = StepNoop
		return step, nil
	}
	return Step{}, fmt.Errorf("%w: no Action or Final Answer in %q", contractx.ErrParse, truncate(text, 200))
}

// parseAction returns the named tool, ignoring "None" placeholders.
func parseAction(head string) (string, bool) {
	m := actionRe.FindStringSubmatch(head)
	if m == nil || isNone(m[1]) {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func isNone(s string) bool {
	s = strings.Trim(strings.TrimSpace(s), "\"'`.")
	return s == "" || strings.EqualFold(s, "none") || strings.EqualFold(s, "n/a")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
