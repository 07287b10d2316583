package prompt

import (
	"strings"
	"testing"
)

func TestLoadPromptSetHasPlaceholders(t *testing.T) {
	t.Parallel()

	set, err := LoadPromptSet()
	if err != nil {
		t.Fatalf("LoadPromptSet() error = %v", err)
	}
	for _, v := range []string{VarTools, VarToolNames, VarPending} {
		if !strings.Contains(set.React, "{"+v+"}") {
			t.Fatalf("react prompt is missing {%s}", v)
		}
	}
	for _, v := range []string{VarInput, VarScratchpad} {
		if !strings.Contains(UserTemplate, "{"+v+"}") {
			t.Fatalf("user template is missing {%s}", v)
		}
	}
}
