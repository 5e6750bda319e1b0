package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitReasoning(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		answer    string
		reasoning string
		complete  bool
	}{
		{"no tags", "plain answer", "plain answer", "", true},
		{"empty", "", "", "", true},
		{"think block", "<think>check the docs</think>\nUse close(ch).", "Use close(ch).", "check the docs", true},
		{"thinking tag case-insensitive", "<Thinking>a</Thinking>b", "b", "a", true},
		{"two blocks", "<think>one</think>x<thought>two</thought>y", "xy", "one\n\ntwo", true},
		{"unclosed", "intro <think>still going", "intro", "still going", false},
		{"final markup dropped", "<think>r</think><final>done</final>", "done", "r", true},
		{"tag in inline code", "use `<think>` tags", "use `<think>` tags", "", true},
		{"unclosed only", "<think>half a thought", "", "half a thought", false},
		{"surrounding space trimmed", "<think>y</think>  x ", "x", "y", true},
		{"tag in fence", "```\n<think>x</think>\n```\n", "```\n<think>x</think>\n```", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, reasoning, complete := SplitReasoning(tt.in)
			assert.Equal(t, tt.answer, answer)
			assert.Equal(t, tt.reasoning, reasoning)
			assert.Equal(t, tt.complete, complete)
		})
	}
}
