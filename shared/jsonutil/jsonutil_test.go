package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", "Here is the plan: {\"a\":1} hope it helps", `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"no object", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractObject(tt.input))
		})
	}
}

func TestUnmarshalObject(t *testing.T) {
	var out struct {
		ToolUse []struct {
			ToolName string `json:"tool_name"`
		} `json:"tool_use"`
	}
	raw := "```json\n{\"tool_use\":[{\"tool_name\":\"memory_search\"}]}\n```"
	require.NoError(t, UnmarshalObject(raw, &out))
	require.Len(t, out.ToolUse, 1)
	assert.Equal(t, "memory_search", out.ToolUse[0].ToolName)
}
