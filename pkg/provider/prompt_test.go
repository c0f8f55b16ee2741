package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPrompt(t *testing.T) {
	prompt := renderPrompt(testQuestion, AskOptions{
		QuizTitle: "Compass",
		Number:    3,
		Total:     10,
	})

	assert.Contains(t, prompt, `"Compass"`)
	assert.Contains(t, prompt, "Question 3 of 10")
	assert.Contains(t, prompt, "Taxes should be lower.")
	assert.Contains(t, prompt, "- agree: Agree")
	assert.Contains(t, prompt, "- disagree: Disagree")
	assert.Contains(t, prompt, `"choice"`)
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		content string
		choice  string
		refused bool
	}{
		{
			name:    "plain json",
			content: `{"choice":"agree","reason":"yes","refused":false}`,
			choice:  "agree",
		},
		{
			name: "fenced json",
			content: "Here is my answer:\n```json\n" +
				`{"choice":"disagree","reason":"no"}` + "\n```",
			choice: "disagree",
		},
		{
			name:    "explicit refusal",
			content: `{"choice":"","reason":"","refused":true}`,
			refused: true,
		},
		{
			name:    "empty choice implies refusal",
			content: `{"choice":"","reason":"cannot pick"}`,
			refused: true,
		},
		{
			name:    "prose only",
			content: "I cannot answer that.",
			refused: true,
		},
		{
			name:    "braces inside strings",
			content: `{"choice":"agree","reason":"the {bracket} case"}`,
			choice:  "agree",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer := parseAnswer(tt.content)

			assert.Equal(t, tt.choice, answer.Choice)
			assert.Equal(t, tt.refused, answer.Refused)
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	raw, ok := extractJSONObject(`noise {"a":{"b":1}} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1}}`, raw)

	_, ok = extractJSONObject("no json here")
	assert.False(t, ok)

	_, ok = extractJSONObject(`{"unterminated": true`)
	assert.False(t, ok)
}
