package quiz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "id": "political-compass",
  "title": "Political Compass",
  "questions": [
    {
      "id": "q1",
      "text": "Taxes should be lower.",
      "options": [
        {"id": "agree", "text": "Agree"},
        {"id": "disagree", "text": "Disagree"}
      ]
    },
    {
      "id": "q2",
      "text": "Markets regulate themselves.",
      "dimension": "economic",
      "options": [
        {"id": "agree", "text": "Agree"},
        {"id": "disagree", "text": "Disagree"}
      ]
    }
  ]
}`

func TestParseJSON(t *testing.T) {
	q, err := ParseJSON([]byte(validJSON))
	require.NoError(t, err)

	assert.Equal(t, "political-compass", q.ID)
	assert.Len(t, q.Questions, 2)
	assert.Equal(t, "economic", q.Questions[1].Dimension)
}

func TestParseYAML(t *testing.T) {
	doc := `
id: mini
title: Mini Quiz
questions:
  - id: q1
    text: Pick one.
    options:
      - id: a
        text: Option A
      - id: b
        text: Option B
`

	q, err := ParseYAML([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "mini", q.ID)
	require.Len(t, q.Questions, 1)
	assert.Len(t, q.Questions[0].Options, 2)
}

func TestValidate(t *testing.T) {
	base := func() *Quiz {
		q, err := ParseJSON([]byte(validJSON))
		require.NoError(t, err)

		return q
	}

	tests := []struct {
		name   string
		mutate func(*Quiz)
	}{
		{"missing id", func(q *Quiz) { q.ID = "" }},
		{"no questions", func(q *Quiz) { q.Questions = nil }},
		{"question without id", func(q *Quiz) { q.Questions[0].ID = "" }},
		{"duplicate question id", func(q *Quiz) { q.Questions[1].ID = q.Questions[0].ID }},
		{"question without text", func(q *Quiz) { q.Questions[0].Text = "" }},
		{"question without options", func(q *Quiz) { q.Questions[0].Options = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base()
			tt.mutate(q)

			assert.Error(t, q.Validate())
		})
	}
}

func TestQuestionLookup(t *testing.T) {
	q, err := ParseJSON([]byte(validJSON))
	require.NoError(t, err)

	assert.NotNil(t, q.Question("q2"))
	assert.Nil(t, q.Question("missing"))
}

func TestJSONRoundTrip(t *testing.T) {
	q, err := ParseJSON([]byte(validJSON))
	require.NoError(t, err)

	doc, err := q.JSON()
	require.NoError(t, err)

	again, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, q.ID, again.ID)
	assert.Len(t, again.Questions, len(q.Questions))
}
