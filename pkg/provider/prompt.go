package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adamd9/thelastquiz/pkg/quiz"
)

// renderPrompt builds the single-question prompt sent to a model. The
// model is asked to answer as itself and reply with a small JSON object
// so the choice can be extracted mechanically.
func renderPrompt(question *quiz.Question, opts AskOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are taking the quiz %q.\n", opts.QuizTitle)
	fmt.Fprintf(&b, "Question %d of %d:\n\n%s\n\nOptions:\n",
		opts.Number, opts.Total, question.Text)

	for _, opt := range question.Options {
		fmt.Fprintf(&b, "- %s: %s\n", opt.ID, opt.Text)
	}

	b.WriteString(`
Answer as yourself, not as a persona. Reply with a single JSON object and nothing else:
{"choice": "<option id>", "reason": "<one or two sentences>", "additional_thoughts": "<optional>", "refused": false}
Set "refused" to true and leave "choice" empty only if you cannot answer.`)

	return b.String()
}

// rawAnswer is the JSON reply shape requested from the model.
type rawAnswer struct {
	Choice   string `json:"choice"`
	Reason   string `json:"reason"`
	Thoughts string `json:"additional_thoughts"`
	Refused  bool   `json:"refused"`
}

// parseAnswer extracts the structured reply from model output, tolerating
// code fences and surrounding prose. Output that yields no parseable JSON
// object is treated as a refusal, not an error.
func parseAnswer(content string) *Answer {
	raw, ok := extractJSONObject(content)
	if !ok {
		return &Answer{Refused: true, Thoughts: strings.TrimSpace(content)}
	}

	var parsed rawAnswer
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return &Answer{Refused: true, Thoughts: strings.TrimSpace(content)}
	}

	return &Answer{
		Choice:   strings.TrimSpace(parsed.Choice),
		Reason:   strings.TrimSpace(parsed.Reason),
		Thoughts: strings.TrimSpace(parsed.Thoughts),
		Refused:  parsed.Refused || strings.TrimSpace(parsed.Choice) == "",
	}
}

// extractJSONObject returns the first balanced top-level JSON object in
// the text, skipping braces inside string literals.
func extractJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		ch := content[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}

			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}

	return "", false
}
