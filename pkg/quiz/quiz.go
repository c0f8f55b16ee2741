// Package quiz defines the immutable quiz document consumed by the run
// engine. Quizzes are authored externally; this package only parses and
// validates them.
package quiz

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Quiz is an ordered set of questions identified by an opaque ID.
type Quiz struct {
	ID        string            `json:"id" yaml:"id" bson:"id"`
	Title     string            `json:"title" yaml:"title" bson:"title"`
	Source    map[string]string `json:"source,omitempty" yaml:"source,omitempty" bson:"source,omitempty"`
	Questions []Question        `json:"questions" yaml:"questions" bson:"questions"`
}

// Question is a single prompt with its answer options and optional
// dimension/axis metadata used by analysis.
type Question struct {
	ID        string   `json:"id" yaml:"id" bson:"id"`
	Text      string   `json:"text" yaml:"text" bson:"text"`
	Dimension string   `json:"dimension,omitempty" yaml:"dimension,omitempty" bson:"dimension,omitempty"`
	Options   []Option `json:"options" yaml:"options" bson:"options"`
}

// Option is one selectable answer for a question.
type Option struct {
	ID   string `json:"id" yaml:"id" bson:"id"`
	Text string `json:"text" yaml:"text" bson:"text"`
}

// ParseJSON parses and validates a quiz from its JSON document.
func ParseJSON(data []byte) (*Quiz, error) {
	var q Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parsing quiz json: %w", err)
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	return &q, nil
}

// ParseYAML parses and validates a quiz from a YAML document.
func ParseYAML(data []byte) (*Quiz, error) {
	var q Quiz
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parsing quiz yaml: %w", err)
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	return &q, nil
}

// Validate checks the structural invariants of a quiz document.
func (q *Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("quiz id is required")
	}

	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %q has no questions", q.ID)
	}

	seen := make(map[string]struct{}, len(q.Questions))

	for i, question := range q.Questions {
		if question.ID == "" {
			return fmt.Errorf("quiz %q: question %d has no id", q.ID, i)
		}

		if _, exists := seen[question.ID]; exists {
			return fmt.Errorf("quiz %q: duplicate question id %q", q.ID, question.ID)
		}

		seen[question.ID] = struct{}{}

		if question.Text == "" {
			return fmt.Errorf("quiz %q: question %q has no text", q.ID, question.ID)
		}

		if len(question.Options) == 0 {
			return fmt.Errorf("quiz %q: question %q has no options", q.ID, question.ID)
		}
	}

	return nil
}

// JSON returns the canonical JSON encoding of the quiz.
func (q *Quiz) JSON() (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encoding quiz: %w", err)
	}

	return string(data), nil
}

// Question returns the question with the given ID, or nil.
func (q *Quiz) Question(id string) *Question {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i]
		}
	}

	return nil
}
